// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package track

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/relabs-tech/ground_station/internal/gps"
)

// LookAtOffset lifts the camera above the newest fix.
const LookAtOffset = 10.0

type kmlRoot struct {
	XMLName  xml.Name `xml:"http://www.opengis.net/kml/2.2 kml"`
	Document document `xml:"Document"`
}

type document struct {
	LookAt    *lookAt   `xml:"LookAt,omitempty"`
	Name      string    `xml:"name"`
	Style     style     `xml:"Style"`
	Placemark placemark `xml:"Placemark"`
}

type lookAt struct {
	Longitude    float64 `xml:"longitude"`
	Latitude     float64 `xml:"latitude"`
	Altitude     float64 `xml:"altitude"`
	Heading      float64 `xml:"heading"`
	Tilt         float64 `xml:"tilt"`
	Range        float64 `xml:"range"`
	AltitudeMode string  `xml:"altitudeMode"`
}

type style struct {
	ID        string    `xml:"id,attr"`
	LineStyle lineStyle `xml:"LineStyle"`
}

type lineStyle struct {
	Color string `xml:"color"`
	Width int    `xml:"width"`
}

type placemark struct {
	Name       string     `xml:"name"`
	StyleURL   string     `xml:"styleUrl"`
	LineString lineString `xml:"LineString"`
}

type lineString struct {
	Extrude      int    `xml:"extrude"`
	Tessellate   int    `xml:"tessellate"`
	AltitudeMode string `xml:"altitudeMode"`
	Coordinates  string `xml:"coordinates"`
}

// Render produces the full KML document for fixes, with the camera looking
// at last. A nil last omits the LookAt element.
func Render(fixes []gps.Fix, last *gps.Fix) ([]byte, error) {
	tuples := make([]string, len(fixes))
	for i, f := range fixes {
		tuples[i] = f.Tuple()
	}

	root := kmlRoot{
		Document: document{
			Name: "Live Track",
			Style: style{
				ID:        "redLine",
				LineStyle: lineStyle{Color: "ff0000ff", Width: 4},
			},
			Placemark: placemark{
				Name:     "Track",
				StyleURL: "#redLine",
				LineString: lineString{
					AltitudeMode: "absolute",
					Coordinates:  strings.Join(tuples, " "),
				},
			},
		},
	}
	if last != nil {
		root.Document.LookAt = &lookAt{
			Longitude:    last.Longitude,
			Latitude:     last.Latitude,
			Altitude:     last.Altitude + LookAtOffset,
			Heading:      0,
			Tilt:         45,
			Range:        20,
			AltitudeMode: "absolute",
		}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encode KML: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
