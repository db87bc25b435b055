// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

var ErrUnsupportedSentence = errors.New("unsupported NMEA sentence")

// Reading is the subset of an NMEA sentence that maps onto telemetry fields.
type Reading struct {
	Time       string // e.g. "12:34:56.0000"
	Latitude   float64
	Longitude  float64
	Altitude   float64 // GGA only
	Satellites int64   // GGA only
	HasGGA     bool
}

// ParseSentence decodes a GGA or RMC sentence. Other valid sentence types
// return ErrUnsupportedSentence.
func ParseSentence(line string) (Reading, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Reading{}, fmt.Errorf("not an NMEA sentence: %q", line)
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return Reading{}, fmt.Errorf("NMEA parse: %w", err)
	}

	switch sentence.DataType() {
	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		return Reading{
			Time:       m.Time.String(),
			Latitude:   m.Latitude,
			Longitude:  m.Longitude,
			Altitude:   m.Altitude,
			Satellites: m.NumSatellites,
			HasGGA:     true,
		}, nil

	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		if m.Validity != nmea.ValidRMC {
			return Reading{}, fmt.Errorf("RMC fix not valid (validity %q)", m.Validity)
		}
		return Reading{
			Time:      m.Time.String(),
			Latitude:  m.Latitude,
			Longitude: m.Longitude,
		}, nil

	default:
		return Reading{}, fmt.Errorf("%w: %s", ErrUnsupportedSentence, sentence.DataType())
	}
}

// Coord formats a decimal-degree value for the log.
func Coord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
