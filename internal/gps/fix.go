// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"math"
	"strconv"
	"strings"

	"github.com/relabs-tech/ground_station/internal/schema"
)

// Fix is one point of the track, in the order KML expects it.
type Fix struct {
	Longitude float64 `json:"lon"` // decimal degrees
	Latitude  float64 `json:"lat"` // decimal degrees
	Altitude  float64 `json:"alt"` // meters
}

// FixFromText parses the three coordinate columns of a row. It reports false
// when any of them is missing or not a finite number.
func FixFromText(lat, lon, alt string) (Fix, bool) {
	la, ok := parseCoord(lat)
	if !ok {
		return Fix{}, false
	}
	lo, ok := parseCoord(lon)
	if !ok {
		return Fix{}, false
	}
	al, ok := parseCoord(alt)
	if !ok {
		return Fix{}, false
	}
	return Fix{Longitude: lo, Latitude: la, Altitude: al}, true
}

func parseCoord(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == schema.Missing {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Tuple renders the fix as "lon,lat,alt" with the shortest exact decimals.
func (f Fix) Tuple() string {
	return FormatFloat(f.Longitude) + "," + FormatFloat(f.Latitude) + "," + FormatFloat(f.Altitude)
}

// FormatFloat prints v without trailing zeros (1 → "1", 1.5 → "1.5").
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
