// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/ground_station/internal/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New("Time", "Temperature", "Pressure", "Altitude", "Latitude", "Longitude", "gps_altitude", "gps_sats")
	require.NoError(t, err)
	return s
}

func TestParse_Delimited(t *testing.T) {
	p := NewParser(FormatDelimited, "=", true)

	u, err := p.Parse("  Temperature = 21.5 ")
	require.NoError(t, err)
	assert.Equal(t, Delimited{Key: "Temperature", Value: "21.5"}, u)

	raw := NewParser(FormatDelimited, "=", false)
	u, err = raw.Parse("Temperature = 21.5")
	require.NoError(t, err)
	assert.Equal(t, Delimited{Key: "Temperature ", Value: " 21.5"}, u)
}

func TestParse_DelimitedMalformed(t *testing.T) {
	p := NewParser(FormatDelimited, "=", true)

	for _, line := range []string{
		"no separator here",
		"a=b=c",
		"=value",
		"",
		"   ",
		"Temperature=1,2",
	} {
		_, err := p.Parse(line)
		assert.ErrorIs(t, err, ErrMalformedLine, "line %q", line)
	}
}

func TestParse_JSONAnyMode(t *testing.T) {
	for _, format := range []Format{FormatDelimited, FormatJSON, FormatNMEA} {
		p := NewParser(format, "=", true)

		u, err := p.Parse(`{"Time": "12:00:01", "Temperature": 20.5, "gps_sats": 7, "ok": true, "Pressure": null}`)
		require.NoError(t, err, "format %s", format)

		assert.Equal(t, []Pair{
			{Key: "Time", Value: "12:00:01"},
			{Key: "Temperature", Value: "20.5"},
			{Key: "gps_sats", Value: "7"},
			{Key: "ok", Value: "true"},
			{Key: "Pressure", Value: schema.Missing},
		}, u.Pairs())
	}
}

func TestParse_JSONMalformed(t *testing.T) {
	p := NewParser(FormatJSON, "=", true)

	for _, line := range []string{
		`{"Time": }`,
		`{"Time": 1}{"x": 2}`,
		`{"Time": {"h": 1}}`,
		`{"Time": [1, 2]}`,
		`{"Time": "1,2"}`,
		`Time=1`,
	} {
		_, err := p.Parse(line)
		assert.ErrorIs(t, err, ErrMalformedLine, "line %q", line)
	}
}

func TestParse_EmptyObject(t *testing.T) {
	p := NewParser(FormatJSON, "=", true)

	u, err := p.Parse("{}")
	require.NoError(t, err)
	assert.Empty(t, u.Pairs())
}

func TestParse_UnsupportedFormat(t *testing.T) {
	p := NewParser(Format("xml"), "=", true)

	_, err := p.Parse("Time=1")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestParse_NMEA(t *testing.T) {
	p := NewParser(FormatNMEA, "=", true)

	u, err := p.Parse("$GPGGA,034225.077,3356.4650,S,15124.5567,E,1,03,9.7,-25.0,M,21.0,M,,0000*51")
	require.NoError(t, err)

	pairs := u.Pairs()
	require.Len(t, pairs, 5)
	assert.Equal(t, "Time", pairs[0].Key)
	assert.Equal(t, Pair{Key: "Latitude", Value: "-33.941083"}, pairs[1])
	assert.Equal(t, Pair{Key: "Longitude", Value: "151.409278"}, pairs[2])
	assert.Equal(t, Pair{Key: "gps_altitude", Value: "-25"}, pairs[3])
	assert.Equal(t, Pair{Key: "gps_sats", Value: "3"}, pairs[4])

	_, err = p.Parse("Time=1")
	assert.ErrorIs(t, err, ErrMalformedLine)
}

func TestParse_NMEA_GGALeadsBoundary(t *testing.T) {
	const (
		gga = "$GPGGA,034225.077,3356.4650,S,15124.5567,E,1,03,9.7,-25.0,M,21.0,M,,0000*51"
		rmc = "$GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*70"
	)
	keys := func(u Update) []string {
		var out []string
		for _, p := range u.Pairs() {
			out = append(out, p.Key)
		}
		return out
	}
	p := NewParser(FormatNMEA, "", true)

	// RMC alone still carries the time
	u, err := p.Parse(rmc)
	require.NoError(t, err)
	assert.Equal(t, []string{"Time", "Latitude", "Longitude"}, keys(u))

	u, err = p.Parse(gga)
	require.NoError(t, err)
	assert.Contains(t, keys(u), "Time")

	u, err = p.Parse(rmc)
	require.NoError(t, err)
	assert.Equal(t, []string{"Latitude", "Longitude"}, keys(u))

	// one frame per GGA, RMC merges into it
	a, err := NewAccumulator(testSchema(t), "Time")
	require.NoError(t, err)
	commits := 0
	for _, line := range []string{gga, rmc, gga, rmc, gga} {
		u, err := p.Parse(line)
		require.NoError(t, err)
		if _, ok := a.Apply(u); ok {
			commits++
		}
	}
	assert.Equal(t, 2, commits)
	v, _ := a.Value("gps_altitude")
	assert.Equal(t, "-25", v)
}

func TestAccumulator_SingleUpdate(t *testing.T) {
	s := testSchema(t)
	a, err := NewAccumulator(s, "")
	require.NoError(t, err)
	assert.Equal(t, "Time", a.Boundary())

	row, ok := a.Apply(Delimited{Key: "Temperature", Value: "20"})
	assert.False(t, ok)
	assert.Nil(t, row)
	assert.True(t, a.Pending())

	for _, name := range s.Names() {
		v, _ := a.Value(name)
		if name == "Temperature" {
			assert.Equal(t, "20", v)
		} else {
			assert.Equal(t, schema.Missing, v, "field %s", name)
		}
	}
}

func TestAccumulator_FirstBoundaryDoesNotCommit(t *testing.T) {
	a, err := NewAccumulator(testSchema(t), "Time")
	require.NoError(t, err)

	_, ok := a.Apply(Delimited{Key: "Time", Value: "1"})
	assert.False(t, ok)
}

func TestAccumulator_CommitsOnSecondBoundary(t *testing.T) {
	a, err := NewAccumulator(testSchema(t), "Time")
	require.NoError(t, err)

	for _, u := range []Update{
		Delimited{Key: "Time", Value: "1"},
		Delimited{Key: "Temperature", Value: "19"},
		Delimited{Key: "Temperature", Value: "20"},
		Delimited{Key: "Latitude", Value: "48.1"},
		Delimited{Key: "Unknown", Value: "x"},
	} {
		_, ok := a.Apply(u)
		require.False(t, ok, "unexpected commit before the second boundary")
	}

	row, ok := a.Apply(Delimited{Key: "Time", Value: "2"})
	require.True(t, ok)
	assert.Equal(t, Row{"1", "20", "N/A", "N/A", "48.1", "N/A", "N/A", "N/A"}, row)

	// the new frame only holds the boundary value
	v, _ := a.Value("Time")
	assert.Equal(t, "2", v)
	v, _ = a.Value("Temperature")
	assert.Equal(t, schema.Missing, v)
}

func TestAccumulator_UnknownFieldsDoNotMakeFramePending(t *testing.T) {
	a, err := NewAccumulator(testSchema(t), "Time")
	require.NoError(t, err)

	_, ok := a.Apply(Delimited{Key: "bogus", Value: "1"})
	assert.False(t, ok)
	assert.False(t, a.Pending())

	_, ok = a.Apply(Delimited{Key: "Time", Value: "1"})
	assert.False(t, ok)
}

func TestAccumulator_StructuredCommitsOnceBeforeApplying(t *testing.T) {
	a, err := NewAccumulator(testSchema(t), "Time")
	require.NoError(t, err)

	a.Apply(Structured{Fields: []Pair{{Key: "Time", Value: "1"}, {Key: "Temperature", Value: "20"}}})

	row, ok := a.Apply(Structured{Fields: []Pair{{Key: "Temperature", Value: "21"}, {Key: "Time", Value: "2"}}})
	require.True(t, ok)
	assert.Equal(t, "1", row[0])
	assert.Equal(t, "20", row[1])

	v, _ := a.Value("Temperature")
	assert.Equal(t, "21", v)
	v, _ = a.Value("Time")
	assert.Equal(t, "2", v)
}

func TestAccumulator_Flush(t *testing.T) {
	a, err := NewAccumulator(testSchema(t), "Time")
	require.NoError(t, err)

	_, ok := a.Flush()
	assert.False(t, ok)

	a.Apply(Delimited{Key: "Time", Value: "9"})
	row, ok := a.Flush()
	require.True(t, ok)
	assert.Equal(t, "9", row[0])
	assert.False(t, a.Pending())
}

func TestAccumulator_BoundaryMustBeInSchema(t *testing.T) {
	_, err := NewAccumulator(testSchema(t), "Nope")
	assert.Error(t, err)
}

func TestEndToEnd_ParseAndAccumulate(t *testing.T) {
	p := NewParser(FormatDelimited, "=", true)
	a, err := NewAccumulator(testSchema(t), "Time")
	require.NoError(t, err)

	var rows []Row
	for i, line := range []string{"Time=1", "Temperature=20", "Time=2"} {
		u, err := p.Parse(line)
		require.NoError(t, err)
		if row, ok := a.Apply(u); ok {
			rows = append(rows, row)
			assert.Equal(t, 2, i, "commit only after the third line")
		}
	}

	require.Len(t, rows, 1)
	assert.Equal(t, Row{"1", "20", "N/A", "N/A", "N/A", "N/A", "N/A", "N/A"}, rows[0])
}
