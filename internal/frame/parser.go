// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/relabs-tech/ground_station/internal/gps"
	"github.com/relabs-tech/ground_station/internal/schema"
)

// Format selects how a raw line is decoded.
type Format string

const (
	FormatDelimited Format = "delimited" // key=value
	FormatJSON      Format = "json"      // {"key": value, ...}
	FormatNMEA      Format = "nmea"      // $GPGGA / $GPRMC sentences
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrMalformedLine     = errors.New("malformed line")
)

// NMEAFields names the schema fields that decoded NMEA sentences fill.
type NMEAFields struct {
	Time       string
	Latitude   string
	Longitude  string
	Altitude   string
	Satellites string
}

// DefaultNMEAFields matches the payload's conventional column names.
var DefaultNMEAFields = NMEAFields{
	Time:       "Time",
	Latitude:   "Latitude",
	Longitude:  "Longitude",
	Altitude:   "gps_altitude",
	Satellites: "gps_sats",
}

// Parser turns one raw line into an Update. The only state it keeps between
// lines is whether a GGA sentence has been seen, so it must not be shared
// between goroutines in NMEA mode.
type Parser struct {
	Format    Format
	Separator string
	Trim      bool
	NMEA      NMEAFields

	sawGGA bool
}

// NewParser returns a parser with the payload's defaults for anything left empty.
func NewParser(format Format, separator string, trim bool) *Parser {
	if separator == "" {
		separator = "="
	}
	return &Parser{
		Format:    format,
		Separator: separator,
		Trim:      trim,
		NMEA:      DefaultNMEAFields,
	}
}

// Parse decodes line. A line that looks like a whole JSON object is decoded
// as JSON whatever the configured format is.
func (p *Parser) Parse(line string) (Update, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty line", ErrMalformedLine)
	}

	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return parseObject(trimmed)
	}

	switch p.Format {
	case FormatDelimited:
		return p.parseDelimited(line)
	case FormatJSON:
		return nil, fmt.Errorf("%w: not a JSON object: %q", ErrMalformedLine, trimmed)
	case FormatNMEA:
		return p.parseNMEA(trimmed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, p.Format)
	}
}

func (p *Parser) parseDelimited(line string) (Update, error) {
	parts := strings.Split(line, p.Separator)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: expected key%svalue, got %d parts: %q",
			ErrMalformedLine, p.Separator, len(parts), line)
	}

	key, value := parts[0], parts[1]
	if p.Trim {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: empty key: %q", ErrMalformedLine, line)
	}
	if err := checkValue(key, value); err != nil {
		return nil, err
	}
	return Delimited{Key: key, Value: value}, nil
}

// parseObject decodes a flat JSON object, keeping keys in document order.
func parseObject(s string) (Update, error) {
	dec := json.NewDecoder(strings.NewReader(s))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: expected JSON object", ErrMalformedLine)
	}

	var fields []Pair
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: object key is not a string", ErrMalformedLine)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: value of %q: %v", ErrMalformedLine, key, err)
		}
		value, err := scalarText(key, raw)
		if err != nil {
			return nil, err
		}
		if err := checkValue(key, value); err != nil {
			return nil, err
		}
		fields = append(fields, Pair{Key: key, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrMalformedLine)
	}

	return Structured{Fields: fields}, nil
}

// scalarText renders a JSON scalar as the text stored in the log.
func scalarText(key string, raw json.RawMessage) (string, error) {
	text := strings.TrimSpace(string(raw))
	switch {
	case text == "null":
		return schema.Missing, nil
	case strings.HasPrefix(text, `"`):
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: value of %q: %v", ErrMalformedLine, key, err)
		}
		return s, nil
	case strings.HasPrefix(text, "{"), strings.HasPrefix(text, "["):
		return "", fmt.Errorf("%w: nested value for %q", ErrMalformedLine, key)
	default:
		// numbers and booleans keep their literal spelling
		return text, nil
	}
}

func (p *Parser) parseNMEA(line string) (Update, error) {
	r, err := gps.ParseSentence(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	// once GGA is flowing it alone carries the boundary; RMC only refreshes
	// the position of the pending frame
	if r.HasGGA {
		p.sawGGA = true
	}
	var fields []Pair
	if r.HasGGA || !p.sawGGA {
		fields = append(fields, Pair{Key: p.NMEA.Time, Value: r.Time})
	}
	fields = append(fields,
		Pair{Key: p.NMEA.Latitude, Value: gps.Coord(r.Latitude)},
		Pair{Key: p.NMEA.Longitude, Value: gps.Coord(r.Longitude)},
	)
	if r.HasGGA {
		fields = append(fields,
			Pair{Key: p.NMEA.Altitude, Value: gps.FormatFloat(r.Altitude)},
			Pair{Key: p.NMEA.Satellites, Value: strconv.FormatInt(r.Satellites, 10)},
		)
	}
	return Structured{Fields: fields}, nil
}

// checkValue enforces the log format: no quoting, so no delimiters or line breaks.
func checkValue(key, value string) error {
	if strings.ContainsAny(value, schema.Delimiter+"\r\n") {
		return fmt.Errorf("%w: value of %q contains a delimiter or line break", ErrMalformedLine, key)
	}
	return nil
}
