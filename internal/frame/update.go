// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package frame

// Pair is a single field assignment carried by an Update.
type Pair struct {
	Key   string
	Value string
}

// Update is what the parser produces for one line. It is either a Delimited
// or a Structured value; the accumulator only looks at Pairs.
type Update interface {
	Pairs() []Pair
	update()
}

// Delimited is a single "key=value" line.
type Delimited struct {
	Key   string
	Value string
}

func (d Delimited) Pairs() []Pair { return []Pair{{Key: d.Key, Value: d.Value}} }
func (Delimited) update()         {}

// Structured is a self-describing line (a JSON object or a decoded NMEA
// sentence) carrying zero or more fields in document order.
type Structured struct {
	Fields []Pair
}

func (s Structured) Pairs() []Pair { return s.Fields }
func (Structured) update()         {}

// Row is the committed, schema-ordered snapshot of a frame.
type Row []string
