// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package frame

import (
	"fmt"

	"github.com/relabs-tech/ground_station/internal/schema"
)

// Accumulator merges successive updates into the in-progress frame. A new
// value for the boundary field closes the previous frame.
//
// Not safe for concurrent use; the ingestion loop owns it.
type Accumulator struct {
	schema   *schema.Schema
	boundary string
	values   []string
	pending  bool
}

// NewAccumulator creates an accumulator. An empty boundary selects the
// schema's first field.
func NewAccumulator(s *schema.Schema, boundary string) (*Accumulator, error) {
	if boundary == "" {
		boundary = s.First()
	}
	if !s.Has(boundary) {
		return nil, fmt.Errorf("boundary field %q is not in the schema", boundary)
	}

	a := &Accumulator{
		schema:   s,
		boundary: boundary,
		values:   make([]string, s.Len()),
	}
	a.reset()
	return a, nil
}

// Boundary is the field whose re-arrival completes a frame.
func (a *Accumulator) Boundary() string { return a.boundary }

// Pending reports whether the in-progress frame holds any value.
func (a *Accumulator) Pending() bool { return a.pending }

// Value returns the in-progress value of field.
func (a *Accumulator) Value(field string) (string, bool) {
	i, ok := a.schema.Index(field)
	if !ok {
		return "", false
	}
	return a.values[i], true
}

// Apply merges u into the frame. When u carries the boundary field and the
// frame already holds data, the frame is committed and reset first; the
// committed row is returned with ok set. An update commits at most once.
// Fields outside the schema are ignored.
func (a *Accumulator) Apply(u Update) (row Row, ok bool) {
	pairs := u.Pairs()

	if a.pending && a.hasBoundary(pairs) {
		row, ok = a.snapshot(), true
		a.reset()
	}

	for _, p := range pairs {
		i, known := a.schema.Index(p.Key)
		if !known {
			continue
		}
		a.values[i] = p.Value
		a.pending = true
	}
	return row, ok
}

// Flush commits whatever is pending. Used only when shutdown flushing is enabled.
func (a *Accumulator) Flush() (Row, bool) {
	if !a.pending {
		return nil, false
	}
	row := a.snapshot()
	a.reset()
	return row, true
}

func (a *Accumulator) hasBoundary(pairs []Pair) bool {
	for _, p := range pairs {
		if p.Key == a.boundary {
			return true
		}
	}
	return false
}

func (a *Accumulator) snapshot() Row {
	row := make(Row, len(a.values))
	copy(row, a.values)
	return row
}

func (a *Accumulator) reset() {
	for i := range a.values {
		a.values[i] = schema.Missing
	}
	a.pending = false
}
