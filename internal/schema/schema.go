// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package schema holds the ordered set of telemetry fields that defines the
// shape of every row written to the log.
package schema

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// Delimiter separates columns in the header and in every row.
	Delimiter = ","
	// Missing is the value of a field that never arrived in a frame.
	Missing = "N/A"
)

// Field is one entry of the schema file.
type Field struct {
	Name    string `yaml:"name" json:"name"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// Schema is the immutable, ordered list of enabled field names.
type Schema struct {
	names []string
	index map[string]int
}

var ErrEmptySchema = errors.New("schema has no enabled fields")

// file mirrors the on-disk layout: {"fields": [{"name": ..., "enabled": ...}]}.
// JSON is valid YAML, so both formats load through the same decoder.
type file struct {
	Fields []Field `yaml:"fields"`
}

// Load reads a schema file and keeps only the enabled fields in declaration order.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}
	return FromFields(f.Fields)
}

// FromFields builds a schema from a field list.
func FromFields(fields []Field) (*Schema, error) {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Enabled {
			names = append(names, f.Name)
		}
	}
	return New(names...)
}

// New builds a schema from names that are all enabled.
func New(names ...string) (*Schema, error) {
	if len(names) == 0 {
		return nil, ErrEmptySchema
	}

	s := &Schema{
		names: make([]string, 0, len(names)),
		index: make(map[string]int, len(names)),
	}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			return nil, fmt.Errorf("schema field name is empty")
		}
		if strings.ContainsAny(n, Delimiter+"\r\n") {
			return nil, fmt.Errorf("schema field name %q contains a delimiter or line break", n)
		}
		if _, dup := s.index[n]; dup {
			return nil, fmt.Errorf("duplicate schema field %q", n)
		}
		s.index[n] = len(s.names)
		s.names = append(s.names, n)
	}
	return s, nil
}

// Names returns a copy of the column names in order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len is the number of columns.
func (s *Schema) Len() int { return len(s.names) }

// Index returns the column of name, or false if the field is not in the schema.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Has reports whether name is a schema field.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// First is the primary field, used as the default frame boundary marker.
func (s *Schema) First() string { return s.names[0] }

// Header is the log's first line, without the line terminator.
func (s *Schema) Header() string {
	return strings.Join(s.names, Delimiter)
}
