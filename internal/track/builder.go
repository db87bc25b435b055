// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package track keeps the ordered list of position fixes seen in committed
// frames and materializes it as a KML document.
package track

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/relabs-tech/ground_station/internal/frame"
	"github.com/relabs-tech/ground_station/internal/gps"
	"github.com/relabs-tech/ground_station/internal/schema"
)

// Columns names the schema fields that carry a position.
type Columns struct {
	Latitude  string
	Longitude string
	Altitude  string
}

// DefaultColumns are the payload's position fields.
var DefaultColumns = Columns{Latitude: "Latitude", Longitude: "Longitude", Altitude: "Altitude"}

// Builder holds the track history for the process lifetime and rewrites the
// KML file on every commit that yields a fix. The whole document is
// regenerated each time; the fix list grows without bound.
type Builder struct {
	mu    sync.Mutex
	path  string
	lat   int
	lon   int
	alt   int
	fixes []gps.Fix
	log   *zap.Logger
}

// NewBuilder resolves the position columns against the schema.
func NewBuilder(path string, s *schema.Schema, cols Columns, logger *zap.Logger) (*Builder, error) {
	b := &Builder{path: path, log: logger.Named("track")}

	var ok bool
	if b.lat, ok = s.Index(cols.Latitude); !ok {
		return nil, fmt.Errorf("latitude field %q is not in the schema", cols.Latitude)
	}
	if b.lon, ok = s.Index(cols.Longitude); !ok {
		return nil, fmt.Errorf("longitude field %q is not in the schema", cols.Longitude)
	}
	if b.alt, ok = s.Index(cols.Altitude); !ok {
		return nil, fmt.Errorf("altitude field %q is not in the schema", cols.Altitude)
	}
	return b, nil
}

// Path is the KML file location.
func (b *Builder) Path() string { return b.path }

// Load rebuilds the fix history from an existing log, skipping the header
// and any row without a usable position. A missing log is not an error.
func (b *Builder) Load(logPath string) error {
	f, err := os.Open(logPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open log for track rebuild: %w", err)
	}
	defer f.Close()

	var fixes []gps.Fix
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		if fix, ok := b.fixFrom(strings.Split(scanner.Text(), schema.Delimiter)); ok {
			fixes = append(fixes, fix)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan log for track rebuild: %w", err)
	}

	b.mu.Lock()
	b.fixes = fixes
	b.mu.Unlock()

	b.log.Info("track history rebuilt from log", zap.Int("fixes", len(fixes)))
	return nil
}

// Init makes sure a KML document exists: the full track when history was
// loaded, otherwise an empty line string if no file is present yet.
func (b *Builder) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.fixes) > 0 {
		return b.writeLocked()
	}
	if _, err := os.Stat(b.path); err == nil {
		return nil
	}

	doc, err := Render(nil, nil)
	if err != nil {
		return err
	}
	if err := writeAtomic(b.path, doc); err != nil {
		return err
	}
	b.log.Info("initial KML file created", zap.String("path", b.path))
	return nil
}

// Commit derives a fix from row and, when there is one, appends it and
// rewrites the document. It reports whether the row carried a fix.
func (b *Builder) Commit(row frame.Row) (bool, error) {
	fix, ok := b.fixFrom(row)
	if !ok {
		return false, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.fixes = append(b.fixes, fix)
	if err := b.writeLocked(); err != nil {
		return true, err
	}
	b.log.Debug("KML updated", zap.Int("fixes", len(b.fixes)))
	return true, nil
}

// Fixes returns a copy of the history.
func (b *Builder) Fixes() []gps.Fix {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]gps.Fix, len(b.fixes))
	copy(out, b.fixes)
	return out
}

func (b *Builder) writeLocked() error {
	last := b.fixes[len(b.fixes)-1]
	doc, err := Render(b.fixes, &last)
	if err != nil {
		return err
	}
	return writeAtomic(b.path, doc)
}

func (b *Builder) fixFrom(values []string) (gps.Fix, bool) {
	if len(values) <= max(b.lat, b.lon, b.alt) {
		return gps.Fix{}, false
	}
	return gps.FixFromText(values[b.lat], values[b.lon], values[b.alt])
}

// writeAtomic replaces path so readers never observe a half-written document.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp KML: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp KML: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp KML: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp KML: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace KML: %w", err)
	}
	return nil
}
