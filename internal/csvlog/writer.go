// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package csvlog maintains the append-only telemetry log: a header line
// followed by one delimited line per committed frame.
package csvlog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/relabs-tech/ground_station/internal/frame"
	"github.com/relabs-tech/ground_station/internal/schema"
)

// Writer owns the log file. All mutations go through one mutex, so appends
// and resets never interleave.
type Writer struct {
	mu      sync.Mutex
	path    string
	header  string
	width   int
	onReset func()
	log     *zap.Logger
}

// NewWriter binds a writer to path; nothing is touched until EnsureInitialized.
func NewWriter(path string, s *schema.Schema, logger *zap.Logger) *Writer {
	return &Writer{
		path:   path,
		header: s.Header() + "\n",
		width:  s.Len(),
		log:    logger.Named("csvlog"),
	}
}

// Path is the log file location.
func (w *Writer) Path() string { return w.path }

// EnsureInitialized creates the log with only the header when it does not
// exist. An existing file is left untouched.
func (w *Writer) EnsureInitialized() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create log %s: %w", w.path, err)
	}

	if _, err := f.WriteString(w.header); err != nil {
		f.Close()
		return fmt.Errorf("write log header: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close log: %w", err)
	}
	w.log.Info("log file created with header", zap.String("path", w.path))
	return nil
}

// Append writes row as one line with a single write on an O_APPEND descriptor.
func (w *Writer) Append(row frame.Row) error {
	if len(row) != w.width {
		return fmt.Errorf("row has %d values, schema has %d columns", len(row), w.width)
	}
	line := Format(row)

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log for append: %w", err)
	}
	n, err := f.WriteString(line)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("append to log (%d of %d bytes written): %w", n, len(line), err)
	}

	w.log.Debug("appended row", zap.Strings("row", row))
	return nil
}

// OnReset registers fn to run after every Reset, while appends are still held
// off. Readers that track the log length use it to resynchronize.
func (w *Writer) OnReset(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReset = fn
}

// Reset replaces the log with a header-only file. The replacement is a
// rename, so readers see either the old log or the header, never an empty file.
func (w *Writer) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.replaceWithHeader(); err != nil {
		return fmt.Errorf("reset log: %w", err)
	}
	if w.onReset != nil {
		w.onReset()
	}
	w.log.Info("log file reset", zap.String("path", w.path))
	return nil
}

func (w *Writer) replaceWithHeader() error {
	tmp, err := os.CreateTemp(filepath.Dir(w.path), "."+filepath.Base(w.path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(w.header); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), w.path)
}

// Format serializes a row as it appears in the log, line terminator included.
func Format(row frame.Row) string {
	return strings.Join(row, schema.Delimiter) + "\n"
}
