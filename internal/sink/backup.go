// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sink

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidName is returned for backup names that are not a plain file name
// inside the backup directory.
var ErrInvalidName = errors.New("invalid backup name")

// stampLayout is ISO-8601 UTC with millisecond precision; the separators
// are stripped afterwards.
const stampLayout = "2006-01-02T15:04:05.000Z"

// BackupInfo describes one file in the backup directory.
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Backup copies the configured files to <dir>/<stamp>_<basename>, at most
// once per interval.
type Backup struct {
	mu       sync.Mutex
	dir      string
	files    []string
	interval time.Duration
	last     time.Time
	now      func() time.Time
	log      *zap.Logger
}

// NewBackup creates the backup directory if needed.
func NewBackup(dir string, files []string, interval time.Duration, logger *zap.Logger) (*Backup, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &Backup{
		dir:      dir,
		files:    files,
		interval: interval,
		now:      time.Now,
		log:      logger.Named("backup"),
	}, nil
}

func (b *Backup) Name() string { return "backup" }

// Handle snapshots the files unless the last snapshot is younger than the
// interval.
func (b *Backup) Handle(ev Event) error {
	b.mu.Lock()
	now := b.now()
	if !b.last.IsZero() && now.Sub(b.last) < b.interval {
		b.mu.Unlock()
		b.log.Debug("backup skipped, interval not elapsed")
		return nil
	}
	b.last = now
	b.mu.Unlock()

	_, err := b.Snapshot(now)
	return err
}

// Snapshot copies every configured file now and returns the names written.
// Missing sources are skipped.
func (b *Backup) Snapshot(at time.Time) ([]string, error) {
	stamp := Stamp(at)
	var written []string
	var errs []error
	for _, src := range b.files {
		name := stamp + "_" + filepath.Base(src)
		err := copyFile(src, filepath.Join(b.dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			b.log.Warn("backup source not found", zap.String("file", src))
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		written = append(written, name)
		b.log.Info("backup created", zap.String("file", name))
	}
	return written, errors.Join(errs...)
}

// Stamp formats t the way backup names are prefixed, e.g. 20260102T150405123Z.
func Stamp(t time.Time) string {
	s := t.UTC().Format(stampLayout)
	return strings.NewReplacer("-", "", ":", "", ".", "").Replace(s)
}

// ParseStamp is the inverse of Stamp.
func ParseStamp(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("short backup stamp %q", s)
	}
	return time.Parse("20060102T150405.000Z", s[:len(s)-4]+"."+s[len(s)-4:])
}

// List returns the backups, newest first.
func (b *Backup) List() ([]BackupInfo, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	out := make([]BackupInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		ts := info.ModTime().UTC()
		if prefix, _, ok := strings.Cut(e.Name(), "_"); ok {
			if parsed, err := ParseStamp(prefix); err == nil {
				ts = parsed
			}
		}
		out = append(out, BackupInfo{Filename: e.Name(), Timestamp: ts, Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Filename < out[j].Filename
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// Path resolves a backup name to its location, rejecting anything that
// could escape the backup directory.
func (b *Backup) Path(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(b.dir, name), nil
}

// Delete removes one backup.
func (b *Backup) Delete(name string) error {
	p, err := b.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("delete backup: %w", err)
	}
	b.log.Info("backup deleted", zap.String("file", name))
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".backup-*")
	if err != nil {
		return fmt.Errorf("create backup temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod backup temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close backup temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("rename backup: %w", err)
	}
	return nil
}
