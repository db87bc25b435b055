// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package tail watches the telemetry log and publishes exactly the bytes
// appended since the last observation.
package tail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/relabs-tech/ground_station/internal/broadcast"
)

// fallbackPoll is used when no file-system watcher can be created.
const fallbackPoll = time.Second

// Notifier keeps the tail cursor (last observed log length) and drives a hub.
type Notifier struct {
	mu     sync.Mutex
	path   string
	cursor int64
	hub    *broadcast.Hub
	poll   time.Duration
	log    *zap.Logger
}

// NewNotifier creates a notifier for path. A positive poll adds a timer
// trigger next to file-system events.
func NewNotifier(path string, hub *broadcast.Hub, poll time.Duration, logger *zap.Logger) (*Notifier, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve log path: %w", err)
	}
	return &Notifier{
		path: abs,
		hub:  hub,
		poll: poll,
		log:  logger.Named("tail"),
	}, nil
}

// Cursor is the last observed log length.
func (n *Notifier) Cursor() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cursor
}

// Resync moves the cursor to the current length without publishing. Used at
// startup and right after an explicit log reset.
func (n *Notifier) Resync() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	size, err := n.size()
	if err != nil {
		return err
	}
	n.cursor = size
	return nil
}

// Check compares the log length with the cursor. Growth is read and
// published as one message; a shrink or no change only resynchronizes.
func (n *Notifier) Check() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.checkLocked()
}

func (n *Notifier) checkLocked() error {
	f, err := os.Open(n.path)
	if errors.Is(err, fs.ErrNotExist) {
		n.cursor = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat log: %w", err)
	}
	size := st.Size()

	if size <= n.cursor {
		if size < n.cursor {
			n.log.Info("log shrank, resynchronizing cursor",
				zap.Int64("from", n.cursor), zap.Int64("to", size))
		}
		n.cursor = size
		return nil
	}

	buf := make([]byte, size-n.cursor)
	read, err := f.ReadAt(buf, n.cursor)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read log tail: %w", err)
	}
	if read < len(buf) {
		// truncated between stat and read
		return n.resyncLocked()
	}

	n.hub.Publish(buf)
	n.log.Debug("published log tail",
		zap.Int64("offset", n.cursor), zap.Int("bytes", len(buf)))
	n.cursor = size
	return nil
}

func (n *Notifier) resyncLocked() error {
	size, err := n.size()
	if err != nil {
		return err
	}
	n.cursor = size
	return nil
}

// Join subscribes a new client. Pending growth is first published to the
// existing subscribers, then the log up to the cursor is handed to the new
// one as its snapshot, so no byte reaches it twice.
func (n *Notifier) Join() (*broadcast.Subscriber, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.checkLocked(); err != nil {
		n.log.Warn("tail check before join failed", zap.Error(err))
	}

	snapshot, err := n.snapshotLocked()
	if err != nil {
		return nil, err
	}
	return n.hub.Subscribe(snapshot)
}

// Leave unsubscribes a client.
func (n *Notifier) Leave(s *broadcast.Subscriber) {
	n.hub.Unsubscribe(s)
}

func (n *Notifier) snapshotLocked() ([]byte, error) {
	if n.cursor == 0 {
		return nil, nil
	}
	f, err := os.Open(n.path)
	if err != nil {
		return nil, fmt.Errorf("open log for snapshot: %w", err)
	}
	defer f.Close()

	buf := make([]byte, n.cursor)
	read, err := f.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read log snapshot: %w", err)
	}
	if read < len(buf) {
		n.cursor = int64(read)
	}
	return buf[:read], nil
}

func (n *Notifier) size() (int64, error) {
	st, err := os.Stat(n.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stat log: %w", err)
	}
	return st.Size(), nil
}

// Run drives Check from file-system events on the log's directory and, if
// configured, a poll ticker. It returns when ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	if err := n.Resync(); err != nil {
		return err
	}

	var events <-chan fsnotify.Event
	var errs <-chan error

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(filepath.Dir(n.path))
		if err != nil {
			watcher.Close()
		}
	}
	if err != nil {
		n.log.Warn("file watcher unavailable, polling only", zap.Error(err))
		if n.poll <= 0 {
			n.poll = fallbackPoll
		}
	} else {
		defer watcher.Close()
		events, errs = watcher.Events, watcher.Errors
		n.log.Info("watching log", zap.String("path", n.path))
	}

	var tick <-chan time.Time
	if n.poll > 0 {
		ticker := time.NewTicker(n.poll)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != n.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			n.check()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			n.log.Warn("file watcher error", zap.Error(err))

		case <-tick:
			n.check()
		}
	}
}

func (n *Notifier) check() {
	if err := n.Check(); err != nil {
		n.log.Warn("tail check failed", zap.Error(err))
	}
}
