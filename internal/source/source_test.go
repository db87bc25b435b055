// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// pipePort is a fake serial port backed by an in-memory pipe.
type pipePort struct {
	*io.PipeReader
	w *io.PipeWriter
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{PipeReader: r, w: w}
}

func (p *pipePort) Write(b []byte) (int, error) { return len(b), nil }

type lineLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *lineLog) add(s string) {
	l.mu.Lock()
	l.lines = append(l.lines, s)
	l.mu.Unlock()
}

func (l *lineLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func TestSerial_LinesUntilCancel(t *testing.T) {
	port := newPipePort()
	s := NewSerial("/dev/fake", 9600, 0, zap.NewNop())
	s.Open = func(opts serial.OpenOptions) (io.ReadWriteCloser, error) {
		assert.Equal(t, uint(9600), opts.BaudRate)
		return port, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	var got lineLog
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, got.add) }()

	_, err := port.w.Write([]byte("Time=1\r\n\nTemperature=20\nTi"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(got.get()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"Time=1", "Temperature=20"}, got.get())
}

func TestSerial_OpenFailureIsTerminal(t *testing.T) {
	s := NewSerial("/dev/missing", 9600, 0, zap.NewNop())
	s.Open = func(serial.OpenOptions) (io.ReadWriteCloser, error) {
		return nil, os.ErrNotExist
	}

	err := s.Run(context.Background(), func(string) {})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSerial_Reconnects(t *testing.T) {
	var attempts int
	s := NewSerial("/dev/flaky", 9600, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got lineLog
	s.Open = func(serial.OpenOptions) (io.ReadWriteCloser, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("device busy")
		}
		port := newPipePort()
		go func() {
			port.w.Write([]byte("Time=1\n"))
			port.w.Close()
		}()
		return port, nil
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, got.add) }()

	require.Eventually(t, func() bool { return len(got.get()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, "Time=1", got.get()[0])
}

func TestReplay_DeliversWholeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.txt")
	require.NoError(t, os.WriteFile(path, []byte("Time=1\nTemperature=20\nTime=2"), 0o644))

	var got lineLog
	err := NewReplay(path, 0, zap.NewNop()).Run(context.Background(), got.add)
	require.NoError(t, err)
	assert.Equal(t, []string{"Time=1", "Temperature=20", "Time=2"}, got.get())
}

func TestReplay_MissingFile(t *testing.T) {
	err := NewReplay(filepath.Join(t.TempDir(), "nope"), 0, zap.NewNop()).
		Run(context.Background(), func(string) {})
	assert.Error(t, err)
}

func TestReplay_CancelWhilePaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.txt")
	require.NoError(t, os.WriteFile(path, []byte("a=1\nb=2\nc=3\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	var got lineLog
	handle := func(s string) {
		got.add(s)
		cancel()
	}

	err := NewReplay(path, time.Hour, zap.NewNop()).Run(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, []string{"a=1"}, got.get())
}
