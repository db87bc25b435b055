// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package source delivers raw telemetry lines from the serial device or from
// a recorded capture.
package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"
)

// LineFunc receives one line without its terminator. It is called from a
// single goroutine, in arrival order.
type LineFunc func(line string)

// Source produces lines until ctx is cancelled or the input fails.
type Source interface {
	Run(ctx context.Context, handle LineFunc) error
}

// Opener opens the serial device; serial.Open in production.
type Opener func(serial.OpenOptions) (io.ReadWriteCloser, error)

// Serial reads newline-terminated lines from a serial port.
type Serial struct {
	Options   serial.OpenOptions
	Reconnect time.Duration // 0 = give up after the first failure
	Open      Opener
	log       *zap.Logger
}

// NewSerial uses 8N1 framing like the payload's radio link.
func NewSerial(port string, baud int, reconnect time.Duration, logger *zap.Logger) *Serial {
	return &Serial{
		Options: serial.OpenOptions{
			PortName:              port,
			BaudRate:              uint(baud),
			DataBits:              8,
			StopBits:              1,
			MinimumReadSize:       1,
			ParityMode:            serial.PARITY_NONE,
			InterCharacterTimeout: 0,
		},
		Reconnect: reconnect,
		Open:      serial.Open,
		log:       logger.Named("serial"),
	}
}

// Run opens the port and feeds lines to handle. A failed open or read ends
// the run unless Reconnect is set, in which case the port is reopened after
// that delay. Cancelling ctx closes the port and returns nil.
func (s *Serial) Run(ctx context.Context, handle LineFunc) error {
	for {
		err := s.session(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		if s.Reconnect <= 0 {
			s.log.Error("serial source stopped", zap.String("port", s.Options.PortName), zap.Error(err))
			return err
		}
		s.log.Warn("serial source failed, reopening",
			zap.String("port", s.Options.PortName),
			zap.Duration("after", s.Reconnect),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.Reconnect):
		}
	}
}

func (s *Serial) session(ctx context.Context, handle LineFunc) error {
	port, err := s.Open(s.Options)
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", s.Options.PortName, err)
	}
	s.log.Info("serial port opened",
		zap.String("port", s.Options.PortName), zap.Uint("baud", s.Options.BaudRate))

	err = readLines(ctx, port, handle)
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("serial port %s closed by device: %w", s.Options.PortName, err)
	}
	return err
}

// Replay feeds lines from a capture file, optionally paced.
type Replay struct {
	Path     string
	Interval time.Duration
	log      *zap.Logger
}

func NewReplay(path string, interval time.Duration, logger *zap.Logger) *Replay {
	return &Replay{Path: path, Interval: interval, log: logger.Named("replay")}
}

// Run returns nil once the whole file has been delivered.
func (r *Replay) Run(ctx context.Context, handle LineFunc) error {
	f, err := os.Open(r.Path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	r.log.Info("replaying capture", zap.String("path", r.Path))

	paced := handle
	if r.Interval > 0 {
		paced = func(line string) {
			handle(line)
			select {
			case <-ctx.Done():
			case <-time.After(r.Interval):
			}
		}
	}

	err = readLines(ctx, f, paced)
	if errors.Is(err, io.EOF) || ctx.Err() != nil {
		r.log.Info("replay finished", zap.String("path", r.Path))
		return nil
	}
	return err
}

// readLines owns rc: it is closed when reading stops or ctx is cancelled,
// which also unblocks a pending read.
func readLines(ctx context.Context, rc io.ReadCloser, handle LineFunc) error {
	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer func() {
		if stop() {
			rc.Close()
		}
	}()

	reader := bufio.NewReader(rc)
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" && ctx.Err() == nil {
			handle(line)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
