// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/relabs-tech/ground_station/internal/frame"
	"github.com/relabs-tech/ground_station/internal/mock"
	"github.com/relabs-tech/ground_station/internal/sink"
)

// MockOptions controls the synthetic device.
type MockOptions struct {
	Interval  time.Duration
	Count     int    // frames to emit, 0 = until cancelled
	JSON      bool   // one object per frame instead of key=value lines
	Separator string // for key=value lines
}

// RunMockDevice writes synthetic telemetry to out the way the payload sends
// it over the radio link.
func RunMockDevice(ctx context.Context, out io.Writer, opts MockOptions) error {
	if opts.Interval <= 0 {
		return fmt.Errorf("mock interval must be positive, got %v", opts.Interval)
	}
	src := mock.NewTelemetry()
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for n := 0; opts.Count == 0 || n < opts.Count; n++ {
		if err := WriteMockFrame(out, src.Next(), opts); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// WriteMockFrame renders one frame in the selected line format.
func WriteMockFrame(out io.Writer, pairs []frame.Pair, opts MockOptions) error {
	if opts.JSON {
		names := make([]string, len(pairs))
		row := make(frame.Row, len(pairs))
		for i, p := range pairs {
			names[i], row[i] = p.Key, p.Value
		}
		obj, err := sink.EncodeFrame(names, row)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n", obj)
		return err
	}

	sep := opts.Separator
	if sep == "" {
		sep = "="
	}
	for _, p := range pairs {
		if _, err := fmt.Fprintf(out, "%s%s%s\n", p.Key, sep, p.Value); err != nil {
			return err
		}
	}
	return nil
}
