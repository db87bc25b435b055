// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/relabs-tech/ground_station/internal/app"
)

func main() {
	var (
		out      string
		interval time.Duration
		count    int
		asJSON   bool
	)
	pflag.StringVarP(&out, "out", "o", "", "append to this file (serial device or capture) instead of stdout")
	pflag.DurationVar(&interval, "interval", time.Second, "time between frames")
	pflag.IntVar(&count, "count", 0, "frames to emit, 0 = until interrupted")
	pflag.BoolVar(&asJSON, "json", false, "emit one JSON object per frame")
	pflag.Parse()

	w := os.Stdout
	if out != "" {
		f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("open output: %v", err)
		}
		defer f.Close()
		w = f
	}

	log.Println("starting mock payload device")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := app.RunMockDevice(ctx, w, app.MockOptions{
		Interval: interval,
		Count:    count,
		JSON:     asJSON,
	})
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

