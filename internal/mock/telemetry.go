// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mock generates synthetic payload telemetry for demos and replay
// captures.
package mock

import (
	"math"
	"strconv"
	"time"

	"github.com/relabs-tech/ground_station/internal/frame"
)

// Telemetry produces smoothly changing readings, one frame per call.
type Telemetry struct {
	start time.Time
}

// NewTelemetry creates a generator whose clock starts now.
func NewTelemetry() *Telemetry {
	return &Telemetry{start: time.Now()}
}

// Next samples the generator at the current time.
func (m *Telemetry) Next() []frame.Pair {
	return Sample(time.Since(m.start))
}

// Sample returns the frame at elapsed. Time is always the first pair so it
// acts as the frame boundary.
func Sample(elapsed time.Duration) []frame.Pair {
	t := elapsed.Seconds()
	alt := 100 + 50*math.Sin(t/20)

	return []frame.Pair{
		{Key: "Time", Value: num(t, 1)},
		{Key: "Temperature", Value: num(20+5*math.Sin(t/30), 2)},
		{Key: "Pressure", Value: num(1013.25-alt*0.12, 2)},
		{Key: "Altitude", Value: num(alt, 2)},
		{Key: "Latitude", Value: num(51.5+0.001*math.Sin(t/10), 6)},
		{Key: "Longitude", Value: num(-0.1+0.001*math.Cos(t/10), 6)},
		{Key: "gyro_x", Value: num(20*math.Sin(t), 2)},
		{Key: "gyro_y", Value: num(15*math.Cos(t*0.7), 2)},
		{Key: "gyro_z", Value: num(math.Mod(t*30, 360), 2)},
	}
}

func num(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
