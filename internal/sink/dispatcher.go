// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sink fans committed frames out to side-effect listeners: the backup
// mirror, the relational mirror and the MQTT mirror.
package sink

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/ground_station/internal/frame"
)

// DefaultQueue is the per-listener queue length used when none is given.
const DefaultQueue = 32

// Event describes one committed frame.
type Event struct {
	Row frame.Row
	At  time.Time
}

// Listener reacts to committed frames. Handle runs on the listener's own
// goroutine; its error is logged and never reaches the ingestion loop.
type Listener interface {
	Name() string
	Handle(ev Event) error
}

// Stats counts what happened to the events offered to one listener.
type Stats struct {
	Handled uint64
	Failed  uint64
	Dropped uint64
}

type worker struct {
	listener Listener
	queue    chan Event
	handled  atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
}

// Dispatcher owns one goroutine and one buffered queue per listener.
type Dispatcher struct {
	mu      sync.RWMutex
	workers []*worker
	closed  bool
	wg      sync.WaitGroup
	log     *zap.Logger
}

// NewDispatcher starts a worker for every listener.
func NewDispatcher(queue int, logger *zap.Logger, listeners ...Listener) *Dispatcher {
	if queue <= 0 {
		queue = DefaultQueue
	}
	d := &Dispatcher{log: logger.Named("sink")}
	for _, l := range listeners {
		w := &worker{listener: l, queue: make(chan Event, queue)}
		d.workers = append(d.workers, w)
		d.wg.Add(1)
		go d.run(w)
	}
	return d
}

// Dispatch offers ev to every listener without blocking. A listener whose
// queue is full loses the event.
func (d *Dispatcher) Dispatch(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, w := range d.workers {
		select {
		case w.queue <- ev:
		default:
			w.dropped.Add(1)
			d.log.Warn("listener queue full, event dropped",
				zap.String("listener", w.listener.Name()))
		}
	}
}

// Stats reports counters per listener name.
func (d *Dispatcher) Stats() map[string]Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]Stats, len(d.workers))
	for _, w := range d.workers {
		out[w.listener.Name()] = Stats{
			Handled: w.handled.Load(),
			Failed:  w.failed.Load(),
			Dropped: w.dropped.Load(),
		}
	}
	return out
}

// Close stops accepting events, lets every listener drain its queue and
// waits for the workers to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, w := range d.workers {
		close(w.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run(w *worker) {
	defer d.wg.Done()
	log := d.log.With(zap.String("listener", w.listener.Name()))
	for ev := range w.queue {
		if err := d.handle(w, ev); err != nil {
			w.failed.Add(1)
			log.Warn("listener failed", zap.Error(err))
			continue
		}
		w.handled.Add(1)
	}
}

func (d *Dispatcher) handle(w *worker, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.listener.Handle(ev)
}
