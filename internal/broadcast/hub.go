// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package broadcast fans text messages out to live subscribers without ever
// blocking the publisher.
package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var ErrHubClosed = errors.New("hub closed")

// Stats counts deliveries for one subscriber.
type Stats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// Subscriber receives messages on C. A full buffer drops new messages.
type Subscriber struct {
	ID string
	C  <-chan []byte

	ch      chan []byte
	sent    atomic.Uint64
	dropped atomic.Uint64
	once    sync.Once
}

// Stats returns the subscriber's delivery counters.
func (s *Subscriber) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Dropped: s.dropped.Load()}
}

func (s *Subscriber) offer(msg []byte) {
	select {
	case s.ch <- msg:
		s.sent.Add(1)
	default:
		s.dropped.Add(1)
	}
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub is a set of subscribers sharing one publish stream.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscriber
	buffer int
	closed bool
}

// NewHub creates a hub whose subscribers buffer up to buffer messages.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		subs:   make(map[string]*Subscriber),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. When initial is non-nil it is queued
// before the subscriber becomes visible to Publish, so it is always the first
// message received and is never dropped.
func (h *Hub) Subscribe(initial []byte) (*Subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	ch := make(chan []byte, h.buffer)
	s := &Subscriber{ID: uuid.NewString(), C: ch, ch: ch}
	if initial != nil {
		s.offer(initial)
	}
	h.subs[s.ID] = s
	return s, nil
}

// Unsubscribe removes the subscriber and closes its channel.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	delete(h.subs, s.ID)
	h.mu.Unlock()
	s.close()
}

// Publish offers msg to every subscriber. It never blocks.
func (h *Hub) Publish(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, s := range h.subs {
		s.offer(msg)
	}
}

// Len is the number of current subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close drops every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		s.close()
		delete(h.subs, id)
	}
}
