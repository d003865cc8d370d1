// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package event

import (
	"log/slog"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// defaultBuffer is the per-subscriber channel depth.
const defaultBuffer = 100

// Subscription is a live interest in events whose name matches a glob
// pattern. Receive from C; call Close when done.
type Subscription struct {
	C <-chan Message

	pattern string
	matcher glob.Glob
	ch      chan Message
	b       *Broadcaster
	once    sync.Once
}

// Pattern returns the glob pattern this subscription was created with.
func (s *Subscription) Pattern() string { return s.pattern }

// Close removes the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.remove(s)
		close(s.ch)
	})
}

// Broadcaster distributes messages to subscribers. Delivery to each
// subscriber is independent: a full buffer drops the message for that
// subscriber only, with a warning, and never blocks the publisher.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   []*Subscription
	buffer int
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithBuffer overrides the per-subscriber channel depth.
func WithBuffer(n int) BroadcasterOption {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster(opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{buffer: defaultBuffer}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers interest in events whose name matches pattern.
// Patterns use glob syntax, so "cnc-*" matches every telemetry event
// and a literal name matches exactly.
func (b *Broadcaster) Subscribe(pattern string) (*Subscription, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, oops.In("event").With("pattern", pattern).Hint("invalid glob pattern").Wrap(err)
	}

	sub := &Subscription{
		pattern: pattern,
		matcher: g,
		ch:      make(chan Message, b.buffer),
		b:       b,
	}
	sub.C = sub.ch

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub, nil
}

// Publish delivers msg to every subscriber whose pattern matches.
func (b *Broadcaster) Publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.matcher.Match(msg.Name) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			// A slow subscriber misses this message rather than
			// blocking the publisher or its peers.
			slog.Warn("event dropped: subscriber buffer full",
				"event", msg.Name,
				"pattern", sub.pattern,
				"event_id", msg.ID.String(),
			)
		}
	}
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}
