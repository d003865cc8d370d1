// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package hook

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
)

// Error codes for handler faults.
const (
	CodeHandlerError   = "HANDLER_ERROR"
	CodeHandlerPanic   = "HANDLER_PANIC"
	CodeHandlerTimeout = "HANDLER_TIMEOUT"
)

// defaultHandlerTimeout bounds a single handler invocation. A handler
// that never resolves would otherwise stall the job loop.
const defaultHandlerTimeout = 5 * time.Second

// maxFaults bounds the in-memory fault log.
const maxFaults = 128

// Fault records a handler failure with plugin and event attribution.
type Fault struct {
	Plugin string
	Event  Event
	Time   time.Time
	Err    error
}

type registration struct {
	plugin string
	fn     Handler
}

// Registry keeps per-event ordered handler registrations and invokes
// them sequentially in registration order. Registration mutation takes
// the write lock while invocation works on a snapshot, so plugin
// load/unload never reorders or drops handlers mid-invocation.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Event][]registration
	timeout  time.Duration

	faultMu sync.Mutex
	faults  []Fault
}

// Option configures a Registry.
type Option func(*Registry)

// WithHandlerTimeout overrides the per-handler invocation timeout.
func WithHandlerTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRegistry creates an empty hook registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		handlers: make(map[Event][]registration),
		timeout:  defaultHandlerTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends a handler to the ordered list for event. Invocation
// order equals registration order.
func (r *Registry) Register(event Event, plugin string, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = append(r.handlers[event], registration{plugin: plugin, fn: fn})
}

// UnregisterPlugin removes every registration owned by plugin across
// all events. Used on plugin unload and reload so stale closures never
// fire.
func (r *Registry) UnregisterPlugin(plugin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for event, regs := range r.handlers {
		kept := regs[:0:0]
		for _, reg := range regs {
			if reg.plugin != plugin {
				kept = append(kept, reg)
			}
		}
		r.handlers[event] = kept
	}
}

// Count returns the number of registrations for event.
func (r *Registry) Count(event Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

// Transform runs every handler registered for event in order, threading
// value through the chain. A handler's failure (error, panic, or
// timeout) is recorded and the chain continues with the last good
// value; one plugin's fault never halts the chain.
func (r *Registry) Transform(ctx context.Context, event Event, value string, meta Meta) string {
	for _, reg := range r.snapshot(event) {
		out, err := r.call(ctx, event, reg, value, meta)
		if err != nil {
			r.recordFault(event, reg.plugin, err)
			continue
		}
		value = out
	}
	return value
}

// Notify runs every handler registered for event in order for side
// effects only. Failures are isolated identically to Transform.
func (r *Registry) Notify(ctx context.Context, event Event, value string, meta Meta) {
	for _, reg := range r.snapshot(event) {
		if _, err := r.call(ctx, event, reg, value, meta); err != nil {
			r.recordFault(event, reg.plugin, err)
		}
	}
}

// Faults returns a copy of the recorded handler faults, oldest first.
func (r *Registry) Faults() []Fault {
	r.faultMu.Lock()
	defer r.faultMu.Unlock()
	out := make([]Fault, len(r.faults))
	copy(out, r.faults)
	return out
}

// snapshot copies the registration list so an in-flight invocation sees
// a stable order even if plugins reload concurrently.
func (r *Registry) snapshot(event Event) []registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regs := r.handlers[event]
	out := make([]registration, len(regs))
	copy(out, regs)
	return out
}

type callResult struct {
	value string
	err   error
}

// call invokes a single handler with the registry's timeout. The
// handler runs in its own goroutine so a blocked handler cannot stall
// the chain past the deadline; a timed-out handler's late result is
// discarded.
func (r *Registry) call(ctx context.Context, event Event, reg registration, value string, meta Meta) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- callResult{err: oops.Code(CodeHandlerPanic).
					With("plugin", reg.plugin).
					With("event", string(event)).
					Errorf("handler panic: %v", p)}
			}
		}()
		out, err := reg.fn(cctx, value, meta)
		if err != nil {
			err = oops.Code(CodeHandlerError).
				With("plugin", reg.plugin).
				With("event", string(event)).
				Wrap(err)
		}
		done <- callResult{value: out, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-cctx.Done():
		return "", oops.Code(CodeHandlerTimeout).
			With("plugin", reg.plugin).
			With("event", string(event)).
			With("timeout", r.timeout.String()).
			New("handler did not complete before deadline")
	}
}

func (r *Registry) recordFault(event Event, plugin string, err error) {
	slog.Warn("hook handler fault",
		"plugin", plugin,
		"event", string(event),
		"error", err)
	RecordHandlerFault(plugin, string(event))

	r.faultMu.Lock()
	defer r.faultMu.Unlock()
	r.faults = append(r.faults, Fault{Plugin: plugin, Event: event, Time: time.Now(), Err: err})
	if len(r.faults) > maxFaults {
		r.faults = r.faults[len(r.faults)-maxFaults:]
	}
}
