// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

// Package transporttest provides a scripted Transport for engine tests.
package transporttest

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/gantry-cnc/gantry/internal/transport"
)

// Mock is a scripted in-memory Transport. The zero value from NewMock
// acknowledges every line with "ok"; set SendFn to script responses and
// failures.
type Mock struct {
	mu        sync.Mutex
	connected bool
	sent      []string
	telemetry chan transport.Message

	// ConnectErr, when set, makes Connect fail.
	ConnectErr error

	// SendFn, when set, scripts the response per line. The default
	// acknowledges with "ok".
	SendFn func(line string) (string, error)
}

// NewMock creates a mock transport.
func NewMock() *Mock {
	return &Mock{
		telemetry: make(chan transport.Message, 100),
	}
}

// Connect implements transport.Transport.
func (m *Mock) Connect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.connected = true
	return nil
}

// SendLine implements transport.Transport.
func (m *Mock) SendLine(_ context.Context, line string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return "", oops.Code(transport.CodeNotConnected).New("mock transport not connected")
	}
	m.sent = append(m.sent, line)
	if m.SendFn != nil {
		return m.SendFn(line)
	}
	return "ok", nil
}

// Telemetry implements transport.Transport.
func (m *Mock) Telemetry() <-chan transport.Message {
	return m.telemetry
}

// Close implements transport.Transport.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		m.connected = false
		close(m.telemetry)
	}
	return nil
}

// Emit pushes a telemetry message, as the controller would.
func (m *Mock) Emit(kind transport.Kind, line string) {
	m.telemetry <- transport.Message{Kind: kind, Line: line, Time: time.Now()}
}

// Sent returns a copy of every line sent so far.
func (m *Mock) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}
