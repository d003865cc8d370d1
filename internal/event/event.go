// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

// Package event contains the broadcast fan-out path for controller
// telemetry and plugin-originated events.
package event

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Telemetry event names published from the controller transport.
const (
	NameData          = "cnc-data"
	NameSystemMessage = "cnc-system-message"
	NameResponse      = "cnc-response"
)

// Message is a named payload delivered to subscribers. Messages are
// ephemeral: delivery is best-effort per subscriber and nothing is
// retained afterwards.
type Message struct {
	ID      ulid.ULID
	Name    string
	Time    time.Time
	Source  string // "controller", "engine", or "plugin:<name>"
	Payload string
}

// New creates a Message with a fresh ID and timestamp.
func New(name, source, payload string) Message {
	return Message{
		ID:      ulid.Make(),
		Name:    name,
		Time:    time.Now(),
		Source:  source,
		Payload: payload,
	}
}
