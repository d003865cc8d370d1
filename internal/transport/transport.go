// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

// Package transport abstracts the serial link to the CNC motion
// controller.
package transport

import (
	"context"
	"strings"
	"time"

	"github.com/gantry-cnc/gantry/internal/event"
)

// Error codes for transport faults.
const (
	CodeNotConnected    = "TRANSPORT_NOT_CONNECTED"
	CodeAckTimeout      = "TRANSPORT_ACK_TIMEOUT"
	CodeDisconnected    = "TRANSPORT_DISCONNECTED"
	CodeControllerFault = "CONTROLLER_FAULT"
)

// Kind classifies a telemetry message pushed by the controller.
type Kind uint8

// Telemetry kinds.
const (
	KindData Kind = iota
	KindSystemMessage
	KindResponse
)

// EventName maps a telemetry kind to its broadcast event name.
func (k Kind) EventName() string {
	switch k {
	case KindSystemMessage:
		return event.NameSystemMessage
	case KindResponse:
		return event.NameResponse
	default:
		return event.NameData
	}
}

// Message is a raw line pushed by the controller outside the
// send/acknowledge handshake.
type Message struct {
	Kind Kind
	Line string
	Time time.Time
}

// Transport is the flow-controlled link to the motion controller.
// SendLine blocks until the controller acknowledges the line; the next
// line must never be sent before the previous one is confirmed.
type Transport interface {
	// Connect opens the link. Calling Connect on an open transport is a
	// no-op.
	Connect(ctx context.Context) error

	// SendLine writes one line and blocks for the controller's
	// acknowledgment, returning the raw response. A returned error is
	// fatal to the current job: ack timeout, link loss, or a
	// controller-reported fault.
	SendLine(ctx context.Context, line string) (string, error)

	// Telemetry returns the channel of unsolicited controller output.
	// The channel is closed when the transport closes.
	Telemetry() <-chan Message

	// Close tears the link down.
	Close() error
}

// Classify maps a raw controller line to its telemetry kind, following
// grbl conventions: "ok"/"error:N" are command responses, "<...>"
// status reports are data, "[...]" feedback and ALARM lines are system
// messages.
func Classify(line string) Kind {
	s := strings.TrimSpace(line)
	switch {
	case IsAck(s):
		return KindResponse
	case strings.HasPrefix(s, "["), strings.HasPrefix(s, "ALARM:"), strings.HasPrefix(s, "Grbl"):
		return KindSystemMessage
	default:
		return KindData
	}
}

// IsAck reports whether line completes a pending send: grbl answers
// every line with "ok" or "error:N". ALARM also terminates a pending
// send, as a fault.
func IsAck(line string) bool {
	s := strings.TrimSpace(line)
	return s == "ok" || strings.HasPrefix(s, "error:") || strings.HasPrefix(s, "ALARM:")
}

// IsFaultResponse reports whether an acknowledgment indicates a
// controller fault rather than acceptance.
func IsFaultResponse(resp string) bool {
	s := strings.TrimSpace(resp)
	return strings.HasPrefix(s, "error:") || strings.HasPrefix(s, "ALARM:")
}
