// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

// Package hook provides the ordered plugin handler chain invoked around
// job execution.
package hook

import "context"

// Event names a hook point. Transform events thread a string value
// through the handler chain; notify events run handlers for their side
// effects only.
type Event string

// Hook points recognized by the engine.
const (
	BeforeJobStart  Event = "onBeforeJobStart"
	BeforeGcodeLine Event = "onBeforeGcodeLine"
	AfterGcodeLine  Event = "onAfterGcodeLine"
	AfterJobEnd     Event = "onAfterJobEnd"
)

// Events lists every recognized hook point.
var Events = []Event{BeforeJobStart, BeforeGcodeLine, AfterGcodeLine, AfterJobEnd}

// Transforms reports whether handlers for this event may rewrite the
// threaded value.
func (e Event) Transforms() bool {
	return e == BeforeJobStart || e == BeforeGcodeLine
}

// Known reports whether name is a recognized hook point.
func Known(name string) bool {
	for _, e := range Events {
		if string(e) == name {
			return true
		}
	}
	return false
}

// Meta carries job state into handlers. LineNumber is zero for the
// job-level events.
type Meta struct {
	JobID      string
	SourceID   string
	Filename   string
	FilePath   string
	LineNumber int
	TotalLines int

	// Response is the controller's reply, set for AfterGcodeLine only.
	Response string

	// Reason and Err describe the terminal outcome, set for AfterJobEnd only.
	Reason string
	Err    string
}

// Handler is a registered hook callback. For transform events the
// returned string replaces the threaded value; handlers that make no
// change must return value unchanged. For notify events the return
// value is ignored.
type Handler func(ctx context.Context, value string, meta Meta) (string, error)
