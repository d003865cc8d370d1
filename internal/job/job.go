// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

// Package job contains the job execution state machine that streams a
// G-code program to the controller, one acknowledged line at a time.
package job

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gantry-cnc/gantry/internal/hook"
)

// State is the engine's lifecycle state.
type State uint8

// Engine states. Terminal states are transient: the engine returns to
// StateIdle as soon as the terminal outcome has been reported.
const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateCompleted
	StateStopped
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Reason is the terminal outcome of a job.
type Reason string

// Terminal reasons.
const (
	ReasonCompleted Reason = "completed"
	ReasonStopped   Reason = "stopped"
	ReasonError     Reason = "error"
)

func (r Reason) state() State {
	switch r {
	case ReasonStopped:
		return StateStopped
	case ReasonError:
		return StateErrored
	default:
		return StateCompleted
	}
}

// Submission identifies the program handed to Start.
type Submission struct {
	SourceID string
	Filename string
	FilePath string
}

// Context is the identity and progress of one job. The engine alone
// mutates the line counter; everyone else receives copies.
type Context struct {
	JobID      ulid.ULID
	SourceID   string
	Filename   string
	FilePath   string
	LineNumber int // 1-indexed, monotonically increasing
	TotalLines int
}

func (c Context) meta() hook.Meta {
	return hook.Meta{
		JobID:      c.JobID.String(),
		SourceID:   c.SourceID,
		Filename:   c.Filename,
		FilePath:   c.FilePath,
		LineNumber: c.LineNumber,
		TotalLines: c.TotalLines,
	}
}

// Outcome is produced exactly once per job. TotalLines counts lines
// actually processed, which for a completed job equals the program
// length.
type Outcome struct {
	Reason     Reason
	TotalLines int
	Err        string
}

// HistoryRecorder persists terminal job outcomes.
type HistoryRecorder interface {
	RecordJob(ctx context.Context, jc Context, out Outcome, started, finished time.Time) error
}

// SplitLines splits a program into its lines, trimming line endings
// and dropping blank lines. Line numbering is assigned over the
// resulting slice.
func SplitLines(source string) []string {
	raw := strings.Split(source, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}
