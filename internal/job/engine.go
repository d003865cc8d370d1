// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package job

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gantry-cnc/gantry/internal/event"
	"github.com/gantry-cnc/gantry/internal/gcode"
	"github.com/gantry-cnc/gantry/internal/hook"
	"github.com/gantry-cnc/gantry/internal/transport"
)

var tracer = otel.Tracer("gantry/job")

// Error codes for job control failures.
const (
	CodeJobActive     = "JOB_ACTIVE"
	CodeNoActiveJob   = "NO_ACTIVE_JOB"
	CodeTransportBusy = "TRANSPORT_BUSY"
)

// Engine-published event names.
const (
	EventJobStarted = "job-started"
	EventJobEnded   = "job-ended"
)

// Engine drives job execution: it owns the job lifecycle, invokes the
// hook chain at each defined point, and holds exclusive use of the
// transport while a job is active. At most one job is active per
// engine instance; a submission while not idle is rejected, not
// queued.
type Engine struct {
	hooks   *hook.Registry
	tr      transport.Transport
	bus     *event.Broadcaster
	history HistoryRecorder

	elideToolChanges bool

	mu          sync.Mutex
	state       State
	stop        chan struct{}
	done        chan struct{}
	lastOutcome *Outcome
	currentTool *int
}

// Option configures an Engine.
type Option func(*Engine)

// WithHistory records every terminal outcome to h.
func WithHistory(h HistoryRecorder) Option {
	return func(e *Engine) {
		e.history = h
	}
}

// WithToolChangeElision enables suppressing transmission of a
// tool-change line that requests the already-loaded tool. The line
// still flows through the hooks and keeps its line number.
func WithToolChangeElision(enabled bool) Option {
	return func(e *Engine) {
		e.elideToolChanges = enabled
	}
}

// NewEngine creates a job engine over the given transport, hook
// registry, and broadcaster.
func NewEngine(tr transport.Transport, hooks *hook.Registry, bus *event.Broadcaster, opts ...Option) *Engine {
	e := &Engine{
		hooks: hooks,
		tr:    tr,
		bus:   bus,
		state: StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastOutcome returns the previous job's terminal outcome, or nil if
// no job has finished yet.
func (e *Engine) LastOutcome() *Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastOutcome == nil {
		return nil
	}
	out := *e.lastOutcome
	return &out
}

// CurrentTool returns the tool the engine believes is loaded, from
// tool-change commands observed in prior lines, or nil if unknown.
func (e *Engine) CurrentTool() *int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentTool == nil {
		return nil
	}
	t := *e.currentTool
	return &t
}

// Start submits a job. The engine must be idle; a busy engine rejects
// the submission. The job runs asynchronously; use Wait to block for
// its terminal outcome.
func (e *Engine) Start(ctx context.Context, source string, sub Submission) (Context, error) {
	e.mu.Lock()
	if e.state != StateIdle {
		state := e.state
		e.mu.Unlock()
		return Context{}, oops.In("job").
			Code(CodeJobActive).
			With("state", state.String()).
			New("a job is already active")
	}

	jc := Context{
		JobID:    ulid.Make(),
		SourceID: sub.SourceID,
		Filename: sub.Filename,
		FilePath: sub.FilePath,
	}
	e.state = StateStarting
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.mu.Unlock()

	slog.Info("job submitted",
		"job_id", jc.JobID.String(),
		"filename", jc.Filename,
		"source_id", jc.SourceID)

	go e.run(ctx, source, jc)
	return jc, nil
}

// Stop requests that the active job halt at the next line boundary.
// The current line's handlers finish; no further lines are sent.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateStarting && e.state != StateRunning {
		return oops.In("job").Code(CodeNoActiveJob).New("no active job to stop")
	}
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	return nil
}

// Wait blocks until the active job reaches a terminal state. It
// returns immediately if no job is active.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// SendImmediate sends a single line outside any job, awaiting the
// controller's acknowledgment. While a job is active the transport is
// exclusively owned by the job loop and the send is rejected.
func (e *Engine) SendImmediate(ctx context.Context, line string) (string, error) {
	e.mu.Lock()
	if e.state != StateIdle {
		state := e.state
		e.mu.Unlock()
		return "", oops.In("job").
			Code(CodeTransportBusy).
			With("state", state.String()).
			New("transport is owned by the active job")
	}
	e.mu.Unlock()

	if err := e.tr.Connect(ctx); err != nil {
		return "", err
	}
	return e.tr.SendLine(ctx, line)
}

// ForwardTelemetry pumps controller telemetry into the broadcaster
// until the transport closes. The returned channel closes when the
// pump exits.
func (e *Engine) ForwardTelemetry() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range e.tr.Telemetry() {
			e.bus.Publish(event.New(msg.Kind.EventName(), "controller", msg.Line))
		}
	}()
	return done
}

// run executes one job from Starting to a terminal state.
func (e *Engine) run(ctx context.Context, source string, jc Context) {
	ctx, span := tracer.Start(ctx, "job.run",
		trace.WithAttributes(
			attribute.String("job.id", jc.JobID.String()),
			attribute.String("job.filename", jc.Filename),
		),
	)
	defer span.End()
	started := time.Now()

	e.publishJobEvent(EventJobStarted, jc, nil)

	// The whole-program rewrite hook runs before the transport is
	// touched; a handler fault here leaves the source unchanged.
	effective := e.hooks.Transform(ctx, hook.BeforeJobStart, source, jc.meta())

	// Transport unavailability at start is fatal: straight to Errored
	// without ever entering Running.
	if err := e.tr.Connect(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.finish(ctx, jc, Outcome{Reason: ReasonError, Err: err.Error()}, started)
		return
	}

	lines := SplitLines(effective)
	jc.TotalLines = len(lines)

	e.mu.Lock()
	e.state = StateRunning
	e.mu.Unlock()

	outcome := Outcome{Reason: ReasonCompleted}
	processed := 0

	for i, line := range lines {
		// Stop takes effect at line boundaries only, never mid-send.
		select {
		case <-e.stop:
			outcome = Outcome{Reason: ReasonStopped}
		default:
		}
		if outcome.Reason == ReasonStopped {
			break
		}

		jc.LineNumber = i + 1
		meta := jc.meta()

		effLine := e.hooks.Transform(ctx, hook.BeforeGcodeLine, line, meta)

		send := true
		if tc := gcode.MatchToolChange(effLine); tc.Matched {
			send = !e.noteToolChange(jc, tc)
		}

		resp := ""
		if send {
			sendStart := time.Now()
			r, err := e.tr.SendLine(ctx, effLine)
			AckLatency.Observe(time.Since(sendStart).Seconds())
			if err != nil {
				slog.Error("transport fault, aborting job",
					"job_id", jc.JobID.String(),
					"line", jc.LineNumber,
					"error", err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				outcome = Outcome{Reason: ReasonError, Err: err.Error(), TotalLines: processed}
				e.finish(ctx, jc, outcome, started)
				return
			}
			resp = r
			LinesSent.Inc()
		}

		meta.Response = resp
		e.hooks.Notify(ctx, hook.AfterGcodeLine, effLine, meta)
		processed = jc.LineNumber
	}

	outcome.TotalLines = processed
	e.finish(ctx, jc, outcome, started)
}

// noteToolChange records the tool from a matched tool-change line and
// reports whether transmission should be elided as a same-tool no-op.
func (e *Engine) noteToolChange(jc Context, tc gcode.ToolChange) bool {
	e.mu.Lock()
	current := e.currentTool
	e.mu.Unlock()

	elide := e.elideToolChanges && tc.SameTool(current)

	if tc.Tool != nil {
		slog.Info("tool change",
			"job_id", jc.JobID.String(),
			"line", jc.LineNumber,
			"tool", *tc.Tool,
			"elided", elide)
		t := *tc.Tool
		e.mu.Lock()
		e.currentTool = &t
		e.mu.Unlock()
	} else {
		slog.Info("tool change without tool number",
			"job_id", jc.JobID.String(),
			"line", jc.LineNumber)
	}

	if elide {
		LinesElided.Inc()
	}
	return elide
}

// finish reports the terminal outcome: exactly one onAfterJobEnd
// invocation per job, one broadcast, one history row, then back to
// idle.
func (e *Engine) finish(ctx context.Context, jc Context, out Outcome, started time.Time) {
	e.mu.Lock()
	e.state = out.Reason.state()
	e.lastOutcome = &out
	e.mu.Unlock()

	meta := jc.meta()
	meta.Reason = string(out.Reason)
	meta.Err = out.Err
	e.hooks.Notify(ctx, hook.AfterJobEnd, "", meta)

	JobsTotal.WithLabelValues(string(out.Reason)).Inc()
	e.publishJobEvent(EventJobEnded, jc, &out)

	if e.history != nil {
		if err := e.history.RecordJob(ctx, jc, out, started, time.Now()); err != nil {
			slog.Warn("failed to record job history",
				"job_id", jc.JobID.String(),
				"error", err)
		}
	}

	slog.Info("job finished",
		"job_id", jc.JobID.String(),
		"reason", string(out.Reason),
		"lines", out.TotalLines,
		"duration", time.Since(started).String())

	e.mu.Lock()
	e.state = StateIdle
	done := e.done
	e.mu.Unlock()
	close(done)
}

type jobEventPayload struct {
	JobID      string `json:"job_id"`
	SourceID   string `json:"source_id,omitempty"`
	Filename   string `json:"filename,omitempty"`
	Reason     string `json:"reason,omitempty"`
	TotalLines int    `json:"total_lines,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (e *Engine) publishJobEvent(name string, jc Context, out *Outcome) {
	p := jobEventPayload{
		JobID:    jc.JobID.String(),
		SourceID: jc.SourceID,
		Filename: jc.Filename,
	}
	if out != nil {
		p.Reason = string(out.Reason)
		p.TotalLines = out.TotalLines
		p.Error = out.Err
	}
	payload, err := json.Marshal(p)
	if err != nil {
		slog.Warn("failed to marshal job event payload", "event", name, "error", err)
		return
	}
	e.bus.Publish(event.New(name, "engine", string(payload)))
}
