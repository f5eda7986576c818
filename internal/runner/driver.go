// Package runner drives assistant runs to completion and delivers progress
// under the configured delivery mode.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/acqadvantage/relay/internal/assistant"
)

// Mode is the pacing/transport policy for carrying run progress to the caller.
type Mode string

const (
	// ModeBlocking waits out the whole run and delivers only the final result.
	ModeBlocking Mode = "blocking"
	// ModeHeartbeat emits one filler unit per poll cycle to keep idle
	// connections alive, then the final result.
	ModeHeartbeat Mode = "heartbeat"
	// ModeStream forwards incremental text from the engine as it arrives.
	// No structured extraction happens in this mode.
	ModeStream Mode = "stream"
	// ModePoll splits submission and status checks into two caller-driven
	// operations (Start and Poll); Execute does not serve it.
	ModePoll Mode = "poll"
)

// ParseMode validates a configured mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBlocking, ModeHeartbeat, ModeStream, ModePoll:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown delivery mode: %q", s)
}

// ErrRunTimeout is returned when a run does not reach a terminal state within
// the driver's maximum wait.
var ErrRunTimeout = errors.New("run did not finish within the maximum wait")

// EventKind discriminates delivery events.
type EventKind int

const (
	// EventHeartbeat is a semantic-free filler unit; consumers parsing the
	// stream for structured data must ignore it.
	EventHeartbeat EventKind = iota
	// EventToken is an incremental text fragment (stream mode only).
	EventToken
	// EventResult carries the final extracted payload. Always the last event.
	EventResult
	// EventError carries a terminal failure through the same channel a
	// result would have used. Always the last event.
	EventError
)

// Event is one unit of a finite, non-restartable delivery sequence.
type Event struct {
	Kind   EventKind
	Text   string          // token text (EventToken)
	Result json.RawMessage // extracted payload (EventResult)
	Err    error           // terminal failure (EventError)
}

// Driver submits prompts against a thread and advances the resulting run to a
// terminal state. It never initiates cancellation and never retries: every
// failure is converted into an EventError on the delivery channel rather than
// escaping the mode boundary.
type Driver struct {
	engine   assistant.Engine
	interval time.Duration
	maxWait  time.Duration
	logger   *slog.Logger
}

// NewDriver creates a driver. interval is the status poll cadence; maxWait
// bounds how long a single run may stay non-terminal.
func NewDriver(engine assistant.Engine, interval, maxWait time.Duration, logger *slog.Logger) *Driver {
	return &Driver{
		engine:   engine,
		interval: interval,
		maxWait:  maxWait,
		logger:   logger.With("component", "run-driver"),
	}
}

// Execute submits prompt against threadID and returns a finite event sequence
// delivered according to mode. The channel is closed after the final event.
//
// Prompts against the same thread must be serialized by the caller: the
// engine's behavior with two concurrent runs on one thread is undefined.
func (d *Driver) Execute(ctx context.Context, threadID, prompt string, mode Mode) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		switch mode {
		case ModeStream:
			d.streamRun(ctx, threadID, prompt, events)
		case ModeBlocking, ModeHeartbeat:
			d.pollRun(ctx, threadID, prompt, mode == ModeHeartbeat, events)
		default:
			d.emit(ctx, events, Event{Kind: EventError, Err: fmt.Errorf("mode %q is not executable", mode)})
		}
	}()
	return events
}

// emit delivers an event unless the consumer is gone.
func (d *Driver) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *Driver) submit(ctx context.Context, threadID, prompt string) (*assistant.Run, error) {
	if err := d.engine.AddMessage(ctx, threadID, prompt); err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	run, err := d.engine.CreateRun(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

func (d *Driver) pollRun(ctx context.Context, threadID, prompt string, heartbeat bool, events chan<- Event) {
	run, err := d.submit(ctx, threadID, prompt)
	if err != nil {
		d.emit(ctx, events, Event{Kind: EventError, Err: err})
		return
	}

	deadline := time.Now().Add(d.maxWait)
	for !run.Status.Terminal() {
		if time.Now().After(deadline) {
			d.logger.Warn("run timed out", "thread_id", threadID, "run_id", run.ID)
			d.emit(ctx, events, Event{Kind: EventError, Err: ErrRunTimeout})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.interval):
		}

		run, err = d.engine.GetRun(ctx, threadID, run.ID)
		if err != nil {
			d.emit(ctx, events, Event{Kind: EventError, Err: fmt.Errorf("poll run: %w", err)})
			return
		}

		// One filler unit per status check, including the one that
		// observed the terminal state.
		if heartbeat {
			if !d.emit(ctx, events, Event{Kind: EventHeartbeat}) {
				return
			}
		}
	}

	if !run.Status.Completed() {
		d.logger.Warn("run ended without completing", "thread_id", threadID, "run_id", run.ID, "status", run.Status)
		d.emit(ctx, events, Event{Kind: EventError, Err: &assistant.RunFailedError{Status: run.Status}})
		return
	}

	raw, err := d.engine.LatestMessage(ctx, threadID)
	if err != nil {
		d.emit(ctx, events, Event{Kind: EventError, Err: fmt.Errorf("fetch reply: %w", err)})
		return
	}

	result, err := Extract(raw)
	if err != nil {
		d.emit(ctx, events, Event{Kind: EventError, Err: err})
		return
	}
	d.emit(ctx, events, Event{Kind: EventResult, Result: result})
}

func (d *Driver) streamRun(ctx context.Context, threadID, prompt string, events chan<- Event) {
	if err := d.engine.AddMessage(ctx, threadID, prompt); err != nil {
		d.emit(ctx, events, Event{Kind: EventError, Err: fmt.Errorf("add message: %w", err)})
		return
	}

	tokens := make(chan string, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.engine.StreamRun(ctx, threadID, tokens)
		close(tokens)
	}()

	for tok := range tokens {
		if !d.emit(ctx, events, Event{Kind: EventToken, Text: tok}) {
			return
		}
	}
	if err := <-errCh; err != nil {
		d.emit(ctx, events, Event{Kind: EventError, Err: err})
	}
}

// Start submits prompt against threadID and returns the run id immediately,
// leaving status checks to the caller (decoupled-polling mode). The run id and
// thread id together form the caller's continuation token.
func (d *Driver) Start(ctx context.Context, threadID, prompt string) (string, error) {
	run, err := d.submit(ctx, threadID, prompt)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// PollResult is one observation of a run's state.
type PollResult struct {
	Status assistant.Status
	Result json.RawMessage // set when the run completed and extraction succeeded
	Err    error           // set when the run failed or extraction failed
}

// Poll performs a single status check. Non-terminal statuses report progress;
// a completed run carries the extracted payload; failed and cancelled runs
// (and unextractable replies) carry the error.
func (d *Driver) Poll(ctx context.Context, threadID, runID string) (*PollResult, error) {
	run, err := d.engine.GetRun(ctx, threadID, runID)
	if err != nil {
		return nil, fmt.Errorf("poll run: %w", err)
	}

	if !run.Status.Terminal() {
		return &PollResult{Status: run.Status}, nil
	}

	if !run.Status.Completed() {
		return &PollResult{Status: run.Status, Err: &assistant.RunFailedError{Status: run.Status}}, nil
	}

	raw, err := d.engine.LatestMessage(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("fetch reply: %w", err)
	}
	result, err := Extract(raw)
	if err != nil {
		return &PollResult{Status: run.Status, Err: err}, nil
	}
	return &PollResult{Status: run.Status, Result: result}, nil
}
