// Package assistant defines the contract with the hosted assistant engine and
// provides an HTTP client for the OpenAI Assistants protocol.
package assistant

import (
	"context"
	"fmt"
)

// Status is the engine-reported lifecycle state of a run.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusInProgress     Status = "in_progress"
	StatusCancelling     Status = "cancelling"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
	StatusExpired        Status = "expired"
	StatusRequiresAction Status = "requires_action"
)

// Terminal reports whether the run has stopped progressing. Terminal states
// are never reopened by the engine.
func (s Status) Terminal() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusCancelling:
		return false
	}
	return true
}

// Completed reports whether the run finished successfully.
func (s Status) Completed() bool { return s == StatusCompleted }

// Run is one in-flight or completed invocation of the assistant against a
// conversation thread. The relay only observes its status; the engine owns
// all transitions.
type Run struct {
	ID       string
	ThreadID string
	Status   Status
}

// RunFailedError reports a run that reached a terminal state other than
// completed. It carries the engine-reported status and is never retried.
type RunFailedError struct {
	Status Status
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run failed with status: %s", e.Status)
}

// Engine is the narrow contract the relay needs from the assistant service.
type Engine interface {
	CreateThread(ctx context.Context) (string, error)

	// DeleteThread removes a thread. Deleting a thread that is already gone
	// is not an error.
	DeleteThread(ctx context.Context, threadID string) error

	AddMessage(ctx context.Context, threadID, content string) error
	CreateRun(ctx context.Context, threadID string) (*Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)

	// LatestMessage returns the text of the newest message on the thread,
	// which after a completed run is the assistant's reply.
	LatestMessage(ctx context.Context, threadID string) (string, error)

	// StreamRun submits a run in streaming mode and forwards each text delta
	// to tokens as it arrives. It returns once the run reaches a terminal
	// state; a non-completed terminal state is reported as *RunFailedError.
	// The channel is not closed.
	StreamRun(ctx context.Context, threadID string, tokens chan<- string) error

	Ping(ctx context.Context) error
}
