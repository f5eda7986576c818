// Package thread maps user identities to durable conversation threads.
package thread

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/acqadvantage/relay/internal/assistant"
	"github.com/acqadvantage/relay/internal/userstore"
)

// Registry resolves a user's conversation thread, creating one on first use.
// It holds no local cache: the thread id lives exclusively on the user's
// record, so any process instance can serve any request.
type Registry struct {
	store  userstore.Store
	engine assistant.Engine
	logger *slog.Logger
}

// NewRegistry creates a registry.
func NewRegistry(store userstore.Store, engine assistant.Engine, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		engine: engine,
		logger: logger.With("component", "thread-registry"),
	}
}

// ResolveOrCreate returns the user's recorded thread id, allocating a new
// thread from the engine and writing it back when the record has none.
//
// If the write-back fails after allocation, the new thread is orphaned on the
// engine side. That inconsistency is accepted: the error surfaces to the
// caller and the next request simply allocates another thread.
func (r *Registry) ResolveOrCreate(ctx context.Context, credential, objectID string) (string, error) {
	rec, err := r.store.GetUser(ctx, credential, objectID)
	if err != nil {
		return "", fmt.Errorf("fetch user record: %w", err)
	}

	if rec.ThreadID != "" {
		return rec.ThreadID, nil
	}

	threadID, err := r.engine.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}

	if err := r.store.SetThreadID(ctx, credential, objectID, threadID); err != nil {
		r.logger.Warn("thread allocated but not recorded, leaking it",
			"object_id", objectID, "thread_id", threadID, "error", err)
		return "", fmt.Errorf("record thread: %w", err)
	}

	r.logger.Info("created thread", "object_id", objectID, "thread_id", threadID)
	return threadID, nil
}

// Reset deletes the user's current thread from the engine and clears the
// field on the record, so the next ResolveOrCreate starts a fresh
// conversation. A thread that is already gone on the engine side does not
// fail the reset.
func (r *Registry) Reset(ctx context.Context, credential, objectID string) error {
	rec, err := r.store.GetUser(ctx, credential, objectID)
	if err != nil {
		return fmt.Errorf("fetch user record: %w", err)
	}

	if rec.ThreadID != "" {
		if err := r.engine.DeleteThread(ctx, rec.ThreadID); err != nil {
			return fmt.Errorf("delete thread: %w", err)
		}
	}

	if err := r.store.SetThreadID(ctx, credential, objectID, ""); err != nil {
		return fmt.Errorf("clear thread: %w", err)
	}

	r.logger.Info("reset thread", "object_id", objectID, "old_thread_id", rec.ThreadID)
	return nil
}
