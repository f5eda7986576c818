// Package userstore defines the per-user record storage interface and provides
// drivers for the hosted Backendless service, SQLite and PostgreSQL.
package userstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a user or subscription record does not exist.
var ErrNotFound = errors.New("record not found")

// UserRecord is the slice of the user's external record the relay cares about:
// the durable conversation handle and the daily question counter.
type UserRecord struct {
	ObjectID      string
	ThreadID      string
	QuestionCount int
}

// Store is the persistence interface for per-user records.
//
// The credential is the caller-supplied bearer token. The backendless driver
// forwards it on every call (the record service enforces it); the local SQL
// drivers ignore it.
type Store interface {
	GetUser(ctx context.Context, credential, objectID string) (*UserRecord, error)

	// SetThreadID writes the conversation handle onto the user's record.
	// An empty threadID clears the field.
	SetThreadID(ctx context.Context, credential, objectID, threadID string) error

	SetQuestionCount(ctx context.Context, credential, objectID string, n int) error

	// ActivateSubscription marks the user's subscription record active and
	// links it to the processor-side subscription.
	ActivateSubscription(ctx context.Context, ownerID, stripeSubscriptionID string) error

	Ping(ctx context.Context) error
	Close() error
}

// QuotaConsumer is an optional capability: an atomic increment-with-ceiling on
// the question counter. Drivers that implement it are immune to the
// read-modify-write race between concurrent requests for the same user.
type QuotaConsumer interface {
	// ConsumeQuestion increments the counter unless it is already at limit.
	// It returns whether the request was accepted and the resulting count.
	ConsumeQuestion(ctx context.Context, credential, objectID string, limit int) (bool, int, error)
}

// QuotaResetter is an optional capability: clearing all question counters,
// used by the scheduled daily sweep.
type QuotaResetter interface {
	ResetQuestionCounts(ctx context.Context) (int64, error)
}
