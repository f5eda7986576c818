// Package quota enforces the per-user daily question limit.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/acqadvantage/relay/internal/userstore"
)

// ErrExceeded is returned when the user's counter is at or above the limit.
// No state is mutated on rejection.
var ErrExceeded = errors.New("daily limit reached")

// Gate authorizes a request and records its consumption before any expensive
// engine call is made.
//
// When the store supports an atomic increment-with-ceiling, the gate delegates
// to it. Otherwise it falls back to read-check-write, serialized per user
// through an in-process mutex. The fallback only closes the race when a single
// process owns the user's traffic; across processes the race is inherent to
// the store and cannot be fixed here.
type Gate struct {
	store userstore.Store
	limit int

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// NewGate creates a gate with the configured daily limit.
func NewGate(store userstore.Store, limit int) *Gate {
	return &Gate{
		store: store,
		limit: limit,
		users: make(map[string]*sync.Mutex),
	}
}

// Limit returns the configured daily limit.
func (g *Gate) Limit() int { return g.limit }

// userMutex returns the mutex serializing the fallback path for one user. The
// map holds one mutex per distinct user seen over the process lifetime and is
// never pruned: an entry is a few dozen bytes and pruning would race with a
// goroutine still holding the lock.
func (g *Gate) userMutex(objectID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.users[objectID]
	if !ok {
		m = &sync.Mutex{}
		g.users[objectID] = m
	}
	return m
}

// AuthorizeAndConsume admits the request and increments the user's counter,
// or returns ErrExceeded without mutating anything.
func (g *Gate) AuthorizeAndConsume(ctx context.Context, credential, objectID string) error {
	if qc, ok := g.store.(userstore.QuotaConsumer); ok {
		accepted, _, err := qc.ConsumeQuestion(ctx, credential, objectID, g.limit)
		if err != nil {
			return fmt.Errorf("consume quota: %w", err)
		}
		if !accepted {
			return ErrExceeded
		}
		return nil
	}

	m := g.userMutex(objectID)
	m.Lock()
	defer m.Unlock()

	rec, err := g.store.GetUser(ctx, credential, objectID)
	if err != nil {
		return fmt.Errorf("fetch user record: %w", err)
	}
	if rec.QuestionCount >= g.limit {
		return ErrExceeded
	}
	if err := g.store.SetQuestionCount(ctx, credential, objectID, rec.QuestionCount+1); err != nil {
		return fmt.Errorf("record consumption: %w", err)
	}
	return nil
}
