// Package sweep runs the scheduled daily reset of question counters.
//
// The accounting window is otherwise unbounded: nothing on the request path
// ever clears a counter. Stores that own their window externally (the hosted
// record service) do not support the reset capability and are left alone.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/acqadvantage/relay/internal/userstore"
)

// Sweeper clears question counters on a cron schedule.
type Sweeper struct {
	resetter userstore.QuotaResetter
	cron     *cron.Cron
	logger   *slog.Logger
}

// New creates a sweeper for the given store and schedule. It returns nil when
// the schedule is empty or the store cannot reset counters; callers treat a
// nil sweeper as "sweep disabled".
func New(store userstore.Store, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		return nil, nil
	}
	resetter, ok := store.(userstore.QuotaResetter)
	if !ok {
		logger.Warn("quota reset schedule configured but the store does not support resets, ignoring",
			"schedule", schedule)
		return nil, nil
	}

	s := &Sweeper{
		resetter: resetter,
		cron:     cron.New(),
		logger:   logger.With("component", "quota-sweep"),
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.resetter.ResetQuestionCounts(ctx)
	if err != nil {
		s.logger.Error("quota reset failed", "error", err)
		return
	}
	s.logger.Info("quota counters reset", "users", n)
}

// Start begins the schedule and stops it when ctx is canceled.
func (s *Sweeper) Start(ctx context.Context) {
	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
}
