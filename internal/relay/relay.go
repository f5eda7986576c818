// Package relay is the main orchestrator that ties all components together.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/acqadvantage/relay/internal/api"
	"github.com/acqadvantage/relay/internal/assistant"
	"github.com/acqadvantage/relay/internal/billing"
	"github.com/acqadvantage/relay/internal/config"
	"github.com/acqadvantage/relay/internal/quota"
	"github.com/acqadvantage/relay/internal/runner"
	"github.com/acqadvantage/relay/internal/sweep"
	"github.com/acqadvantage/relay/internal/thread"
	"github.com/acqadvantage/relay/internal/userstore"
)

// Relay is the main relay process.
type Relay struct {
	cfg     *config.Config
	store   userstore.Store
	api     *api.Server
	sweeper *sweep.Sweeper
	logger  *slog.Logger
}

// New creates a relay from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Relay, error) {
	store, err := userstore.New(cfg.UserStore)
	if err != nil {
		return nil, fmt.Errorf("init userstore: %w", err)
	}

	engine := assistant.NewOpenAIEngine(cfg.Engine)
	registry := thread.NewRegistry(store, engine, logger)
	gate := quota.NewGate(store, cfg.Quota.DailyLimit)
	driver := runner.NewDriver(engine, cfg.Engine.PollInterval.Duration, cfg.Engine.MaxWait.Duration, logger)

	var bill *billing.Service
	if cfg.Billing.Enabled {
		bill = billing.NewService(cfg.Billing, store, logger)
		if cfg.Billing.StripeWebhookSecret == "" {
			logger.Warn("billing enabled without a webhook secret, webhook signature verification will reject everything")
		}
	}

	sweeper, err := sweep.New(store, cfg.Quota.ResetSchedule, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init quota sweep: %w", err)
	}

	apiSrv := api.NewServer(store, engine, registry, gate, driver, bill, cfg, logger)

	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}

	return &Relay{
		cfg:     cfg,
		store:   store,
		api:     apiSrv,
		sweeper: sweeper,
		logger:  logger.With("component", "relay"),
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (r *Relay) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    r.cfg.Server.Addr,
		Handler: r.api.Handler(),
	}

	r.api.StartBackgroundTasks(ctx)
	if r.sweeper != nil {
		r.sweeper.Start(ctx)
		r.logger.Info("quota reset sweep scheduled", "schedule", r.cfg.Quota.ResetSchedule)
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("listening", "addr", r.cfg.Server.Addr, "delivery_mode", r.cfg.Delivery.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		_ = r.store.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("shutdown incomplete", "error", err)
	}

	if err := r.store.Close(); err != nil {
		r.logger.Warn("failed to close store", "error", err)
	}
	return ctx.Err()
}
