// Package api provides the relay's HTTP surface and middleware.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/acqadvantage/relay/internal/assistant"
	"github.com/acqadvantage/relay/internal/billing"
	"github.com/acqadvantage/relay/internal/config"
	"github.com/acqadvantage/relay/internal/quota"
	"github.com/acqadvantage/relay/internal/runner"
	"github.com/acqadvantage/relay/internal/thread"
	"github.com/acqadvantage/relay/internal/userstore"
)

// Server is the HTTP API server.
type Server struct {
	store          userstore.Store
	engine         assistant.Engine
	registry       *thread.Registry
	gate           *quota.Gate
	driver         *runner.Driver
	billing        *billing.Service // nil when billing is disabled
	mode           runner.Mode
	logger         *slog.Logger
	mux            *chi.Mux
	maxBodyBytes   int64
	allowedOrigins []string
	rl             *rateLimiter
}

// NewServer creates a new API server.
func NewServer(store userstore.Store, engine assistant.Engine, registry *thread.Registry,
	gate *quota.Gate, driver *runner.Driver, bill *billing.Service,
	cfg *config.Config, logger *slog.Logger) *Server {

	srv := &Server{
		store:          store,
		engine:         engine,
		registry:       registry,
		gate:           gate,
		driver:         driver,
		billing:        bill,
		mode:           runner.Mode(cfg.Delivery.Mode),
		logger:         logger.With("component", "api"),
		maxBodyBytes:   cfg.Server.MaxBodyBytes,
		allowedOrigins: cfg.Server.AllowedOrigins,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	// Health routes (unauthenticated).
	mux.Get("/", srv.handleRoot)
	mux.Get("/healthz", srv.handleHealthz)

	// Run polling carries its own continuation token, no bearer credential.
	mux.Get("/run_status", srv.handleRunStatus)

	srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(ipRateLimitMiddleware(srv.rl))

		r.Post("/start_chat", srv.handleStartChat)
		r.Post("/ask", srv.handleAsk)
		r.Post("/reset_thread", srv.handleResetThread)
	})

	// WebSocket ask: auth via query parameter, run executes off the
	// request-accepting path.
	mux.Get("/ws/ask", srv.handleAskWS)

	// Payment routes (only when billing is enabled). Checkout and webhook are
	// unauthenticated: checkout precedes a valid session, the webhook is
	// signature-verified.
	if bill != nil {
		mux.Post("/create-checkout-session", srv.handleCreateCheckout)
		mux.Post("/verify-payment-session", srv.handleVerifyPayment)
		mux.Post("/stripe-webhook", bill.HandleWebhook)
	}

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup of rate limiter state.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "API is running"})
}

// handleHealthz reports reachability of the engine and the record store.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"engine": "ok", "userstore": "ok"}
	status := http.StatusOK
	if err := s.engine.Ping(ctx); err != nil {
		checks["engine"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := s.store.Ping(ctx); err != nil {
		checks["userstore"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, checks)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
