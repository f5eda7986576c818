// Package billing handles subscription checkout and payment-processor
// webhooks. It is a pass-through to Stripe plus one record-store write; the
// relay core never consults it on the request path.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/acqadvantage/relay/internal/config"
	"github.com/acqadvantage/relay/internal/userstore"
)

// ErrUnknownPlan is returned for a plan type with no configured price.
var ErrUnknownPlan = errors.New("invalid plan type")

// Service creates checkout sessions, verifies completed ones and processes
// Stripe webhooks.
type Service struct {
	sc            *client.API
	store         userstore.Store
	webhookSecret string
	prices        map[string]string // plan type -> Stripe price ID
	successURL    string
	cancelURL     string
	logger        *slog.Logger
}

// NewService creates a billing service from configuration.
func NewService(cfg config.BillingConfig, store userstore.Store, logger *slog.Logger) *Service {
	sc := &client.API{}
	sc.Init(cfg.StripeSecretKey, nil)

	return &Service{
		sc:            sc,
		store:         store,
		webhookSecret: cfg.StripeWebhookSecret,
		prices: map[string]string{
			"monthly": cfg.PriceMonthly,
			"annual":  cfg.PriceAnnual,
		},
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		logger:     logger.With("component", "billing"),
	}
}

// CreateCheckoutSession sets up a subscription checkout for the given plan and
// returns the hosted payment page URL. The user's objectID rides along as the
// client reference so the webhook can attribute the payment.
func (s *Service) CreateCheckoutSession(ctx context.Context, planType, objectID string) (string, error) {
	priceID, ok := s.prices[planType]
	if !ok || priceID == "" {
		return "", ErrUnknownPlan
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(objectID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx

	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// VerifySession double-checks a completed checkout with Stripe and activates
// the user's subscription record.
func (s *Service) VerifySession(ctx context.Context, sessionID string) error {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := s.sc.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return fmt.Errorf("retrieve checkout session: %w", err)
	}

	if sess.Status != stripe.CheckoutSessionStatusComplete || sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return fmt.Errorf("payment not successful")
	}
	if sess.ClientReferenceID == "" || sess.Subscription == nil {
		return fmt.Errorf("session is missing client reference or subscription")
	}

	if err := s.store.ActivateSubscription(ctx, sess.ClientReferenceID, sess.Subscription.ID); err != nil {
		return fmt.Errorf("activate subscription: %w", err)
	}
	return nil
}

// HandleWebhook verifies the Stripe signature and activates subscriptions on
// checkout completion. After the signature checks out, the response is always
// 200: failing the internal update must not trigger the processor's retry
// storm, per its webhook contract.
func (s *Service) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEvent(payload, sig, s.webhookSecret)
	if err != nil {
		s.logger.Warn("webhook signature verification failed", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	if event.Type == "checkout.session.completed" {
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			s.logger.Error("failed to decode checkout session", "error", err)
			writeAck(w)
			return
		}

		subID := ""
		if sess.Subscription != nil {
			subID = sess.Subscription.ID
		}
		if sess.ClientReferenceID == "" || subID == "" {
			writeAck(w)
			return
		}

		if err := s.store.ActivateSubscription(r.Context(), sess.ClientReferenceID, subID); err != nil {
			s.logger.Error("failed to activate subscription",
				"object_id", sess.ClientReferenceID, "error", err)
		} else {
			s.logger.Info("subscription activated", "object_id", sess.ClientReferenceID)
		}
	}

	writeAck(w)
}

func writeAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"success"}`))
}
