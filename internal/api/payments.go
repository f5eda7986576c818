package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/acqadvantage/relay/internal/billing"
	"github.com/acqadvantage/relay/internal/userstore"
)

func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	var req struct {
		PlanType string `json:"planType"`
		ObjectID string `json:"objectId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is missing")
		return
	}
	if req.PlanType == "" || req.ObjectID == "" {
		writeError(w, http.StatusBadRequest, "planType and objectId are required")
		return
	}

	url, err := s.billing.CreateCheckoutSession(r.Context(), req.PlanType, req.ObjectID)
	if err != nil {
		if errors.Is(err, billing.ErrUnknownPlan) {
			writeError(w, http.StatusBadRequest, "invalid plan type")
			return
		}
		s.logger.Error("failed to create checkout session", "object_id", req.ObjectID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"checkout_url": url})
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if err := s.billing.VerifySession(r.Context(), req.SessionID); err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no subscription found for user")
			return
		}
		s.logger.Error("payment verification failed", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusBadRequest, "payment not successful")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
