package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/acqadvantage/relay/internal/quota"
	"github.com/acqadvantage/relay/internal/runner"
)

func (s *Server) handleStartChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	cred := credentialFromContext(r.Context())

	var req struct {
		ObjectID string `json:"objectId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ObjectID == "" {
		writeError(w, http.StatusBadRequest, "objectId is missing from request body")
		return
	}

	threadID, err := s.registry.ResolveOrCreate(r.Context(), cred, req.ObjectID)
	if err != nil {
		s.logger.Error("failed to resolve thread", "object_id", req.ObjectID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process request")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"thread_id": threadID})
}

type askRequest struct {
	Prompt   string `json:"prompt"`
	ThreadID string `json:"thread_id"`
	ObjectID string `json:"objectId"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	cred := credentialFromContext(r.Context())

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is missing")
		return
	}
	if req.Prompt == "" || req.ThreadID == "" || req.ObjectID == "" {
		writeError(w, http.StatusBadRequest, "prompt, thread_id, and objectId are required")
		return
	}

	// The quota check precedes any engine call; nothing is consumed on
	// rejection.
	if err := s.gate.AuthorizeAndConsume(r.Context(), cred, req.ObjectID); err != nil {
		if errors.Is(err, quota.ErrExceeded) {
			writeError(w, http.StatusTooManyRequests, "daily limit reached")
			return
		}
		s.logger.Error("quota check failed", "object_id", req.ObjectID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	switch s.mode {
	case runner.ModePoll:
		runID, err := s.driver.Start(r.Context(), req.ThreadID, req.Prompt)
		if err != nil {
			s.logger.Error("failed to start run", "thread_id", req.ThreadID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"run_id":    runID,
			"thread_id": req.ThreadID,
		})
	case runner.ModeStream:
		s.serveStream(w, r, req)
	default:
		s.servePolled(w, r, req)
	}
}

// servePolled handles the blocking and heartbeat modes: one response whose
// body is written as the shared poll loop progresses. Failures arrive in-band
// as an error payload because in heartbeat mode the response has already
// begun by the time they occur.
func (s *Server) servePolled(w http.ResponseWriter, r *http.Request, req askRequest) {
	w.Header().Set("Content-Type", "application/json")
	flusher, _ := w.(http.Flusher)

	events := s.driver.Execute(r.Context(), req.ThreadID, req.Prompt, s.mode)
	for ev := range events {
		switch ev.Kind {
		case runner.EventHeartbeat:
			_, _ = fmt.Fprint(w, " ")
			if flusher != nil {
				flusher.Flush()
			}
		case runner.EventResult:
			_, _ = w.Write(ev.Result)
		case runner.EventError:
			s.logger.Warn("ask failed", "thread_id", req.ThreadID, "error", ev.Err)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": ev.Err.Error()})
		}
	}
}

// serveStream handles token-streaming mode: raw incremental text, no
// structured extraction. Errors are delivered in-band for the same reason as
// above.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, req askRequest) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	events := s.driver.Execute(r.Context(), req.ThreadID, req.Prompt, runner.ModeStream)
	for ev := range events {
		switch ev.Kind {
		case runner.EventToken:
			_, _ = fmt.Fprint(w, ev.Text)
			if flusher != nil {
				flusher.Flush()
			}
		case runner.EventError:
			s.logger.Warn("stream failed", "thread_id", req.ThreadID, "error", ev.Err)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": ev.Err.Error()})
		}
	}
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	threadID := r.URL.Query().Get("thread_id")
	if runID == "" || threadID == "" {
		writeError(w, http.StatusBadRequest, "run_id and thread_id are required")
		return
	}

	res, err := s.driver.Poll(r.Context(), threadID, runID)
	if err != nil {
		s.logger.Error("failed to poll run", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	switch {
	case res.Err != nil:
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "failed",
			"error":  res.Err.Error(),
		})
	case res.Status.Completed():
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "completed",
			"response": res.Result,
		})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "in_progress"})
	}
}

func (s *Server) handleResetThread(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	cred := credentialFromContext(r.Context())

	var req struct {
		ObjectID string `json:"objectId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ObjectID == "" {
		writeError(w, http.StatusBadRequest, "objectId is missing from request body")
		return
	}

	if err := s.registry.Reset(r.Context(), cred, req.ObjectID); err != nil {
		s.logger.Error("failed to reset thread", "object_id", req.ObjectID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "failure",
			"message": "failed to reset thread",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "thread reset successfully",
	})
}
