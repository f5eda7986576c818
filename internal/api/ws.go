package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/acqadvantage/relay/internal/quota"
	"github.com/acqadvantage/relay/internal/runner"
)

// wsFrame is one message pushed to a WebSocket ask client.
type wsFrame struct {
	Type     string          `json:"type"` // "heartbeat", "result" or "error"
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// handleAskWS serves an ask over a WebSocket. The run executes in a
// background goroutine and progress is pushed to the client, so the serving
// handler never holds a plain HTTP connection open for the run duration.
//
// Auth rides in the token query parameter because browsers cannot set headers
// on WebSocket dials.
func (s *Server) handleAskWS(w http.ResponseWriter, r *http.Request) {
	cred := r.URL.Query().Get("token")
	if cred == "" {
		writeError(w, http.StatusUnauthorized, "user token is missing")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range s.allowedOrigins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// Session id correlates the log lines of one connection.
	logger := s.logger.With("ws_session", uuid.NewString())

	var req askRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(wsFrame{Type: "error", Error: "invalid request"})
		return
	}
	if req.Prompt == "" || req.ThreadID == "" || req.ObjectID == "" {
		_ = conn.WriteJSON(wsFrame{Type: "error", Error: "prompt, thread_id, and objectId are required"})
		return
	}

	ctx := r.Context()
	if err := s.gate.AuthorizeAndConsume(ctx, cred, req.ObjectID); err != nil {
		if errors.Is(err, quota.ErrExceeded) {
			_ = conn.WriteJSON(wsFrame{Type: "error", Error: "daily limit reached"})
		} else {
			logger.Error("quota check failed", "object_id", req.ObjectID, "error", err)
			_ = conn.WriteJSON(wsFrame{Type: "error", Error: "internal server error"})
		}
		return
	}

	events := s.driver.Execute(ctx, req.ThreadID, req.Prompt, runner.ModeHeartbeat)
	for ev := range events {
		var frame wsFrame
		switch ev.Kind {
		case runner.EventHeartbeat:
			frame = wsFrame{Type: "heartbeat"}
		case runner.EventResult:
			frame = wsFrame{Type: "result", Response: ev.Result}
		case runner.EventError:
			logger.Warn("websocket ask failed", "thread_id", req.ThreadID, "error", ev.Err)
			frame = wsFrame{Type: "error", Error: ev.Err.Error()}
		}
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
