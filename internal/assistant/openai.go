package assistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/acqadvantage/relay/internal/config"
)

// OpenAIEngine implements Engine against the OpenAI Assistants v2 REST API.
type OpenAIEngine struct {
	baseURL     string
	apiKey      string
	assistantID string
	client      *http.Client
}

// NewOpenAIEngine creates an engine client from configuration. No client-side
// timeout is set on the HTTP client because streaming responses stay open for
// the full run duration; per-call bounds come from the caller's context.
func NewOpenAIEngine(cfg config.EngineConfig) *OpenAIEngine {
	return &OpenAIEngine{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		assistantID: cfg.AssistantID,
		client:      &http.Client{},
	}
}

func (e *OpenAIEngine) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	return req, nil
}

func (e *OpenAIEngine) do(ctx context.Context, method, path string, body, out any) error {
	req, err := e.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{status: resp.StatusCode, method: method, path: path, body: data}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

type apiError struct {
	status int
	method string
	path   string
	body   []byte
}

func (e *apiError) Error() string {
	body := string(e.body)
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.method, e.path, e.status, body)
}

func (e *OpenAIEngine) CreateThread(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := e.do(ctx, http.MethodPost, "/threads", map[string]any{}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (e *OpenAIEngine) DeleteThread(ctx context.Context, threadID string) error {
	err := e.do(ctx, http.MethodDelete, "/threads/"+threadID, nil, nil)
	// A thread that is already gone counts as deleted.
	var ae *apiError
	if err != nil && errors.As(err, &ae) && ae.status == http.StatusNotFound {
		return nil
	}
	return err
}

func (e *OpenAIEngine) AddMessage(ctx context.Context, threadID, content string) error {
	body := map[string]any{"role": "user", "content": content}
	return e.do(ctx, http.MethodPost, "/threads/"+threadID+"/messages", body, nil)
}

type runResponse struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Status   Status `json:"status"`
}

func (e *OpenAIEngine) CreateRun(ctx context.Context, threadID string) (*Run, error) {
	var out runResponse
	body := map[string]any{"assistant_id": e.assistantID}
	if err := e.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs", body, &out); err != nil {
		return nil, err
	}
	return &Run{ID: out.ID, ThreadID: threadID, Status: out.Status}, nil
}

func (e *OpenAIEngine) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	var out runResponse
	if err := e.do(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil, &out); err != nil {
		return nil, err
	}
	return &Run{ID: out.ID, ThreadID: threadID, Status: out.Status}, nil
}

func (e *OpenAIEngine) LatestMessage(ctx context.Context, threadID string) (string, error) {
	var out struct {
		Data []struct {
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	if err := e.do(ctx, http.MethodGet, "/threads/"+threadID+"/messages?limit=1&order=desc", nil, &out); err != nil {
		return "", err
	}
	if len(out.Data) == 0 || len(out.Data[0].Content) == 0 {
		return "", fmt.Errorf("thread %s has no messages", threadID)
	}
	for _, c := range out.Data[0].Content {
		if c.Type == "text" {
			return c.Text.Value, nil
		}
	}
	return "", fmt.Errorf("latest message on thread %s has no text content", threadID)
}

// StreamRun submits a streaming run and forwards message text deltas.
func (e *OpenAIEngine) StreamRun(ctx context.Context, threadID string, tokens chan<- string) error {
	body := map[string]any{"assistant_id": e.assistantID, "stream": true}
	req, err := e.newRequest(ctx, http.MethodPost, "/threads/"+threadID+"/runs", body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("stream run: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return &apiError{status: resp.StatusCode, method: http.MethodPost, path: "/threads/" + threadID + "/runs", body: data}
	}

	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return nil
			}
			switch event {
			case "thread.message.delta":
				for _, tok := range parseDeltaText(data) {
					select {
					case tokens <- tok:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			case "thread.run.failed", "thread.run.cancelled", "thread.run.expired":
				status := Status(strings.TrimPrefix(event, "thread.run."))
				return &RunFailedError{Status: status}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

func parseDeltaText(data string) []string {
	var delta struct {
		Delta struct {
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"delta"`
	}
	if err := json.Unmarshal([]byte(data), &delta); err != nil {
		return nil
	}
	var out []string
	for _, c := range delta.Delta.Content {
		if c.Type == "text" && c.Text.Value != "" {
			out = append(out, c.Text.Value)
		}
	}
	return out
}

// Ping performs a lightweight authenticated call to verify connectivity.
func (e *OpenAIEngine) Ping(ctx context.Context) error {
	return e.do(ctx, http.MethodGet, "/models?limit=1", nil, nil)
}
