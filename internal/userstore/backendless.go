package userstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// BackendlessStore talks to a hosted Backendless data API. User records are
// addressed by objectId and authorized by the caller's user-token, which is
// forwarded on every request.
//
// Updates are plain PUTs with no compare-and-swap: two concurrent requests for
// the same user can race between read and write. The service offers no atomic
// counter primitive, so this driver does not implement QuotaConsumer and the
// quota gate falls back to its serialized read-modify-write path.
type BackendlessStore struct {
	baseURL string
	client  *http.Client
}

// NewBackendless creates a store backed by the Backendless data API at baseURL
// (e.g. "https://example.backendless.app/api").
func NewBackendless(baseURL string) *BackendlessStore {
	return &BackendlessStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type backendlessUser struct {
	ObjectID           string  `json:"objectId"`
	CurrentThreadID    *string `json:"currentThreadId"`
	DailyQuestionCount *int    `json:"dailyQuestionCount"`
}

func (s *BackendlessStore) userURL(objectID string) string {
	return s.baseURL + "/data/Users/" + url.PathEscape(objectID)
}

func (s *BackendlessStore) do(ctx context.Context, method, rawURL, credential string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if credential != "" {
		req.Header.Set("user-token", credential)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: HTTP %d: %s", method, rawURL, resp.StatusCode, truncate(data, 256))
	}
	return data, nil
}

func (s *BackendlessStore) GetUser(ctx context.Context, credential, objectID string) (*UserRecord, error) {
	data, err := s.do(ctx, http.MethodGet, s.userURL(objectID), credential, nil)
	if err != nil {
		return nil, err
	}

	var u backendlessUser
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode user record: %w", err)
	}

	rec := &UserRecord{ObjectID: objectID}
	if u.CurrentThreadID != nil {
		rec.ThreadID = *u.CurrentThreadID
	}
	if u.DailyQuestionCount != nil {
		rec.QuestionCount = *u.DailyQuestionCount
	}
	return rec, nil
}

func (s *BackendlessStore) SetThreadID(ctx context.Context, credential, objectID, threadID string) error {
	payload := map[string]any{"currentThreadId": nil}
	if threadID != "" {
		payload["currentThreadId"] = threadID
	}
	_, err := s.do(ctx, http.MethodPut, s.userURL(objectID), credential, payload)
	return err
}

func (s *BackendlessStore) SetQuestionCount(ctx context.Context, credential, objectID string, n int) error {
	_, err := s.do(ctx, http.MethodPut, s.userURL(objectID), credential, map[string]any{"dailyQuestionCount": n})
	return err
}

func (s *BackendlessStore) ActivateSubscription(ctx context.Context, ownerID, stripeSubscriptionID string) error {
	where := url.QueryEscape(fmt.Sprintf("ownerId.objectId = '%s'", ownerID))
	queryURL := s.baseURL + "/data/Subscriptions?where=" + where

	data, err := s.do(ctx, http.MethodGet, queryURL, "", nil)
	if err != nil {
		return err
	}

	var subs []struct {
		ObjectID string `json:"objectId"`
	}
	if err := json.Unmarshal(data, &subs); err != nil {
		return fmt.Errorf("decode subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return ErrNotFound
	}

	updateURL := s.baseURL + "/data/Subscriptions/" + url.PathEscape(subs[0].ObjectID)
	_, err = s.do(ctx, http.MethodPut, updateURL, "", map[string]any{
		"status":               "active",
		"stripeSubscriptionId": stripeSubscriptionID,
	})
	return err
}

func (s *BackendlessStore) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("record store unreachable: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}

func (s *BackendlessStore) Close() error { return nil }

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
