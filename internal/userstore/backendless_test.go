package userstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBackendless_GetUser(t *testing.T) {
	var gotToken, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("user-token")
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"objectId":"u1","currentThreadId":"th_9","dailyQuestionCount":7}`))
	}))
	defer srv.Close()

	s := NewBackendless(srv.URL)
	rec, err := s.GetUser(context.Background(), "tok-123", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ThreadID != "th_9" || rec.QuestionCount != 7 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if gotToken != "tok-123" {
		t.Errorf("expected user-token forwarded, got %q", gotToken)
	}
	if gotPath != "/data/Users/u1" {
		t.Errorf("unexpected path %q", gotPath)
	}
}

func TestBackendless_GetUserNullFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"objectId":"u1","currentThreadId":null,"dailyQuestionCount":null}`))
	}))
	defer srv.Close()

	rec, err := NewBackendless(srv.URL).GetUser(context.Background(), "tok", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ThreadID != "" || rec.QuestionCount != 0 {
		t.Errorf("expected zero values for null fields, got %+v", rec)
	}
}

func TestBackendless_GetUserNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewBackendless(srv.URL).GetUser(context.Background(), "tok", "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBackendless_SetThreadID(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	s := NewBackendless(srv.URL)
	ctx := context.Background()

	if err := s.SetThreadID(ctx, "tok", "u1", "th_new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["currentThreadId"] != "th_new" {
		t.Errorf("expected currentThreadId th_new, got %v", body["currentThreadId"])
	}

	// Clearing sends an explicit null so the hosted field is actually unset.
	if err := s.SetThreadID(ctx, "tok", "u1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, present := body["currentThreadId"]
	if !present || v != nil {
		t.Errorf("expected currentThreadId:null, got %v (present=%v)", v, present)
	}
}

func TestBackendless_SetQuestionCount(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if err := NewBackendless(srv.URL).SetQuestionCount(context.Background(), "tok", "u1", 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["dailyQuestionCount"] != float64(42) {
		t.Errorf("expected dailyQuestionCount 42, got %v", body["dailyQuestionCount"])
	}
}

func TestBackendless_ActivateSubscription(t *testing.T) {
	var updatePath string
	var updateBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/data/Subscriptions":
			where := r.URL.Query().Get("where")
			if !strings.Contains(where, "owner1") {
				t.Errorf("unexpected where clause %q", where)
			}
			_, _ = w.Write([]byte(`[{"objectId":"sub_rec_1"}]`))
		case r.Method == http.MethodPut:
			updatePath = r.URL.Path
			_ = json.NewDecoder(r.Body).Decode(&updateBody)
			_, _ = w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	if err := NewBackendless(srv.URL).ActivateSubscription(context.Background(), "owner1", "sub_stripe_9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updatePath != "/data/Subscriptions/sub_rec_1" {
		t.Errorf("unexpected update path %q", updatePath)
	}
	if updateBody["status"] != "active" || updateBody["stripeSubscriptionId"] != "sub_stripe_9" {
		t.Errorf("unexpected update body %v", updateBody)
	}
}

func TestBackendless_ActivateSubscriptionNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	err := NewBackendless(srv.URL).ActivateSubscription(context.Background(), "owner1", "sub_x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBackendless_ServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewBackendless(srv.URL).GetUser(context.Background(), "tok", "u1")
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected HTTP 500 error, got %v", err)
	}
}
