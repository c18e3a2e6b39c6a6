package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/japaniel/sragetl/pkg/config"
)

func testClient(url string, retries int) *Client {
	c := NewClient(config.ChatConfig{Endpoint: url, Model: "test-model", APIKey: "sk-test", MaxRetries: retries, TimeoutSecs: 5}, nil)
	c.backoff = time.Millisecond
	return c
}

func TestCompleteSendsMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" || len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "olá" {
			t.Errorf("unexpected request %+v", req)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  resposta  "}}]}`))
	}))
	defer srv.Close()

	out, err := testClient(srv.URL, 0).Complete(context.Background(), []Message{{Role: "user", Content: "olá"}})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != "resposta" {
		t.Fatalf("unexpected completion %q", out)
	}
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	out, err := testClient(srv.URL, 3).Complete(context.Background(), nil)
	if err != nil || out != "ok" {
		t.Fatalf("Complete = (%q, %v), want (ok, nil)", out, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestCompleteGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "limit", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 2).Complete(context.Background(), nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected APIError 429, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 3).Complete(context.Background(), nil)
	if err == nil || calls.Load() != 1 {
		t.Fatalf("expected one failed call, got %d calls and err %v", calls.Load(), err)
	}
}

func TestCompleteMisconfigured(t *testing.T) {
	c := NewClient(config.ChatConfig{Endpoint: "http://localhost", Model: "m"}, nil)
	if _, err := c.Complete(context.Background(), nil); !errors.Is(err, ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 0)
	for i := 0; i < BreakerThreshold; i++ {
		if _, err := c.Complete(context.Background(), nil); err == nil {
			t.Fatalf("call %d: expected an error", i)
		}
	}
	_, err := c.Complete(context.Background(), nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected ErrOpenState, got %v", err)
	}
	if calls.Load() != BreakerThreshold {
		t.Fatalf("open breaker should not reach the server; got %d calls", calls.Load())
	}
}
