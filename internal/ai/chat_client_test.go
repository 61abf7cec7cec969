package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestChatClientCompleteSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not_found"}`))
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		var payload struct {
			Messages []map[string]string `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if len(payload.Messages) != 3 || payload.Messages[2]["role"] != "user" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad history"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"gpt-4o-mini-2024-07-18",
			"choices":[{"message":{"role":"assistant","content":"Hello there"}}],
			"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}
		}`))
	}))
	defer server.Close()

	client := NewChatClient(ChatClientConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 1,
	})

	result, err := client.Complete(context.Background(), ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hey"},
			{Role: RoleUser, Content: "hello"},
		},
	})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if result.Text != "Hello there" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if result.Usage.TotalTokens != 15 || result.ModelID != "gpt-4o-mini-2024-07-18" {
		t.Fatalf("unexpected result metadata %+v", result)
	}
}

func TestChatClientRetriesOnRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limited"}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer server.Close()

	client := NewChatClient(ChatClientConfig{APIKey: "test-key", BaseURL: server.URL, MaxRetries: 2})
	result, err := client.Complete(context.Background(), ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("expected success after retry, got err=%v", err)
	}
	if result.Text != "ok" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls and text ok, got calls=%d text=%q", calls, result.Text)
	}
}

func TestChatClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"context_length_exceeded"}`))
	}))
	defer server.Close()

	client := NewChatClient(ChatClientConfig{APIKey: "test-key", BaseURL: server.URL, MaxRetries: 3})
	_, err := client.Complete(context.Background(), ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})

	var httpErr *ProviderHTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected ProviderHTTPError 400, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestChatClientParsesArrayContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"line 1"},{"type":"text","text":"line 2"}]}}]
		}`))
	}))
	defer server.Close()

	client := NewChatClient(ChatClientConfig{APIKey: "test-key", BaseURL: server.URL})
	result, err := client.Complete(context.Background(), ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if result.Text != "line 1\nline 2" {
		t.Fatalf("unexpected parsed text: %q", result.Text)
	}
}

func TestChatClientUnavailableWithoutKey(t *testing.T) {
	client := NewChatClient(ChatClientConfig{})
	_, err := client.Complete(context.Background(), ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&ProviderHTTPError{StatusCode: 429}, true},
		{&ProviderHTTPError{StatusCode: 502}, true},
		{&ProviderHTTPError{StatusCode: 401}, false},
		{context.DeadlineExceeded, true},
		{errors.New("openai transport error: connection refused"), true},
		{errors.New("decode chat response: unexpected EOF"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
