package imagegen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/iago/genbot-dispatch/internal/poll"
)

func TestClientSubmitsActionsWithLineageHash(t *testing.T) {
	var lastPath, lastHash string
	var lastChoice float64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "mj-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		lastPath = r.URL.Path
		lastHash, _ = payload["hash"].(string)
		lastChoice, _ = payload["choice"].(float64)
		_, _ = w.Write([]byte(`{"hash":"new-hash"}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{APIKey: "mj-key", BaseURL: server.URL})
	ctx := context.Background()

	hash, err := client.Imagine(ctx, "a lighthouse")
	if err != nil || hash != "new-hash" || lastPath != "/midjourney/v2/imagine" {
		t.Fatalf("imagine: hash=%q path=%q err=%v", hash, lastPath, err)
	}

	if _, err := client.Upscale(ctx, "h2", 3); err != nil {
		t.Fatalf("upscale failed: %v", err)
	}
	if lastPath != "/midjourney/v2/upscale" || lastHash != "h2" || lastChoice != 3 {
		t.Fatalf("unexpected upscale request path=%q hash=%q choice=%v", lastPath, lastHash, lastChoice)
	}

	if _, err := client.Reroll(ctx, "h1"); err != nil || lastPath != "/midjourney/v2/reroll" || lastHash != "h1" {
		t.Fatalf("unexpected reroll request path=%q hash=%q err=%v", lastPath, lastHash, err)
	}

	if _, err := client.Variation(ctx, "h2", 9); err == nil {
		t.Fatalf("expected out of range choice to fail")
	}
}

func TestClientCheckClassifiesStatus(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("hash") {
		case "pending":
			_, _ = w.Write([]byte(`{"hash":"pending","status":"progress"}`))
		case "done":
			_, _ = w.Write([]byte(`{"hash":"done","status":"done","result":{"url":"https://cdn.example/x.png","filename":"x.png","size":1200}}`))
		case "failed":
			_, _ = w.Write([]byte(`{"hash":"failed","status":"failed","status_reason":"timeout"}`))
		case "unavailable":
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"unknown hash"}`))
		}
	}))
	defer server.Close()

	client := NewClient(ClientConfig{APIKey: "mj-key", BaseURL: server.URL, MaxRetries: -1})
	ctx := context.Background()

	cases := map[string]poll.Status{
		"pending":     poll.StatusPending,
		"done":        poll.StatusDone,
		"failed":      poll.StatusRetryable,
		"unavailable": poll.StatusRetryable,
		"bogus":       poll.StatusTerminal,
	}
	for hash, want := range cases {
		if got := client.Check(ctx, hash).Status; got != want {
			t.Fatalf("hash %s: expected %s, got %s", hash, want, got)
		}
	}

	done := client.Check(ctx, "done")
	if done.Value.URL != "https://cdn.example/x.png" || done.Value.Size != 1200 {
		t.Fatalf("unexpected image %+v", done.Value)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected no transport retries inside Check, got %d calls", calls)
	}
}
