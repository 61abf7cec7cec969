package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/iago/genbot-dispatch/internal/http/handlers"
	"github.com/iago/genbot-dispatch/internal/queue"
	"github.com/rs/zerolog"
)

type fakeInspector struct {
	stats     []queue.Stats
	peeked    map[string][]json.RawMessage
	err       error
	lastName  string
	lastLimit int
}

func (f *fakeInspector) AllStats(context.Context) ([]queue.Stats, error) {
	return f.stats, f.err
}

func (f *fakeInspector) Peek(_ context.Context, name string, limit int) ([]json.RawMessage, error) {
	f.lastName = name
	f.lastLimit = limit
	return f.peeked[name], f.err
}

func newTestRouter(inspector *fakeInspector, token string) http.Handler {
	return NewRouter(RouterDependencies{
		API:       handlers.NewAPI(inspector),
		Logger:    zerolog.New(io.Discard),
		AuthToken: token,
	})
}

func TestHealthz(t *testing.T) {
	recorder := httptest.NewRecorder()
	newTestRouter(&fakeInspector{}, "secret").ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if recorder.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestHealthzDegradedWithoutBroker(t *testing.T) {
	recorder := httptest.NewRecorder()
	newTestRouter(&fakeInspector{err: errors.New("redis down")}, "secret").
		ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(recorder.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "degraded" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestQueuesRequiresToken(t *testing.T) {
	router := newTestRouter(&fakeInspector{}, "secret")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/queues", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}

	request := httptest.NewRequest(http.MethodGet, "/v1/queues", nil)
	request.Header.Set("Authorization", "Bearer wrong")
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a wrong token, got %d", recorder.Code)
	}
}

func TestQueuesListsStats(t *testing.T) {
	inspector := &fakeInspector{stats: []queue.Stats{{Queue: "chatgpt", Pending: 3, InFlight: 1}}}
	request := httptest.NewRequest(http.MethodGet, "/v1/queues", nil)
	request.Header.Set("Authorization", "Bearer secret")
	recorder := httptest.NewRecorder()

	newTestRouter(inspector, "secret").ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var body struct {
		Queues []queue.Stats `json:"queues"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Queues) != 1 || body.Queues[0].Pending != 3 || body.Queues[0].InFlight != 1 {
		t.Fatalf("unexpected stats: %+v", body.Queues)
	}
}

func TestDeadLettersPeeksErrorsQueue(t *testing.T) {
	inspector := &fakeInspector{peeked: map[string][]json.RawMessage{
		"chatgpt_errors": {json.RawMessage(`{"id":"a","error":"boom"}`)},
	}}
	router := newTestRouter(inspector, "")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/queues/chatgpt/errors?limit=500", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if inspector.lastName != "chatgpt_errors" || inspector.lastLimit != 100 {
		t.Fatalf("unexpected peek %q limit %d", inspector.lastName, inspector.lastLimit)
	}
	var body struct {
		Queue string `json:"queue"`
		Count int    `json:"count"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Queue != "chatgpt_errors" || body.Count != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/queues/chatgpt/errors?limit=abc", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad limit, got %d", recorder.Code)
	}
}

func TestQueuesBrokerFailure(t *testing.T) {
	recorder := httptest.NewRecorder()
	newTestRouter(&fakeInspector{err: errors.New("redis down")}, "").
		ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/queues", nil))
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", recorder.Code)
	}
}

func TestDeadLettersMasksMessageText(t *testing.T) {
	inspector := &fakeInspector{peeked: map[string][]json.RawMessage{
		"claude_errors": {json.RawMessage(`{"id":"b","user_id":7,"message":"mail me at someone@example.org","error":"timeout"}`)},
	}}
	recorder := httptest.NewRecorder()
	newTestRouter(inspector, "").ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/queues/claude_errors/errors", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	var body struct {
		Messages []struct {
			ID      string `json:"id"`
			UserID  int64  `json:"user_id"`
			Message string `json:"message"`
			Error   string `json:"error"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(body.Messages))
	}
	got := body.Messages[0]
	if got.ID != "b" || got.UserID != 7 || got.Error != "timeout" {
		t.Fatalf("metadata changed: %+v", got)
	}
	if got.Message != "mail me at [email_redacted]" {
		t.Fatalf("expected masked message, got %q", got.Message)
	}
}
