package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/iago/genbot-dispatch/internal/http/middleware"
	"github.com/iago/genbot-dispatch/internal/queue"
)

// QueueInspector is the read side of the queue client. *queue.Client implements it.
type QueueInspector interface {
	AllStats(ctx context.Context) ([]queue.Stats, error)
	Peek(ctx context.Context, name string, limit int) ([]json.RawMessage, error)
}

type API struct {
	queues QueueInspector
}

func NewAPI(queues QueueInspector) *API {
	return &API{queues: queues}
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

var writeError = middleware.WriteJSONError
