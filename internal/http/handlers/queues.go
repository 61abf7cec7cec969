package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/iago/genbot-dispatch/internal/domain"
	"github.com/iago/genbot-dispatch/internal/policy"
	"github.com/rs/zerolog"
)

const (
	defaultPeekLimit = 20
	maxPeekLimit     = 100
)

// Queues lists pending and in-flight counts for every known queue.
func (api *API) Queues(w http.ResponseWriter, r *http.Request) {
	stats, err := api.queues.AllStats(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("queue stats failed")
		writeError(w, r, http.StatusBadGateway, "broker_unavailable", "queue stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": stats})
}

// DeadLetters shows the oldest failed envelopes of a queue without removing them.
// Free text in the envelopes is masked for PII.
// The name may be given with or without the _errors suffix.
func (api *API) DeadLetters(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_queue", "queue name is required")
		return
	}
	if !domain.IsErrorsQueue(name) {
		name = domain.ErrorsQueue(name)
	}

	limit := defaultPeekLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxPeekLimit)
	}

	messages, err := api.queues.Peek(r.Context(), name, limit)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("queue", name).Msg("dead letter peek failed")
		writeError(w, r, http.StatusBadGateway, "broker_unavailable", "dead letters unavailable")
		return
	}
	for index, message := range messages {
		messages[index] = policy.MaskEnvelopeText(message, policy.TextFields...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queue":    name,
		"count":    len(messages),
		"messages": messages,
	})
}
