package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const healthBrokerTimeout = 2 * time.Second

// Health reports the worker as degraded when the broker cannot be reached.
func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthBrokerTimeout)
	defer cancel()

	if _, err := api.queues.AllStats(ctx); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("health check: broker unreachable")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "broker": "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "broker": "ok"})
}
