package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/iago/genbot-dispatch/internal/http/handlers"
	"github.com/iago/genbot-dispatch/internal/http/middleware"
	"github.com/rs/zerolog"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         zerolog.Logger
	AuthToken      string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter serves the worker ops surface: health and queue inspection.
func NewRouter(deps RouterDependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(deps.Logger.With().Str("component", "ops_http").Logger()))
	r.Use(middleware.Trace)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst))
	r.Use(middleware.Auth(deps.AuthToken, "/healthz"))

	r.Get("/healthz", deps.API.Health)
	r.Route("/v1/queues", func(r chi.Router) {
		r.Get("/", deps.API.Queues)
		r.Get("/{name}/errors", deps.API.DeadLetters)
	})
	return r
}
