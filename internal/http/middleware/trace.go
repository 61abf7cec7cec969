package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Trace logs one line per request through the request-scoped logger.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)

		event := zerolog.Ctx(r.Context()).Info()
		if wrapped.Status() >= http.StatusInternalServerError {
			event = zerolog.Ctx(r.Context()).Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.Status()).
			Int("bytes", wrapped.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
