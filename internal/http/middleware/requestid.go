package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxRequestIDLength = 64

type requestIDKey struct{}

// RequestID tags the request with an id and stores a logger carrying that id
// in the context. Oversized or multi-line incoming ids are replaced.
func RequestID(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
			if requestID == "" || len(requestID) > maxRequestIDLength || strings.ContainsAny(requestID, "\r\n") {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", requestID)

			ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
			ctx = logger.With().Str("request_id", requestID).Logger().WithContext(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetRequestID(ctx context.Context) string {
	if value, ok := ctx.Value(requestIDKey{}).(string); ok {
		return value
	}
	return "unknown"
}
