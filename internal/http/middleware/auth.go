package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth requires a static bearer token on every path except the public ones.
// An empty token disables the check.
func Auth(requiredToken string, public ...string) func(http.Handler) http.Handler {
	open := make(map[string]struct{}, len(public))
	for _, path := range public {
		open[path] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := open[r.URL.Path]; ok || requiredToken == "" {
				next.ServeHTTP(w, r)
				return
			}

			scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
			token = strings.TrimSpace(token)
			if !found || !strings.EqualFold(scheme, "Bearer") || subtle.ConstantTimeCompare([]byte(token), []byte(requiredToken)) != 1 {
				WriteJSONError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
