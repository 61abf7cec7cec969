package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRPS   = 5
	defaultBurst = 10
	idleTTL      = 3 * time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// buckets holds one token bucket per client. Idle buckets are dropped on the
// request path once a minute.
type buckets struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	clients   map[string]*bucket
	lastSweep time.Time
}

// reserve takes a token for client and reports how long the caller would have
// to wait for it. A positive wait means the request is refused and the token
// is returned.
func (b *buckets) reserve(client string, now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.lastSweep) > time.Minute {
		for key, item := range b.clients {
			if now.Sub(item.lastSeen) > idleTTL {
				delete(b.clients, key)
			}
		}
		b.lastSweep = now
	}

	item, ok := b.clients[client]
	if !ok {
		item = &bucket{limiter: rate.NewLimiter(b.limit, b.burst)}
		b.clients[client] = item
	}
	item.lastSeen = now

	reservation := item.limiter.ReserveN(now, 1)
	wait := reservation.DelayFrom(now)
	if wait > 0 {
		reservation.CancelAt(now)
	}
	return wait
}

// RateLimit throttles requests per client IP and answers 429 with a
// Retry-After hint.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		rps = defaultRPS
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	limits := &buckets{
		limit:     rate.Limit(rps),
		burst:     burst,
		clients:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if wait := limits.reserve(clientIP(r.RemoteAddr), time.Now()); wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				WriteJSONError(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
		return host
	}
	return remoteAddr
}
