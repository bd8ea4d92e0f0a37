// Package ratelimit throttles API requests per client address.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/linnemanlabs/go-core/httpmw"
)

// idleTTL is how long an unused client limiter is kept.
const idleTTL = 10 * time.Minute

// Limiter hands out one token bucket per client.
type Limiter struct {
	limit    rate.Limit
	burst    int
	limiters *gocache.Cache
}

// New creates a Limiter allowing rps requests per second with the given
// burst per client. burst < 1 is raised to 1.
func New(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: gocache.New(idleTTL, idleTTL),
	}
}

// Allow reports whether the client identified by key may proceed now.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

func (l *Limiter) get(key string) *rate.Limiter {
	if v, ok := l.limiters.Get(key); ok {
		lim := v.(*rate.Limiter) //nolint:errcheck,forcetypeassert // only *rate.Limiter is stored
		// refresh expiry on use
		l.limiters.SetDefault(key, lim)
		return lim
	}

	lim := rate.NewLimiter(l.limit, l.burst)
	if err := l.limiters.Add(key, lim, gocache.DefaultExpiration); err != nil {
		// lost the race; use the winner's bucket
		if v, ok := l.limiters.Get(key); ok {
			return v.(*rate.Limiter) //nolint:errcheck,forcetypeassert // only *rate.Limiter is stored
		}
	}
	return lim
}

// Middleware rejects requests over the limit with 429 and a Retry-After header.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	retryAfter := "1"
	if l.limit > 0 {
		retryAfter = strconv.Itoa(max(1, int(1/float64(l.limit))))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r)) {
			w.Header().Set("Retry-After", retryAfter)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller by the IP resolved by httpmw.ClientIP,
// falling back to the remote IP without the port.
func clientKey(r *http.Request) string {
	if ip := httpmw.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
