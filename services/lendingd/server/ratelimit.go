package server

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/MELD-labs/evm-defi-public-sub006/observability"
)

// RateLimiter throttles mutating requests per caller. Callers are identified
// by their API key when authenticated, falling back to the remote address.
type RateLimiter struct {
	perSecond rate.Limit
	burst     int

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

// NewRateLimiter allows requestsPerMinute sustained requests with the given
// burst per caller. A zero or negative rate disables throttling.
func NewRateLimiter(requestsPerMinute float64, burst int) *RateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		perSecond: rate.Limit(requestsPerMinute / 60.0),
		burst:     burst,
		visitors:  make(map[string]*rate.Limiter),
	}
}

// Middleware enforces the limit, tagging rejections with the operation name
// in the throttle metrics.
func (r *RateLimiter) Middleware(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if r == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !r.obtain(clientID(req)).Allow() {
				observability.LendingMetrics().RecordThrottle(operation, "rate_limit")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *RateLimiter) obtain(id string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	limiter, ok := r.visitors[id]
	if !ok {
		limiter = rate.NewLimiter(r.perSecond, r.burst)
		r.visitors[id] = limiter
	}
	return limiter
}

func clientID(req *http.Request) string {
	if key := strings.TrimSpace(req.Header.Get(HeaderAPIKey)); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
