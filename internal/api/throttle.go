package api

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// clientThrottle is the coarse per-client limiter for the human API. It
// has nothing to do with agent governance; it just keeps one noisy client
// from starving the rest.
type clientThrottle struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter

	requestsPerSecond float64
	burst             int
}

func newClientThrottle(requestsPerSecond float64, burst int) *clientThrottle {
	return &clientThrottle{
		limiters:          make(map[string]*rate.Limiter),
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
	}
}

func (t *clientThrottle) limiterFor(clientID string) *rate.Limiter {
	t.mu.RLock()
	l, ok := t.limiters[clientID]
	t.mu.RUnlock()
	if ok {
		return l
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.limiters[clientID]; ok {
		return l
	}
	l = rate.NewLimiter(rate.Limit(t.requestsPerSecond), t.burst)
	t.limiters[clientID] = l
	return l
}

// middleware keys clients by remote address (chi's RealIP middleware has
// already rewritten it from the forwarding headers).
func (t *clientThrottle) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.limiterFor(r.RemoteAddr).Allow() {
			Error(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
