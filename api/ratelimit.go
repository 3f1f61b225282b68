package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

// InstanceRateLimiter gives every block instance its own token bucket.
type InstanceRateLimiter struct {
	rps   rate.Limit
	burst int
	idle  time.Duration

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastSweep time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewInstanceRateLimiter allows rps requests per second per instance with
// the given burst. rps <= 0 disables limiting.
func NewInstanceRateLimiter(rps float64, burst int) *InstanceRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &InstanceRateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     3 * time.Minute,
		limiters: make(map[string]*limiterEntry),
	}
}

func (rl *InstanceRateLimiter) limiter(instanceID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > time.Minute {
		for k, e := range rl.limiters {
			if now.Sub(e.lastSeen) > rl.idle {
				delete(rl.limiters, k)
			}
		}
		rl.lastSweep = now
	}

	e, ok := rl.limiters[instanceID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[instanceID] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Allow reports whether a request for instanceID may proceed now.
func (rl *InstanceRateLimiter) Allow(instanceID string) bool {
	if rl == nil || rl.rps <= 0 {
		return true
	}
	return rl.limiter(instanceID).Allow()
}

// Middleware limits on the {id} route parameter.
func (rl *InstanceRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		instanceID := chi.URLParam(r, "id")
		if !rl.Allow(instanceID) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "", "too many requests for this block instance")
			return
		}
		next.ServeHTTP(w, r)
	})
}
