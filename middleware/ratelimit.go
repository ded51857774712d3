package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type slidingWindow struct {
	timestamps []time.Time
}

func (s *slidingWindow) allow(now time.Time, rpm, burst int) bool {
	cutoff := now.Add(-time.Minute)
	kept := s.timestamps[:0]
	for _, ts := range s.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	s.timestamps = kept

	if len(s.timestamps) >= rpm+burst {
		return false
	}
	s.timestamps = append(s.timestamps, now)
	return true
}

// RateLimiter enforces a per-user sliding-window request rate, keyed
// off the authenticated user ID rather than the raw credential so a
// rotated key doesn't reset a user's budget.
type RateLimiter struct {
	logger  zerolog.Logger
	enabled bool
	rpm     int
	burst   int

	mu      sync.Mutex
	windows map[string]*slidingWindow
}

// NewRateLimiter builds a RateLimiter.
func NewRateLimiter(logger zerolog.Logger, enabled bool, rpm, burst int) *RateLimiter {
	return &RateLimiter{
		logger:  logger.With().Str("component", "rate_limiter").Logger(),
		enabled: enabled,
		rpm:     rpm,
		burst:   burst,
		windows: make(map[string]*slidingWindow),
	}
}

// Handler enforces the rate limit on the wrapped handler.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.enabled {
			next.ServeHTTP(w, r)
			return
		}

		key := GetUserID(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}

		allowed, remaining := rl.allow(key)
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.rpm))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Minute).Unix()))

		if !allowed {
			rl.logger.Warn().Str("key", key).Msg("rate limit exceeded")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok {
		w = &slidingWindow{}
		rl.windows[key] = w
	}

	now := time.Now()
	allowed := w.allow(now, rl.rpm, rl.burst)
	remaining := rl.rpm + rl.burst - len(w.timestamps)
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}

// Cleanup drops windows that have gone idle, to bound memory growth.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-time.Minute)
	for key, w := range rl.windows {
		stillActive := false
		for _, ts := range w.timestamps {
			if ts.After(cutoff) {
				stillActive = true
				break
			}
		}
		if !stillActive {
			delete(rl.windows, key)
		}
	}
}
