package middleware

import (
	"context"
	"net/http"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/config"
)

// Timeout bounds every request to cfg.DefaultTimeout. The teacher
// resolves a timeout per provider/model since it proxies directly to
// upstream LLM APIs; this service sits a layer above that and applies
// one uniform deadline instead.
type Timeout struct {
	cfg *config.Config
}

// NewTimeout builds a Timeout middleware.
func NewTimeout(cfg *config.Config) *Timeout {
	return &Timeout{cfg: cfg}
}

// Handler wraps the request context with a deadline.
func (t *Timeout) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), t.cfg.DefaultTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
