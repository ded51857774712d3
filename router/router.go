package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/config"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/handler"
	orchmw "github.com/LinkyBoard/linkyboard-ai/services/orchestrator/middleware"
)

// New returns a configured chi.Router with the full middleware chain
// and every route from spec.md §6 mounted.
func New(cfg *config.Config, appLogger zerolog.Logger, h *handler.Handler) http.Handler {
	r := chi.NewRouter()

	// --- Middleware chain (order matters) ---
	r.Use(orchmw.CORS([]string{"*"}))
	r.Use(orchmw.SecurityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(appLogger))
	r.Use(maxBodySize(cfg.MaxBodyBytes))

	// --- Health endpoints (no auth required) ---
	r.Get("/healthz", healthJSON(`{"status":"ok","service":"orchestrator"}`))
	r.Get("/ready", healthJSON(`{"status":"ready","service":"orchestrator"}`))
	r.Get("/health", healthJSON(`{"status":"healthy","service":"orchestrator"}`))

	authMW := orchmw.NewAuth(appLogger, cfg.APIKeyHeader)
	rateLimiter := orchmw.NewRateLimiter(appLogger, cfg.RateLimitEnabled, cfg.RateLimitRPM, cfg.RateLimitBurst)
	timeoutMW := orchmw.NewTimeout(cfg)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMW.Handler)
		r.Use(rateLimiter.Handler)
		r.Use(timeoutMW.Handler)

		r.Post("/clipper/webpage/sync", h.WebpageSync)
		r.Post("/clipper/webpage/summarize", h.WebpageSummarize)
		r.Post("/clipper/youtube/summarize", h.YouTubeSummarize)
		r.Post("/clipper/record-usage", h.RecordUsage)
	})

	r.Route("/v2", func(r chi.Router) {
		r.Use(authMW.Handler)
		r.Use(rateLimiter.Handler)
		r.Use(timeoutMW.Handler)

		r.Post("/mode/select", h.ModeSelect)
		r.Post("/ai/smart-routing", h.SmartRouting)
		r.Get("/monitoring/system-status", h.SystemStatus)
		r.Get("/monitoring/routing-stats", h.RoutingStats)

		r.Get("/wtu/balance", h.Balance)
		r.Post("/wtu/purchases", h.AddQuota)
		r.Get("/wtu/purchases", h.Purchases)
	})

	return r
}

func healthJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}
}

func maxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > 0 && r.ContentLength > maxBytes {
				http.Error(w, `{"error_code":"request_too_large","message":"request body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", chimw.GetReqID(r.Context())).
				Int("status", rw.Status()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}
