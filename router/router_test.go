package router_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/config"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/handler"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/router"
)

func testSetup() http.Handler {
	cfg := &config.Config{
		Addr:             ":0",
		Env:              "test",
		RateLimitEnabled: false,
		APIKeyHeader:     "Authorization",
		MaxBodyBytes:     1 << 20,
		DefaultTimeout:   5 * time.Second,
	}
	log := zerolog.New(io.Discard).With().Timestamp().Logger()
	h := handler.New(log, nil, nil, nil, nil, nil)
	return router.New(cfg, log, h)
}

func TestHealthzDoesNotRequireAuth(t *testing.T) {
	r := testSetup()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestV1RouteRequiresAuth(t *testing.T) {
	r := testSetup()
	req := httptest.NewRequest(http.MethodPost, "/v1/clipper/webpage/sync", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}
}

func TestV2RouteAuthenticatedReachesHandler(t *testing.T) {
	r := testSetup()
	req := httptest.NewRequest(http.MethodGet, "/v2/monitoring/system-status", nil)
	req.Header.Set("Authorization", "Bearer test-key")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	r := testSetup()
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
