package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/handler"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/mode"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/wtu"
)

type noopMultiplierLookup struct{}

func (noopMultiplierLookup) LookupMultipliers(ctx context.Context, alias string) (float64, float64, bool) {
	return 1.0, 1.0, false
}

func postJSON(t *testing.T, h http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebpageSyncRequiresURL(t *testing.T) {
	h := handler.New(zerolog.Nop(), nil, nil, nil, nil, nil)
	rec := postJSON(t, h.WebpageSync, map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebpageSyncReturnsCacheKey(t *testing.T) {
	h := handler.New(zerolog.Nop(), nil, nil, nil, nil, nil)
	rec := postJSON(t, h.WebpageSync, map[string]any{"url": "https://example.com/a"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["cache_key"] == "" {
		t.Fatalf("expected non-empty cache_key, got %+v", resp)
	}
}

func TestWebpageSummarizeNotConfiguredReturns503(t *testing.T) {
	h := handler.New(zerolog.Nop(), nil, nil, nil, nil, nil)
	rec := postJSON(t, h.WebpageSummarize, map[string]any{"user_id": "u1", "extracted_text": "text"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestModeSelectDegradesGracefullyWithNoCollaborators(t *testing.T) {
	selector := mode.New(zerolog.Nop(), nil, nil, nil)
	h := handler.New(zerolog.Nop(), nil, selector, nil, nil, nil)

	rec := postJSON(t, h.ModeSelect, map[string]any{
		"user_id":           "u1",
		"task_type":         "summary",
		"quality_threshold": 0.97,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var decision mode.Decision
	if err := json.Unmarshal(rec.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decision.SelectedMode == "" {
		t.Fatalf("expected a selected mode, got %+v", decision)
	}
}

func TestModeSelectRequiresUserID(t *testing.T) {
	selector := mode.New(zerolog.Nop(), nil, nil, nil)
	h := handler.New(zerolog.Nop(), nil, selector, nil, nil, nil)

	rec := postJSON(t, h.ModeSelect, map[string]any{"task_type": "summary"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSmartRoutingNotConfiguredReturns503(t *testing.T) {
	h := handler.New(zerolog.Nop(), nil, nil, nil, nil, nil)
	rec := postJSON(t, h.SmartRouting, map[string]any{"user_id": "u1", "request_type": "summary"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestBalanceRequiresUserID(t *testing.T) {
	accountant := wtu.NewAccountant(zerolog.Nop(), wtu.NewInMemoryStore(100), noopMultiplierLookup{})
	h := handler.New(zerolog.Nop(), nil, nil, nil, accountant, nil)

	req := httptest.NewRequest(http.MethodGet, "/v2/wtu/balance", nil)
	rec := httptest.NewRecorder()
	h.Balance(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestBalanceReturnsDefaultQuota(t *testing.T) {
	accountant := wtu.NewAccountant(zerolog.Nop(), wtu.NewInMemoryStore(100), noopMultiplierLookup{})
	h := handler.New(zerolog.Nop(), nil, nil, nil, accountant, nil)

	req := httptest.NewRequest(http.MethodGet, "/v2/wtu/balance?user_id=u1", nil)
	rec := httptest.NewRecorder()
	h.Balance(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["remaining"].(float64) != 100 {
		t.Fatalf("expected remaining=100, got %+v", resp)
	}
}

func TestAddQuotaThenListPurchases(t *testing.T) {
	accountant := wtu.NewAccountant(zerolog.Nop(), wtu.NewInMemoryStore(100), noopMultiplierLookup{})
	h := handler.New(zerolog.Nop(), nil, nil, nil, accountant, nil)

	rec := postJSON(t, h.AddQuota, map[string]any{"user_id": "u1", "amount": 50, "reason": "plan_upgrade"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/v2/wtu/purchases?user_id=u1", nil)
	listRec := httptest.NewRecorder()
	h.Purchases(listRec, req)
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listRec.Code)
	}

	var purchases []wtu.PurchaseEvent
	if err := json.Unmarshal(listRec.Body.Bytes(), &purchases); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(purchases) != 1 || purchases[0].Amount != 50 {
		t.Fatalf("expected one purchase of 50, got %+v", purchases)
	}
}

func TestRoutingStatsNotConfiguredReturns503(t *testing.T) {
	h := handler.New(zerolog.Nop(), nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/v2/monitoring/routing-stats", nil)
	rec := httptest.NewRecorder()
	h.RoutingStats(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestSystemStatusHealthyWithNoCollaborators(t *testing.T) {
	h := handler.New(zerolog.Nop(), nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/v2/monitoring/system-status", nil)
	rec := httptest.NewRecorder()
	h.SystemStatus(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
