// Package handler implements the HTTP surface named in spec.md §6: the
// clipper summarization endpoints, mode-decision-only endpoint, the
// end-to-end smart-routing endpoint, and the aggregated system-status
// health endpoint. It is illustrative wiring over the core packages,
// not a normative part of the domain model.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/cache"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/llmgateway"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/mode"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/smartrouter"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/summarize"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/wtu"
)

// Handler groups the domain collaborators the HTTP surface calls into.
// It holds no business logic of its own beyond request decoding,
// response encoding, and error-kind-to-status-code mapping (spec.md §7).
type Handler struct {
	logger      zerolog.Logger
	summarizer  *summarize.Pipeline
	modes       *mode.Selector
	router      *smartrouter.Router
	accountant  *wtu.Accountant
	gateways    *llmgateway.Registry
}

// New builds a Handler. Any collaborator may be nil; endpoints that need
// a missing one return 503 rather than panicking, except SystemStatus,
// which reports on whatever is wired.
func New(
	logger zerolog.Logger,
	summarizer *summarize.Pipeline,
	modes *mode.Selector,
	router *smartrouter.Router,
	accountant *wtu.Accountant,
	gateways *llmgateway.Registry,
) *Handler {
	return &Handler{
		logger:     logger.With().Str("component", "handler").Logger(),
		summarizer: summarizer,
		modes:      modes,
		router:     router,
		accountant: accountant,
		gateways:   gateways,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// --- Clipper endpoints (spec.md §6) ---

type syncRequest struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

type syncResponse struct {
	CacheKey            string   `json:"cache_key"`
	DuplicateCandidates  []string `json:"duplicate_candidates"`
	EmbeddingScheduled   bool     `json:"embedding_scheduled"`
}

// WebpageSync handles POST /v1/clipper/webpage/sync. Extraction and
// embedding generation are external collaborators (spec.md §1
// Non-goals); this handler computes the cache key so the caller can
// correlate with a later summarize call, and reports that embedding
// was scheduled without performing it itself.
func (h *Handler) WebpageSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeJSON(r, &req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "url is required")
		return
	}

	key := cache.ComputeCacheKey(cache.SourceWebpage, req.URL, nil)
	writeJSON(w, http.StatusOK, syncResponse{
		CacheKey:           key,
		DuplicateCandidates: nil,
		EmbeddingScheduled: true,
	})
}

type summarizeRequest struct {
	SourceURL     string `json:"source_url"`
	ExtractedText string `json:"extracted_text"`
	UserID        string `json:"user_id"`
	TagCount      int    `json:"tag_count"`
	Refresh       bool   `json:"refresh"`
}

type summarizeResponse struct {
	Summary             string   `json:"summary"`
	Tags                []string `json:"tags"`
	Category            string   `json:"category"`
	CandidateTags       []string `json:"candidate_tags"`
	CandidateCategories []string `json:"candidate_categories"`
	TotalWTU            int      `json:"total_wtu"`
	Cached              bool     `json:"cached"`
}

func (h *Handler) summarizeCommon(w http.ResponseWriter, r *http.Request, sourceType cache.SourceType) {
	if h.summarizer == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "summarization pipeline not wired")
		return
	}

	var req summarizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.UserID == "" || req.ExtractedText == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id and extracted_text are required")
		return
	}

	result, err := h.summarizer.Summarize(r.Context(), summarize.Request{
		SourceType:    sourceType,
		SourceURL:     req.SourceURL,
		ExtractedText: req.ExtractedText,
		UserID:        req.UserID,
		TagCount:      req.TagCount,
		Refresh:       req.Refresh,
	})
	if err != nil {
		h.writeSummarizeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summarizeResponse{
		Summary:             result.Summary,
		Tags:                result.Tags,
		Category:            result.Category,
		CandidateTags:       result.CandidateTags,
		CandidateCategories: result.CandidateCategories,
		TotalWTU:            result.TotalWTU,
		Cached:              result.Cached,
	})
}

func (h *Handler) writeSummarizeError(w http.ResponseWriter, err error) {
	var quotaErr *wtu.QuotaExceeded
	if errors.As(err, &quotaErr) {
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error_code": "quota_exceeded",
			"needed":     quotaErr.Needed,
			"remaining":  quotaErr.Remaining,
			"hint":       "purchase additional WTU quota to continue",
		})
		return
	}
	writeError(w, http.StatusBadGateway, "summarization_failed", err.Error())
}

// WebpageSummarize handles POST /v1/clipper/webpage/summarize.
func (h *Handler) WebpageSummarize(w http.ResponseWriter, r *http.Request) {
	h.summarizeCommon(w, r, cache.SourceWebpage)
}

// YouTubeSummarize handles POST /v1/clipper/youtube/summarize.
func (h *Handler) YouTubeSummarize(w http.ResponseWriter, r *http.Request) {
	h.summarizeCommon(w, r, cache.SourceYouTube)
}

type recordUsageRequest struct {
	UserID           string   `json:"user_id"`
	AcceptedTags     []string `json:"accepted_tags"`
	AcceptedCategory string   `json:"accepted_category"`
}

// RecordUsage handles POST /v1/clipper/record-usage: spec.md §4.6's
// write path, feeding a user's accepted tags and category back into
// their personalization profile.
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	if h.summarizer == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "summarization pipeline not wired")
		return
	}

	var req recordUsageRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	if err := h.summarizer.RecordUsage(r.Context(), req.UserID, req.AcceptedTags, req.AcceptedCategory); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// --- Mode selection & smart routing (spec.md §4.10, §4.11) ---

type modeSelectRequest struct {
	UserID               string   `json:"user_id"`
	RequestedMode        string   `json:"requested_mode"`
	TaskType             string   `json:"task_type"`
	ComplexityPreference string   `json:"complexity_preference"`
	QualityThreshold     float64  `json:"quality_threshold"`
	BudgetLimitWTU       *float64 `json:"budget_limit_wtu"`
}

// ModeSelect handles POST /v2/mode/select: return the Mode Selector's
// decision without executing anything.
func (h *Handler) ModeSelect(w http.ResponseWriter, r *http.Request) {
	if h.modes == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "mode selector not wired")
		return
	}

	var req modeSelectRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	decision := h.modes.Select(r.Context(), mode.Request{
		UserID:               req.UserID,
		RequestedMode:        req.RequestedMode,
		TaskType:             req.TaskType,
		ComplexityPreference: mode.ComplexityPreference(req.ComplexityPreference),
		QualityThreshold:     req.QualityThreshold,
		BudgetLimitWTU:       req.BudgetLimitWTU,
	})

	writeJSON(w, http.StatusOK, decision)
}

type smartRoutingRequest struct {
	RequestType           string         `json:"request_type"`
	RequestData           map[string]any `json:"request_data"`
	UserID                string         `json:"user_id"`
	BoardID               string         `json:"board_id"`
	ProcessingMode        string         `json:"processing_mode"`
	ComplexityPreference  string         `json:"complexity_preference"`
	QualityThreshold      float64        `json:"quality_threshold"`
	BudgetLimitWTU        *float64       `json:"budget_limit_wtu"`
	Complexity            int            `json:"complexity"`
}

// SmartRouting handles POST /v2/ai/smart-routing: end-to-end routed
// execution through either the agent or legacy path.
func (h *Handler) SmartRouting(w http.ResponseWriter, r *http.Request) {
	if h.router == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "smart router not wired")
		return
	}

	var req smartRoutingRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" || req.RequestType == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id and request_type are required")
		return
	}

	complexity := req.Complexity
	if complexity <= 0 {
		complexity = 2
	}

	result := h.router.Route(r.Context(), smartrouter.Request{
		RequestType:          req.RequestType,
		RequestData:          req.RequestData,
		UserID:               req.UserID,
		BoardID:              req.BoardID,
		ProcessingMode:       req.ProcessingMode,
		ComplexityPreference: mode.ComplexityPreference(req.ComplexityPreference),
		QualityThreshold:     req.QualityThreshold,
		BudgetLimitWTU:       req.BudgetLimitWTU,
		Complexity:           complexity,
	})

	// spec.md §7: partial/agent failure still returns 200 with success=false.
	writeJSON(w, http.StatusOK, map[string]any{
		"mode_used":         result.ModeUsed,
		"processing_result":  result.ProcessingResult,
		"execution_time_ms": result.ExecutionTime.Milliseconds(),
		"wtu_consumed":      result.WTUConsumed,
		"success":           result.Success,
		"fallback_used":     result.FallbackUsed,
		"error_message":     result.ErrorMessage,
	})
}

// --- Monitoring (spec.md §6) ---

type systemStatusResponse struct {
	Status    string                           `json:"status"`
	Providers map[string]llmgateway.HealthStatus `json:"providers,omitempty"`
	Router    *smartrouter.HealthStatus        `json:"router,omitempty"`
	CheckedAt time.Time                        `json:"checked_at"`
}

// SystemStatus handles GET /v2/monitoring/system-status: aggregated
// health of the LLM Gateway, Smart Router, and its collaborators.
func (h *Handler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := systemStatusResponse{Status: "healthy", CheckedAt: time.Now().UTC()}

	if h.gateways != nil {
		resp.Providers = h.gateways.HealthCheckAll(ctx)
		for _, s := range resp.Providers {
			if !s.Healthy {
				resp.Status = "degraded"
			}
		}
	}

	if h.router != nil {
		status := h.router.HealthCheck(ctx)
		resp.Router = &status
		if status.OverallStatus == "unhealthy" {
			resp.Status = "unhealthy"
		} else if status.OverallStatus == "degraded" && resp.Status == "healthy" {
			resp.Status = "degraded"
		}
	}

	code := http.StatusOK
	if resp.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// --- WTU account (supplemental: restores the purchase-ledger
// operations the distilled spec.md left underused) ---

type balanceResponse struct {
	UserID    string `json:"user_id"`
	Remaining int    `json:"remaining"`
}

// Balance handles GET /v2/wtu/balance: the remaining quota for a user.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	if h.accountant == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "wtu accountant not wired")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}
	_, remaining, err := h.accountant.CanConsume(r.Context(), userID, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{UserID: userID, Remaining: remaining})
}

type addQuotaRequest struct {
	UserID string `json:"user_id"`
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

// AddQuota handles POST /v2/wtu/purchases: grant additional quota and
// record it on the append-only purchase ledger.
func (h *Handler) AddQuota(w http.ResponseWriter, r *http.Request) {
	if h.accountant == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "wtu accountant not wired")
		return
	}
	var req addQuotaRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id and a positive amount are required")
		return
	}
	if err := h.accountant.AddQuota(r.Context(), req.UserID, req.Amount, req.Reason); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Purchases handles GET /v2/wtu/purchases: lists the ledger for a user.
func (h *Handler) Purchases(w http.ResponseWriter, r *http.Request) {
	if h.accountant == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "wtu accountant not wired")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}
	purchases, err := h.accountant.ListPurchases(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, purchases)
}

// RoutingStats handles GET /v2/monitoring/routing-stats: a supplemental
// endpoint exposing the Smart Router's per-mode counters directly,
// since spec.md's system-status is an aggregate and admin/debug
// tooling benefits from the raw ratios.
func (h *Handler) RoutingStats(w http.ResponseWriter, r *http.Request) {
	if h.router == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "smart router not wired")
		return
	}
	writeJSON(w, http.StatusOK, h.router.RoutingStats())
}

