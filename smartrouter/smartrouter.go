// Package smartrouter implements the Smart Router (spec §4.11, C12):
// the single entry point that asks the Mode Selector which processing
// path to use, runs that path, retries once via the legacy path on an
// agent-path failure when fallback is available, and tracks per-mode
// routing/success statistics.
package smartrouter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/agent"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/agentctx"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/mode"
)

// LegacyAdapter is the collaborator for the non-agent processing path,
// grounded on the original's LegacyAdapter: a thin facade over the
// pre-agent board/clipper/summary/content-analysis handlers.
type LegacyAdapter interface {
	ProcessRequest(ctx context.Context, requestType string, requestData map[string]any, userID, boardID string) (map[string]any, error)
	HealthCheck(ctx context.Context) (map[string]any, error)
	SupportedRequestTypes() []string
}

// Request describes one inbound request to route.
type Request struct {
	RequestType          string
	RequestData          map[string]any
	UserID               string
	BoardID              string
	ProcessingMode       string // "legacy", "agent", or "auto"/""
	ComplexityPreference mode.ComplexityPreference
	QualityThreshold     float64
	BudgetLimitWTU       *float64
	Complexity           int // 1-5, defaults to 2
}

// Result is the Smart Router's terminal output for one request.
type Result struct {
	ModeUsed        mode.Mode
	ProcessingResult map[string]any
	ExecutionTime    time.Duration
	WTUConsumed      float64
	Success          bool
	ErrorMessage     string
	FallbackUsed     bool
}

type modeStats struct {
	success int
	total   int
}

// Router is the C12 Smart Router.
type Router struct {
	logger      zerolog.Logger
	modes       *mode.Selector
	legacy      LegacyAdapter
	contexts    *agentctx.Manager
	coordinator *agent.Coordinator

	mu              sync.Mutex
	totalRequests   int
	legacyCount     int
	agentCount      int
	fallbackCount   int
	statsByMode     map[mode.Mode]*modeStats
}

// New wires a Router. legacy, contexts, and coordinator together make
// up the two processing paths; modes picks between them.
func New(logger zerolog.Logger, modes *mode.Selector, legacy LegacyAdapter, contexts *agentctx.Manager, coordinator *agent.Coordinator) *Router {
	return &Router{
		logger:      logger.With().Str("component", "smart_router").Logger(),
		modes:       modes,
		legacy:      legacy,
		contexts:    contexts,
		coordinator: coordinator,
		statsByMode: map[mode.Mode]*modeStats{
			mode.ModeLegacy: {},
			mode.ModeAgent:  {},
		},
	}
}

// Route runs req through the selected processing path, falling back to
// legacy exactly once on an agent-path failure when the mode decision
// allows it, and never returning an error: failures are reported inside
// Result itself, matching the original's "never throw" routing contract.
func (r *Router) Route(ctx context.Context, req Request) Result {
	start := time.Now()

	r.mu.Lock()
	r.totalRequests++
	r.mu.Unlock()

	decision := r.determineMode(ctx, req)
	r.logger.Info().
		Str("selected_mode", string(decision.SelectedMode)).
		Str("reason", decision.Reason).
		Msg("mode decision made")

	var (
		processingResult map[string]any
		err              error
		fallbackUsed     bool
	)

	switch decision.SelectedMode {
	case mode.ModeAgent:
		processingResult, err = r.processWithAgents(ctx, req)
		r.mu.Lock()
		r.agentCount++
		r.mu.Unlock()
	default:
		processingResult, err = r.processWithLegacy(ctx, req)
		r.mu.Lock()
		r.legacyCount++
		r.mu.Unlock()
	}

	modeUsed := decision.SelectedMode

	if err != nil {
		r.logger.Error().Err(err).Str("mode", string(decision.SelectedMode)).Msg("primary mode failed")

		if decision.SelectedMode == mode.ModeAgent && decision.FallbackAvailable {
			r.logger.Info().Msg("attempting fallback to legacy mode")
			processingResult, err = r.processWithLegacy(ctx, req)
			if err == nil {
				fallbackUsed = true
				modeUsed = mode.ModeLegacy
				r.mu.Lock()
				r.fallbackCount++
				r.mu.Unlock()
			}
		}
	}

	elapsed := time.Since(start)

	if err != nil {
		return Result{
			ModeUsed:         "error",
			ProcessingResult: map[string]any{},
			ExecutionTime:    elapsed,
			Success:          false,
			ErrorMessage:     err.Error(),
		}
	}

	success, _ := processingResult["success"].(bool)
	wtu := toFloat64(processingResult["wtu_consumed"])

	r.updateSuccessStats(modeUsed, success)

	if r.modes != nil {
		r.modes.RecordOutcome(req.RequestType, mode.Sample{
			Mode:                modeUsed,
			Success:             success,
			WTUConsumed:         wtu,
			ResponseTimeSeconds: elapsed.Seconds(),
		})
	}

	return Result{
		ModeUsed:         modeUsed,
		ProcessingResult: processingResult,
		ExecutionTime:    elapsed,
		WTUConsumed:      wtu,
		Success:          success,
		FallbackUsed:     fallbackUsed,
	}
}

func (r *Router) determineMode(ctx context.Context, req Request) mode.Decision {
	if r.modes == nil {
		return mode.Decision{SelectedMode: mode.ModeLegacy, Reason: "mode selector not wired, defaulting to legacy"}
	}
	return r.modes.Select(ctx, mode.Request{
		UserID:               req.UserID,
		RequestedMode:        req.ProcessingMode,
		TaskType:             req.RequestType,
		ComplexityPreference: req.ComplexityPreference,
		QualityThreshold:     req.QualityThreshold,
		BudgetLimitWTU:       req.BudgetLimitWTU,
	})
}

// taskAgentChains mirrors the original's per-request-type base chain
// table, extended with a validator stage for high-complexity or
// quality-preferring requests.
var taskAgentChains = map[string][]string{
	"board_analysis":   {"content_analysis", "summary_generation"},
	"clipper":          {"content_analysis", "summary_generation"},
	"summary":          {"summary_generation"},
	"content_analysis": {"content_analysis"},
	"validation":       {"validator"},
}

func (r *Router) buildAgentChain(req Request, ac agentctx.AgentContext) []string {
	chain, ok := taskAgentChains[req.RequestType]
	if !ok {
		chain = []string{"content_analysis"}
	}
	chain = append([]string(nil), chain...)

	if ac.Complexity >= 3 || ac.UserPreferences.QualityPreference == "quality" {
		hasValidator := false
		for _, a := range chain {
			if a == "validator" {
				hasValidator = true
				break
			}
		}
		if !hasValidator {
			chain = append(chain, "validator")
		}
	}

	available := map[string]bool{}
	if r.coordinator != nil {
		for _, a := range r.coordinator.AvailableAgents() {
			available[a] = true
		}
	}
	var filtered []string
	for _, a := range chain {
		if available[a] {
			filtered = append(filtered, a)
		}
	}
	return filtered
}

func (r *Router) processWithAgents(ctx context.Context, req Request) (map[string]any, error) {
	if r.contexts == nil || r.coordinator == nil {
		return nil, fmt.Errorf("agent processing path not wired")
	}

	complexity := req.Complexity
	if complexity == 0 {
		complexity = 2
	}

	ac := r.contexts.CreateContext(req.UserID, req.RequestType, complexity, agentctx.UserPreferences{}, nil, "")
	defer r.contexts.CleanupContext(ac.SessionID)

	chain := r.buildAgentChain(req, ac)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no suitable agent chain for request type: %s", req.RequestType)
	}

	resp := r.coordinator.ExecuteChain(ctx, chain, req.RequestData, ac)

	var agentsUsed []string
	for _, entry := range resp.AgentResponses {
		agentsUsed = append(agentsUsed, entry.AgentName)
	}

	result := map[string]any{
		"success":           resp.Success,
		"content":           resp.FinalContent,
		"metadata":          resp.Metadata,
		"wtu_consumed":      resp.TotalWTUConsumed,
		"execution_time_ms": resp.TotalExecutionTime.Milliseconds(),
		"agents_used":       agentsUsed,
		"mode":              "agent",
	}
	if !resp.Success {
		msg := ""
		for i, e := range resp.ErrorMessages {
			if i > 0 {
				msg += "; "
			}
			msg += e
		}
		result["error_message"] = msg
	}
	return result, nil
}

func (r *Router) processWithLegacy(ctx context.Context, req Request) (map[string]any, error) {
	if r.legacy == nil {
		return nil, fmt.Errorf("legacy processing path not wired")
	}
	result, err := r.legacy.ProcessRequest(ctx, req.RequestType, req.RequestData, req.UserID, req.BoardID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("legacy processing returned empty result")
	}
	result["mode"] = "legacy"
	return result, nil
}

// toFloat64 normalizes the numeric types a legacy adapter or agent
// path might stash under "wtu_consumed" (int from WTU accounting,
// float64 from a legacy handler's mock response).
func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func (r *Router) updateSuccessStats(m mode.Mode, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats, ok := r.statsByMode[m]
	if !ok {
		return
	}
	stats.total++
	if success {
		stats.success++
	}
}

// Stats is a snapshot of routing/success counters, exposed for an ops
// endpoint.
type Stats struct {
	TotalRequests     int
	LegacyCount       int
	AgentCount        int
	FallbackCount     int
	LegacyRatio       float64
	AgentRatio        float64
	FallbackRatio     float64
	SuccessRateByMode map[mode.Mode]float64
}

// RoutingStats returns a point-in-time snapshot of routing statistics.
func (r *Router) RoutingStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		TotalRequests:     r.totalRequests,
		LegacyCount:       r.legacyCount,
		AgentCount:        r.agentCount,
		FallbackCount:     r.fallbackCount,
		SuccessRateByMode: make(map[mode.Mode]float64),
	}

	for m, s := range r.statsByMode {
		if s.total > 0 {
			stats.SuccessRateByMode[m] = float64(s.success) / float64(s.total)
		}
	}

	if r.totalRequests > 0 {
		total := float64(r.totalRequests)
		stats.LegacyRatio = float64(r.legacyCount) / total
		stats.AgentRatio = float64(r.agentCount) / total
		stats.FallbackRatio = float64(r.fallbackCount) / total
	}

	return stats
}

// HealthStatus is the aggregated health of the router's two paths.
type HealthStatus struct {
	RouterStatus           string
	LegacyAdapterStatus    string
	AgentCoordinatorStatus string
	AvailableAgents        []string
	OverallStatus          string
}

// HealthCheck aggregates the health of both processing paths. A
// healthy legacy adapter or a coordinator with at least one registered
// agent is enough for an overall "healthy" verdict; otherwise the
// router reports itself degraded.
func (r *Router) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{RouterStatus: "healthy", LegacyAdapterStatus: "unknown", AgentCoordinatorStatus: "unknown"}

	legacyHealthy := false
	if r.legacy != nil {
		health, err := r.legacy.HealthCheck(ctx)
		if err != nil {
			status.LegacyAdapterStatus = fmt.Sprintf("error: %v", err)
		} else if s, _ := health["status"].(string); s == "ok" {
			status.LegacyAdapterStatus = "healthy"
			legacyHealthy = true
		} else {
			status.LegacyAdapterStatus = "unhealthy"
		}
	} else {
		status.LegacyAdapterStatus = "not_wired"
	}

	agentHealthy := false
	if r.coordinator != nil {
		available := r.coordinator.AvailableAgents()
		status.AvailableAgents = available
		if len(available) > 0 {
			status.AgentCoordinatorStatus = "healthy"
			agentHealthy = true
		} else {
			status.AgentCoordinatorStatus = "no_agents"
		}
	} else {
		status.AgentCoordinatorStatus = "not_wired"
	}

	if legacyHealthy || agentHealthy {
		status.OverallStatus = "healthy"
	} else {
		status.OverallStatus = "unhealthy"
		status.RouterStatus = "degraded"
	}

	return status
}
