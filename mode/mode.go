// Package mode implements the Mode Selector (spec §4.10, C11): scoring
// the legacy and agent processing paths against complexity/quality/
// budget/history/preference terms and choosing the higher-scoring one.
package mode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/agentctx"
)

// Mode is one of the two processing paths Smart Router can take.
type Mode string

const (
	ModeLegacy Mode = "legacy"
	ModeAgent  Mode = "agent"
)

// ComplexityPreference is the caller's stated speed/thoroughness
// tradeoff for this request, distinct from AgentContext.Complexity
// (a 1-5 task-difficulty rating): this is a three-way dial the caller
// sets directly.
type ComplexityPreference string

const (
	ComplexityFast     ComplexityPreference = "fast"
	ComplexityBalanced ComplexityPreference = "balanced"
	ComplexityThorough ComplexityPreference = "thorough"
)

// Request describes one mode-selection decision to make.
type Request struct {
	UserID               string
	RequestedMode        string // "auto", "legacy", or "agent"; empty means auto
	TaskType             string
	ComplexityPreference ComplexityPreference
	QualityThreshold     float64
	BudgetLimitWTU       *float64
}

// Decision is the Mode Selector's output, mirroring the original's
// ProcessingModeResponse.
type Decision struct {
	SelectedMode        Mode
	Reason              string
	EstimatedTimeSeconds int
	EstimatedWTU         float64
	QualityExpectation   float64
	CostEfficiencyScore  float64
	RecommendedModels    []string
	FallbackAvailable    bool
}

// PerformanceMetrics is one mode's rolling historical performance for
// a task type.
type PerformanceMetrics struct {
	AvgResponseTimeSeconds float64
	AvgWTUConsumption      float64
	AvgQualityScore        float64
	SuccessRate            float64
	UserSatisfaction       float64
}

// Sample is one completed execution's outcome, recorded by the Smart
// Router after a run so future decisions can read real history instead
// of static defaults.
type Sample struct {
	Mode                Mode
	Success             bool
	QualityScore        float64
	ResponseTimeSeconds float64
	WTUConsumed         float64
}

// PerformanceStore tracks a rolling per-task-type, per-mode
// performance table.
type PerformanceStore interface {
	Record(taskType string, s Sample)
	Get(taskType string) map[Mode]PerformanceMetrics
}

// MonthlyWTULookup resolves a user's WTU consumption so far this month.
type MonthlyWTULookup interface {
	GetMonthlyWTU(ctx context.Context, userID string) (float64, error)
}

// PreferencesLookup resolves a user's saved model preferences.
type PreferencesLookup interface {
	GetPreferences(ctx context.Context, userID string) (agentctx.UserPreferences, error)
}

// Selector is the C11 Mode Selector.
type Selector struct {
	logger      zerolog.Logger
	performance PerformanceStore
	monthly     MonthlyWTULookup
	preferences PreferencesLookup
}

// New wires a Selector. Any dependency may be nil to degrade to
// defaults (zero monthly usage, balanced/medium preferences, static
// performance numbers) rather than failing.
func New(logger zerolog.Logger, performance PerformanceStore, monthly MonthlyWTULookup, preferences PreferencesLookup) *Selector {
	return &Selector{
		logger:      logger.With().Str("component", "mode_selector").Logger(),
		performance: performance,
		monthly:     monthly,
		preferences: preferences,
	}
}

// RecordOutcome feeds a completed execution's outcome back into the
// performance store so later decisions for the same task type read
// real history instead of the static defaults. A no-op if no
// PerformanceStore was wired.
func (s *Selector) RecordOutcome(taskType string, sample Sample) {
	if s.performance == nil {
		return
	}
	s.performance.Record(taskType, sample)
}

// Select returns a Decision for req. It never returns an error: a failed
// monthly-usage or preferences lookup is logged and replaced by its
// default (zero usage, balanced/medium preferences), and scoring goes
// on with those values; a lookup failure does not by itself force the
// legacy mode.
func (s *Selector) Select(ctx context.Context, req Request) Decision {
	switch req.RequestedMode {
	case string(ModeLegacy):
		return s.legacyDecision(req, "")
	case string(ModeAgent):
		return s.agentDecision(req, "")
	}

	monthlyWTU := s.resolveMonthlyWTU(ctx, req.UserID)
	perf := s.resolvePerformance(req.TaskType)
	prefs := s.resolvePreferences(ctx, req.UserID)

	legacyScore := s.scoreMode(ModeLegacy, req, monthlyWTU, perf, prefs)
	agentScore := s.scoreMode(ModeAgent, req, monthlyWTU, perf, prefs)

	if agentScore > legacyScore {
		reason := generateReason(ModeAgent, agentScore, legacyScore, req)
		return s.agentDecision(req, reason)
	}
	reason := generateReason(ModeLegacy, legacyScore, agentScore, req)
	return s.legacyDecision(req, reason)
}

func (s *Selector) resolveMonthlyWTU(ctx context.Context, userID string) float64 {
	if s.monthly == nil {
		return 0
	}
	wtu, err := s.monthly.GetMonthlyWTU(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to resolve monthly WTU, assuming zero")
		return 0
	}
	return wtu
}

func (s *Selector) resolvePerformance(taskType string) map[Mode]PerformanceMetrics {
	if s.performance == nil {
		return defaultPerformanceData()
	}
	data := s.performance.Get(taskType)
	if len(data) == 0 {
		return defaultPerformanceData()
	}
	return data
}

func (s *Selector) resolvePreferences(ctx context.Context, userID string) agentctx.UserPreferences {
	if s.preferences == nil || userID == "" {
		return agentctx.UserPreferences{QualityPreference: "balanced", CostSensitivity: "medium"}
	}
	prefs, err := s.preferences.GetPreferences(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to load user preferences, using defaults")
		return agentctx.UserPreferences{QualityPreference: "balanced", CostSensitivity: "medium"}
	}
	return prefs
}

// defaultPerformanceData mirrors the original's _get_mode_performance_data
// static placeholder values, used until a task type accumulates real
// samples in the PerformanceStore.
func defaultPerformanceData() map[Mode]PerformanceMetrics {
	return map[Mode]PerformanceMetrics{
		ModeLegacy: {AvgResponseTimeSeconds: 25.0, AvgWTUConsumption: 1.8, AvgQualityScore: 0.86, SuccessRate: 0.96, UserSatisfaction: 4.1},
		ModeAgent:  {AvgResponseTimeSeconds: 55.0, AvgWTUConsumption: 3.2, AvgQualityScore: 0.92, SuccessRate: 0.89, UserSatisfaction: 4.4},
	}
}

// scoreMode implements the scoring table exactly: base + complexity
// preference + quality threshold + budget headroom + history + user
// preference terms.
func (s *Selector) scoreMode(m Mode, req Request, monthlyWTU float64, perf map[Mode]PerformanceMetrics, prefs agentctx.UserPreferences) float64 {
	var score float64

	switch m {
	case ModeLegacy:
		score += 7.0
	case ModeAgent:
		score += 6.0
	}

	switch req.ComplexityPreference {
	case ComplexityFast:
		if m == ModeLegacy {
			score += 2.0
		} else {
			score += 0.5
		}
	case ComplexityThorough:
		if m == ModeLegacy {
			score += 0.5
		} else {
			score += 2.5
		}
	default: // balanced, or unset
		if m == ModeLegacy {
			score += 1.0
		} else {
			score += 1.5
		}
	}

	switch {
	case req.QualityThreshold >= 0.95:
		if m == ModeAgent {
			score += 2.0
		} else {
			score += 0.5
		}
	case req.QualityThreshold >= 0.90:
		if m == ModeAgent {
			score += 1.5
		} else {
			score += 1.0
		}
	default:
		if m == ModeLegacy {
			score += 1.0
		} else {
			score += 0.8
		}
	}

	budgetLimit := req.BudgetLimitWTU
	if budgetLimit == nil {
		budgetLimit = prefs.BudgetLimitWTU
	}
	if budgetLimit != nil && monthlyWTU > *budgetLimit*0.8 {
		if m == ModeLegacy {
			score += 1.5
		} else {
			score -= 1.0
		}
	}

	if metrics, ok := perf[m]; ok {
		if m == ModeLegacy && metrics.SuccessRate > 0.95 {
			score += 1.0
		} else if m == ModeAgent && metrics.AvgQualityScore > 0.90 {
			score += 1.5
		}
	}

	if prefs.QualityPreference == "quality" && m == ModeAgent {
		score += 1.0
	} else if prefs.QualityPreference == "speed" && m == ModeLegacy {
		score += 1.0
	}

	if prefs.CostSensitivity == "high" && m == ModeLegacy {
		score += 1.0
	} else if prefs.CostSensitivity == "low" && m == ModeAgent {
		score += 0.5
	}

	return score
}

// generateReason composes a short human-readable justification,
// grounded on the original's _generate_recommendation_reason:
// mode-specific qualifiers plus a score-gap-based confidence phrase.
func generateReason(selected Mode, selectedScore, otherScore float64, req Request) string {
	var parts []string

	if selected == ModeAgent {
		parts = append(parts, "suited to high quality requirements")
		if req.QualityThreshold >= 0.9 {
			parts = append(parts, fmt.Sprintf("quality threshold %.2f achievable", req.QualityThreshold))
		}
		if req.ComplexityPreference == ComplexityThorough {
			parts = append(parts, "matches thorough-analysis preference")
		}
	} else {
		parts = append(parts, "stable, proven performance")
		if req.ComplexityPreference == ComplexityFast {
			parts = append(parts, "matches fast-processing preference")
		}
		parts = append(parts, "cost efficient")
	}

	gap := selectedScore - otherScore
	if gap < 0 {
		gap = -gap
	}
	switch {
	case gap > 2.0:
		parts = append(parts, "clear advantage")
	case gap > 1.0:
		parts = append(parts, "moderate edge")
	default:
		parts = append(parts, "balanced pick")
	}

	out := parts[0]
	for _, p := range parts[1:] {
		out += " | " + p
	}
	return out
}

func (s *Selector) legacyDecision(req Request, customReason string) Decision {
	estimatedTime := 30
	estimatedWTU := 2.0
	qualityExpectation := 0.88
	if req.ComplexityPreference == ComplexityFast {
		estimatedTime = 15
		estimatedWTU = 1.0
		qualityExpectation = 0.85
	}

	reason := customReason
	if reason == "" {
		reason = fmt.Sprintf("stable performance and cost efficiency (%s mode)", req.ComplexityPreference)
	}

	return Decision{
		SelectedMode:         ModeLegacy,
		Reason:               reason,
		EstimatedTimeSeconds: estimatedTime,
		EstimatedWTU:         estimatedWTU,
		QualityExpectation:   qualityExpectation,
		CostEfficiencyScore:  0.9,
		RecommendedModels:    []string{"gpt-4o-mini", "gemini-1.5-flash", "claude-3-haiku"},
		FallbackAvailable:    false,
	}
}

func (s *Selector) agentDecision(req Request, customReason string) Decision {
	multiplier := 1.5
	switch req.ComplexityPreference {
	case ComplexityFast:
		multiplier = 1.0
	case ComplexityThorough:
		multiplier = 2.0
	}

	estimatedTime := int(45 * multiplier)
	estimatedWTU := 3.0 * multiplier
	qualityExpectation := 0.88 + (multiplier-1.0)*0.05
	if qualityExpectation > 0.95 {
		qualityExpectation = 0.95
	}

	reason := customReason
	if reason == "" {
		reason = fmt.Sprintf("high quality AI analysis with validation (%s mode)", req.ComplexityPreference)
	}

	return Decision{
		SelectedMode:         ModeAgent,
		Reason:               reason,
		EstimatedTimeSeconds: estimatedTime,
		EstimatedWTU:         estimatedWTU,
		QualityExpectation:   qualityExpectation,
		CostEfficiencyScore:  0.7,
		RecommendedModels:    []string{"gpt-4o", "claude-3.5-sonnet", "gemini-1.5-pro", "gpt-4o-mini"},
		FallbackAvailable:    true,
	}
}
