// Package agentctx implements the Context Manager (spec §4.8, C8): a
// per-session registry of shared agent-execution state, a
// per-session-mutex-guarded data bag, execution history/metrics
// bookkeeping, and a janitor sweep for sessions past a max age.
package agentctx

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// UserPreferences mirrors the original's UserModelPreferences: a small
// set of knobs the Mode Selector and Agent Coordinator read.
type UserPreferences struct {
	QualityPreference  string // "speed", "balanced", "quality"
	CostSensitivity    string // "low", "medium", "high"
	DefaultModel       string // alias the user pinned explicitly
	PreferredProviders []string
	AvoidModels        []string
	BudgetLimitWTU     *float64
}

// AgentContext is the per-session execution context shared across
// agents participating in one orchestration.
type AgentContext struct {
	SessionID           string
	UserID              string
	BoardID             string
	TaskType             string
	Complexity          int // clamped to [1,5]
	UserPreferences     UserPreferences
	ReferenceMaterials  []string
}

type executionRecord struct {
	AgentName        string
	Timestamp        time.Time
	ExecutionTimeMS  int64
	WTUConsumed      float64
	Success          bool
	ResultSummary    string
}

// Metrics is a point-in-time snapshot of one session's execution stats.
type Metrics struct {
	TotalAgentsExecuted  int
	TotalWTUConsumed     float64
	TotalExecutionTimeMS int64
	SuccessRate          float64
	AvgExecutionTimeMS   float64
	AvgWTUPerAgent       float64
	AgentsExecuted       []string
	ContextAgeSeconds    float64
}

type sessionState struct {
	mu        sync.Mutex
	context   AgentContext
	createdAt time.Time
	shared    map[string]any
	history   []executionRecord
}

// Manager is the C8 Context Manager.
type Manager struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionState

	maxAge time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Manager. Call StartJanitor to begin periodic sweeping.
func New(logger zerolog.Logger, maxAge time.Duration) *Manager {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Manager{
		logger:   logger.With().Str("component", "context_manager").Logger(),
		sessions: make(map[string]*sessionState),
		maxAge:   maxAge,
		stopCh:   make(chan struct{}),
	}
}

// CreateContext registers a new session and returns its AgentContext.
// An empty customSessionID generates a new uuid.
func (m *Manager) CreateContext(userID, taskType string, complexity int, prefs UserPreferences, referenceMaterials []string, customSessionID string) AgentContext {
	sessionID := customSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if complexity < 1 {
		complexity = 1
	}
	if complexity > 5 {
		complexity = 5
	}
	if prefs.QualityPreference == "" {
		prefs.QualityPreference = "balanced"
	}
	if prefs.CostSensitivity == "" {
		prefs.CostSensitivity = "medium"
	}

	ac := AgentContext{
		SessionID:          sessionID,
		UserID:             userID,
		TaskType:           taskType,
		Complexity:         complexity,
		UserPreferences:    prefs,
		ReferenceMaterials: referenceMaterials,
	}

	state := &sessionState{
		context:   ac,
		createdAt: time.Now().UTC(),
		shared:    make(map[string]any),
	}

	m.mu.Lock()
	m.sessions[sessionID] = state
	m.mu.Unlock()

	m.logger.Info().Str("session_id", sessionID).Str("user_id", userID).Str("task_type", taskType).Msg("agent context created")
	return ac
}

func (m *Manager) get(sessionID string) (*sessionState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// GetContext returns the AgentContext for a session, if still active.
func (m *Manager) GetContext(sessionID string) (AgentContext, bool) {
	s, ok := m.get(sessionID)
	if !ok {
		return AgentContext{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.context, true
}

// ShareData stores a value under key in a session's shared data bag.
func (m *Manager) ShareData(sessionID, key string, value any) bool {
	s, ok := m.get(sessionID)
	if !ok {
		m.logger.Warn().Str("session_id", sessionID).Msg("context not found for data sharing")
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shared[key] = value
	return true
}

// GetSharedData retrieves a value previously stored by ShareData,
// returning fallback if absent.
func (m *Manager) GetSharedData(sessionID, key string, fallback any) any {
	s, ok := m.get(sessionID)
	if !ok {
		return fallback
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.shared[key]; ok {
		return v
	}
	return fallback
}

// RecordAgentExecution appends one execution record and updates the
// session's running metrics.
func (m *Manager) RecordAgentExecution(sessionID, agentName string, executionTime time.Duration, wtuConsumed float64, success bool, resultSummary string) bool {
	s, ok := m.get(sessionID)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, executionRecord{
		AgentName:       agentName,
		Timestamp:       time.Now().UTC(),
		ExecutionTimeMS: executionTime.Milliseconds(),
		WTUConsumed:     wtuConsumed,
		Success:         success,
		ResultSummary:   resultSummary,
	})
	return true
}

// GetContextMetrics returns a snapshot of a session's execution stats.
func (m *Manager) GetContextMetrics(sessionID string) (Metrics, bool) {
	s, ok := m.get(sessionID)
	if !ok {
		return Metrics{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var metrics Metrics
	metrics.AgentsExecuted = make([]string, len(s.history))
	for i, rec := range s.history {
		metrics.TotalAgentsExecuted++
		metrics.TotalWTUConsumed += rec.WTUConsumed
		metrics.TotalExecutionTimeMS += rec.ExecutionTimeMS
		metrics.AgentsExecuted[i] = rec.AgentName
	}

	if len(s.history) > 0 {
		var successCount int
		for _, rec := range s.history {
			if rec.Success {
				successCount++
			}
		}
		metrics.SuccessRate = float64(successCount) / float64(len(s.history))
		metrics.AvgExecutionTimeMS = float64(metrics.TotalExecutionTimeMS) / float64(len(s.history))
		metrics.AvgWTUPerAgent = metrics.TotalWTUConsumed / float64(len(s.history))
	}
	metrics.ContextAgeSeconds = time.Since(s.createdAt).Seconds()

	return metrics, true
}

// WithContext runs fn against a freshly created context, guaranteeing
// CleanupContext runs on every exit path (including panics re-raised
// by fn), the Go equivalent of the original's managed_context
// asynccontextmanager.
func (m *Manager) WithContext(ctx context.Context, userID, taskType string, complexity int, prefs UserPreferences, referenceMaterials []string, fn func(AgentContext) error) error {
	ac := m.CreateContext(userID, taskType, complexity, prefs, referenceMaterials, "")
	defer m.CleanupContext(ac.SessionID)
	return fn(ac)
}

// CleanupContext removes a session, logging its final metrics.
func (m *Manager) CleanupContext(sessionID string) bool {
	metrics, ok := m.GetContextMetrics(sessionID)
	if ok {
		m.logger.Info().
			Str("session_id", sessionID).
			Int("agents_executed", metrics.TotalAgentsExecuted).
			Float64("wtu_consumed", metrics.TotalWTUConsumed).
			Float64("success_rate", metrics.SuccessRate).
			Msg("cleaning up agent context")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	return existed
}

// sessionAge returns how long ago a session was created.
func (m *Manager) sessionAge(s *sessionState) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.createdAt)
}

// CleanupExpiredContexts removes every session older than m.maxAge,
// returning the count removed.
func (m *Manager) CleanupExpiredContexts() int {
	m.mu.RLock()
	var expired []string
	for id, s := range m.sessions {
		if m.sessionAge(s) > m.maxAge {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.CleanupContext(id)
	}
	if len(expired) > 0 {
		m.logger.Info().Int("count", len(expired)).Msg("cleaned up expired agent contexts")
	}
	return len(expired)
}

// StartJanitor runs CleanupExpiredContexts every interval until Stop is
// called, in its own goroutine.
func (m *Manager) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CleanupExpiredContexts()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the janitor goroutine started by StartJanitor.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}
