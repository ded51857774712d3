package agentctx_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/agentctx"
)

func newManager() *agentctx.Manager {
	return agentctx.New(zerolog.Nop(), time.Hour)
}

func TestCreateContextClampsComplexityAndDefaults(t *testing.T) {
	m := newManager()

	ac := m.CreateContext("user-1", "research", 9, agentctx.UserPreferences{}, nil, "")
	if ac.Complexity != 5 {
		t.Fatalf("expected complexity clamped to 5, got %d", ac.Complexity)
	}
	if ac.UserPreferences.QualityPreference != "balanced" {
		t.Fatalf("expected default quality preference, got %q", ac.UserPreferences.QualityPreference)
	}
	if ac.SessionID == "" {
		t.Fatalf("expected generated session id")
	}

	low := m.CreateContext("user-1", "research", -3, agentctx.UserPreferences{}, nil, "")
	if low.Complexity != 1 {
		t.Fatalf("expected complexity clamped to 1, got %d", low.Complexity)
	}
}

func TestCreateContextHonorsCustomSessionID(t *testing.T) {
	m := newManager()
	ac := m.CreateContext("user-1", "research", 3, agentctx.UserPreferences{}, nil, "fixed-session")
	if ac.SessionID != "fixed-session" {
		t.Fatalf("expected custom session id to be honored, got %q", ac.SessionID)
	}
	if _, ok := m.GetContext("fixed-session"); !ok {
		t.Fatalf("expected context to be retrievable by custom session id")
	}
}

func TestShareDataAndGetSharedData(t *testing.T) {
	m := newManager()
	ac := m.CreateContext("user-1", "research", 3, agentctx.UserPreferences{}, nil, "")

	if ok := m.ShareData(ac.SessionID, "draft", "hello"); !ok {
		t.Fatalf("expected ShareData to succeed for active session")
	}
	if got := m.GetSharedData(ac.SessionID, "draft", nil); got != "hello" {
		t.Fatalf("expected shared value 'hello', got %v", got)
	}
	if got := m.GetSharedData(ac.SessionID, "missing", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback for missing key, got %v", got)
	}
	if ok := m.ShareData("unknown-session", "k", "v"); ok {
		t.Fatalf("expected ShareData to fail for unknown session")
	}
}

func TestRecordAgentExecutionAndMetrics(t *testing.T) {
	m := newManager()
	ac := m.CreateContext("user-1", "research", 3, agentctx.UserPreferences{}, nil, "")

	m.RecordAgentExecution(ac.SessionID, "researcher", 100*time.Millisecond, 5, true, "ok")
	m.RecordAgentExecution(ac.SessionID, "writer", 200*time.Millisecond, 3, false, "failed")

	metrics, ok := m.GetContextMetrics(ac.SessionID)
	if !ok {
		t.Fatalf("expected metrics for active session")
	}
	if metrics.TotalAgentsExecuted != 2 {
		t.Fatalf("expected 2 agents executed, got %d", metrics.TotalAgentsExecuted)
	}
	if metrics.TotalWTUConsumed != 8 {
		t.Fatalf("expected 8 total WTU consumed, got %v", metrics.TotalWTUConsumed)
	}
	if metrics.SuccessRate != 0.5 {
		t.Fatalf("expected 0.5 success rate, got %v", metrics.SuccessRate)
	}
	if metrics.AvgExecutionTimeMS != 150 {
		t.Fatalf("expected avg execution time 150ms, got %v", metrics.AvgExecutionTimeMS)
	}
	if metrics.AvgWTUPerAgent != 4 {
		t.Fatalf("expected avg WTU per agent 4, got %v", metrics.AvgWTUPerAgent)
	}
	if metrics.ContextAgeSeconds < 0 {
		t.Fatalf("expected non-negative context age")
	}
}

func TestCleanupContextRemovesSession(t *testing.T) {
	m := newManager()
	ac := m.CreateContext("user-1", "research", 3, agentctx.UserPreferences{}, nil, "")

	if !m.CleanupContext(ac.SessionID) {
		t.Fatalf("expected cleanup to report the session existed")
	}
	if _, ok := m.GetContext(ac.SessionID); ok {
		t.Fatalf("expected context to be gone after cleanup")
	}
	if m.CleanupContext(ac.SessionID) {
		t.Fatalf("expected second cleanup of the same session to report false")
	}
}

func TestWithContextCleansUpOnReturn(t *testing.T) {
	m := newManager()
	var capturedID string

	err := m.WithContext(context.Background(), "user-1", "research", 3, agentctx.UserPreferences{}, nil, func(ac agentctx.AgentContext) error {
		capturedID = ac.SessionID
		if _, ok := m.GetContext(ac.SessionID); !ok {
			t.Fatalf("expected context to be active inside callback")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := m.GetContext(capturedID); ok {
		t.Fatalf("expected context to be cleaned up after WithContext returns")
	}
}

func TestCleanupExpiredContextsRemovesOnlyOldSessions(t *testing.T) {
	m := agentctx.New(zerolog.Nop(), 50*time.Millisecond)

	old := m.CreateContext("user-1", "research", 3, agentctx.UserPreferences{}, nil, "old-session")
	time.Sleep(80 * time.Millisecond)
	fresh := m.CreateContext("user-1", "research", 3, agentctx.UserPreferences{}, nil, "fresh-session")

	removed := m.CleanupExpiredContexts()
	if removed != 1 {
		t.Fatalf("expected exactly 1 expired context removed, got %d", removed)
	}
	if _, ok := m.GetContext(old.SessionID); ok {
		t.Fatalf("expected old session to be removed")
	}
	if _, ok := m.GetContext(fresh.SessionID); !ok {
		t.Fatalf("expected fresh session to survive sweep")
	}
}
