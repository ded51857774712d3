package smartrouter_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/agent"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/agentctx"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/mode"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/smartrouter"
)

type fakeLegacy struct {
	result map[string]any
	err    error
}

func (f *fakeLegacy) ProcessRequest(ctx context.Context, requestType string, requestData map[string]any, userID, boardID string) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]any{}
	for k, v := range f.result {
		out[k] = v
	}
	return out, nil
}

func (f *fakeLegacy) HealthCheck(ctx context.Context) (map[string]any, error) {
	return map[string]any{"status": "ok"}, nil
}

func (f *fakeLegacy) SupportedRequestTypes() []string {
	return []string{"summary"}
}

func TestRouteExplicitLegacyUsesLegacyPath(t *testing.T) {
	legacy := &fakeLegacy{result: map[string]any{"success": true, "wtu_consumed": 1.2}}
	modes := mode.New(zerolog.Nop(), nil, nil, nil)
	router := smartrouter.New(zerolog.Nop(), modes, legacy, nil, nil)

	result := router.Route(context.Background(), smartrouter.Request{
		RequestType:    "summary",
		ProcessingMode: "legacy",
		RequestData:    map[string]any{},
	})

	assert.Equal(t, mode.ModeLegacy, result.ModeUsed)
	assert.True(t, result.Success)
	assert.InDelta(t, 1.2, result.WTUConsumed, 0.0001)
}

func TestRouteAgentFailureFallsBackToLegacyWhenAvailable(t *testing.T) {
	legacy := &fakeLegacy{result: map[string]any{"success": true, "wtu_consumed": 2.0}}
	modes := mode.New(zerolog.Nop(), nil, nil, nil)
	// contexts/coordinator left nil: processWithAgents always errors, forcing the fallback path.
	router := smartrouter.New(zerolog.Nop(), modes, legacy, nil, nil)

	result := router.Route(context.Background(), smartrouter.Request{
		RequestType:    "summary",
		ProcessingMode: "agent",
		RequestData:    map[string]any{},
	})

	require.True(t, result.FallbackUsed)
	assert.Equal(t, mode.ModeLegacy, result.ModeUsed)
	assert.True(t, result.Success)
}

func TestRouteAgentFailureWithoutFallbackReturnsError(t *testing.T) {
	modes := mode.New(zerolog.Nop(), nil, nil, nil)
	router := smartrouter.New(zerolog.Nop(), modes, nil, nil, nil)

	result := router.Route(context.Background(), smartrouter.Request{
		RequestType:    "summary",
		ProcessingMode: "agent",
		RequestData:    map[string]any{},
	})

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.ErrorMessage)
}

func TestRouteAgentPathSucceedsWithRegisteredAgents(t *testing.T) {
	contexts := agentctx.New(zerolog.Nop(), 0)
	coordinator := agent.New(zerolog.Nop(), nil, nil, nil)
	coordinator.RegisterAgent(&fakeAgent{agentType: "summary_generation", name: "summarizer"})

	modes := mode.New(zerolog.Nop(), nil, nil, nil)
	router := smartrouter.New(zerolog.Nop(), modes, nil, contexts, coordinator)

	result := router.Route(context.Background(), smartrouter.Request{
		RequestType:    "summary",
		ProcessingMode: "agent",
		RequestData:    map[string]any{"content": "hi"},
	})

	assert.True(t, result.Success)
	assert.Equal(t, mode.ModeAgent, result.ModeUsed)
}

type fakeAgent struct {
	agentType string
	name      string
}

func (a *fakeAgent) AgentType() string       { return a.agentType }
func (a *fakeAgent) AgentName() string       { return a.name }
func (a *fakeAgent) Capabilities() []string  { return nil }
func (a *fakeAgent) DefaultModelAlias() string { return "fast-default" }
func (a *fakeAgent) ValidateInput(ctx context.Context, input map[string]any, agentCtx agentctx.AgentContext) bool {
	return true
}
func (a *fakeAgent) ExecuteAITask(ctx context.Context, input map[string]any, modelAlias string, agentCtx agentctx.AgentContext) (agent.TaskResult, error) {
	return agent.TaskResult{Content: "done"}, nil
}

func TestHealthCheckReportsHealthyWhenLegacyOK(t *testing.T) {
	legacy := &fakeLegacy{result: map[string]any{}}
	router := smartrouter.New(zerolog.Nop(), nil, legacy, nil, nil)

	status := router.HealthCheck(context.Background())
	assert.Equal(t, "healthy", status.LegacyAdapterStatus)
	assert.Equal(t, "healthy", status.OverallStatus)
}

func TestHealthCheckReportsDegradedWhenNothingWired(t *testing.T) {
	router := smartrouter.New(zerolog.Nop(), nil, nil, nil, nil)

	status := router.HealthCheck(context.Background())
	assert.Equal(t, "unhealthy", status.OverallStatus)
	assert.Equal(t, "degraded", status.RouterStatus)
}

func TestRoutingStatsComputesRatiosAndSuccessRates(t *testing.T) {
	legacy := &fakeLegacy{result: map[string]any{"success": true, "wtu_consumed": 1.0}}
	modes := mode.New(zerolog.Nop(), nil, nil, nil)
	router := smartrouter.New(zerolog.Nop(), modes, legacy, nil, nil)

	router.Route(context.Background(), smartrouter.Request{RequestType: "summary", ProcessingMode: "legacy", RequestData: map[string]any{}})
	router.Route(context.Background(), smartrouter.Request{RequestType: "summary", ProcessingMode: "legacy", RequestData: map[string]any{}})

	stats := router.RoutingStats()
	assert.Equal(t, 2, stats.TotalRequests)
	assert.Equal(t, 2, stats.LegacyCount)
	assert.InDelta(t, 1.0, stats.LegacyRatio, 0.0001)
	assert.InDelta(t, 1.0, stats.SuccessRateByMode[mode.ModeLegacy], 0.0001)
}

func TestRouteFeedsOutcomeIntoPerformanceStore(t *testing.T) {
	legacy := &fakeLegacy{result: map[string]any{"success": true, "wtu_consumed": 1.5}}
	performance := mode.NewInMemoryPerformanceStore()
	modes := mode.New(zerolog.Nop(), performance, nil, nil)
	router := smartrouter.New(zerolog.Nop(), modes, legacy, nil, nil)

	router.Route(context.Background(), smartrouter.Request{RequestType: "summary", ProcessingMode: "legacy", RequestData: map[string]any{}})

	data := performance.Get("summary")
	legacyStats, ok := data[mode.ModeLegacy]
	require.True(t, ok, "expected a recorded legacy sample for task type 'summary'")
	assert.Equal(t, 1.0, legacyStats.SuccessRate)
	assert.InDelta(t, 1.5, legacyStats.AvgWTUConsumption, 0.0001)
}
