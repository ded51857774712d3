package agent_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/agent"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/agentctx"
)

type mapAgent struct {
	agentType string
	output    map[string]any
}

func (m *mapAgent) AgentType() string                 { return m.agentType }
func (m *mapAgent) AgentName() string                  { return m.agentType }
func (m *mapAgent) Capabilities() []string             { return nil }
func (m *mapAgent) DefaultModelAlias() string          { return "default" }
func (m *mapAgent) ValidateInput(ctx context.Context, input map[string]any, agentCtx agentctx.AgentContext) bool {
	return true
}
func (m *mapAgent) ExecuteAITask(ctx context.Context, input map[string]any, modelAlias string, agentCtx agentctx.AgentContext) (agent.TaskResult, error) {
	return agent.TaskResult{Content: m.output}, nil
}

func newCoordinator() *agent.Coordinator {
	return agent.New(zerolog.Nop(), &stubSelector{alias: "m"}, &stubAccountant{}, nil)
}

func TestExecuteChainThreadsMapOutputForward(t *testing.T) {
	c := newCoordinator()
	c.RegisterAgent(&mapAgent{agentType: "step1", output: map[string]any{"extracted": "data"}})
	c.RegisterAgent(&stubAgent{agentType: "step2", agentName: "step2", validates: true, execResult: agent.TaskResult{Content: "final text"}})

	resp := c.ExecuteChain(context.Background(), []string{"step1", "step2"}, map[string]any{"url": "x"}, agentctx.AgentContext{})

	require.True(t, resp.Success)
	assert.Equal(t, "final text", resp.FinalContent)
	assert.Len(t, resp.AgentResponses, 2)
}

func TestExecuteChainUnregisteredAgentContinuesChain(t *testing.T) {
	c := newCoordinator()
	c.RegisterAgent(&stubAgent{agentType: "known", agentName: "known", validates: true, execResult: agent.TaskResult{Content: "ok"}})

	resp := c.ExecuteChain(context.Background(), []string{"unknown", "known"}, nil, agentctx.AgentContext{})

	assert.False(t, resp.Success)
	assert.Len(t, resp.ErrorMessages, 1)
	assert.Len(t, resp.AgentResponses, 1)
	assert.Equal(t, "ok", resp.FinalContent)
}

func TestExecuteParallelCollectsAllResultsByAgentName(t *testing.T) {
	c := newCoordinator()
	c.RegisterAgent(&stubAgent{agentType: "a", agentName: "a", validates: true, execResult: agent.TaskResult{Content: "result-a"}})
	c.RegisterAgent(&stubAgent{agentType: "b", agentName: "b", validates: true, execResult: agent.TaskResult{Content: "result-b"}})

	resp := c.ExecuteParallel(context.Background(), []agent.AgentTask{
		{AgentType: "a", Input: map[string]any{}},
		{AgentType: "b", Input: map[string]any{}},
	}, agentctx.AgentContext{})

	require.True(t, resp.Success)
	final, ok := resp.FinalContent.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "result-a", final["a"])
	assert.Equal(t, "result-b", final["b"])
}

func TestBuildOptimalChainFiltersUnregisteredAndAppliesComplexity(t *testing.T) {
	c := newCoordinator()
	c.RegisterAgent(&stubAgent{agentType: "content_analysis", agentName: "content_analysis", validates: true})
	c.RegisterAgent(&stubAgent{agentType: "summary_generation", agentName: "summary_generation", validates: true})
	// validator intentionally left unregistered.

	chain := c.BuildOptimalChain("board_analysis", 4, agentctx.UserPreferences{})
	assert.Equal(t, []string{"content_analysis", "summary_generation"}, chain)
}

func TestStatsReflectsExecutionCount(t *testing.T) {
	c := newCoordinator()
	c.RegisterAgent(&stubAgent{agentType: "a", agentName: "a", validates: true, execResult: agent.TaskResult{Content: "ok"}})

	c.ExecuteChain(context.Background(), []string{"a"}, nil, agentctx.AgentContext{})
	c.ExecuteChain(context.Background(), []string{"a"}, nil, agentctx.AgentContext{})

	stats := c.Stats()
	assert.Equal(t, 2, stats["execution_count"])
	assert.Equal(t, 1, stats["agent_count"])
}
