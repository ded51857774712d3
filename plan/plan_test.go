package plan_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/plan"
)

type stubPlanAgent struct {
	name   string
	result plan.Result
}

func (s *stubPlanAgent) Name() string { return s.name }
func (s *stubPlanAgent) Run(ctx context.Context, pctx plan.Context) plan.Result {
	s.result.Agent = s.name
	return s.result
}

type stubWTU struct{}

func (stubWTU) ComputeWTUForAlias(ctx context.Context, alias string, inputTokens, outputTokens int) int {
	return inputTokens + outputTokens
}

func TestExecuteRunsStagesInOrderAndSetsFinalOutput(t *testing.T) {
	ex := plan.New(zerolog.Nop(), stubWTU{}, "writer")
	ex.RegisterAgent(&stubPlanAgent{name: "summarizer", result: plan.Result{
		Status: plan.StatusCompleted, Success: true,
		Output: map[string]any{"summary": "short summary"},
	}})
	ex.RegisterAgent(&stubPlanAgent{name: "writer", result: plan.Result{
		Status: plan.StatusCompleted, Success: true,
		Output: map[string]any{"title": "t", "draft_md": "body"},
	}})

	p := plan.ExecutionPlan{
		PlanID: "plan_1",
		Stages: []plan.Stage{
			{Index: 1, Agents: []plan.AgentSpec{{Agent: "summarizer"}}},
			{Index: 2, Agents: []plan.AgentSpec{{Agent: "writer"}}},
		},
	}

	result := ex.Execute(context.Background(), p, plan.Context{RequestID: "r1"}, nil)

	require.Len(t, result.Results, 2)
	assert.Equal(t, "t", result.FinalOutput["title"])
	assert.Equal(t, "body", result.FinalOutput["draft_md"])
}

func TestExecuteSkipsUnregisteredAgent(t *testing.T) {
	ex := plan.New(zerolog.Nop(), stubWTU{}, "writer")
	ex.RegisterAgent(&stubPlanAgent{name: "writer", result: plan.Result{Status: plan.StatusCompleted, Success: true, Output: map[string]any{"draft_md": "x"}}})

	p := plan.ExecutionPlan{
		PlanID: "plan_2",
		Stages: []plan.Stage{
			{Index: 1, Agents: []plan.AgentSpec{{Agent: "missing_agent"}}},
			{Index: 2, Agents: []plan.AgentSpec{{Agent: "writer"}}},
		},
	}

	result := ex.Execute(context.Background(), p, plan.Context{}, nil)

	require.Len(t, result.Results, 2)
	assert.Equal(t, plan.StatusSkipped, result.Results[0].Status)
	assert.True(t, result.Results[0].Skipped)
	assert.Contains(t, result.Warnings, "agent implementation not registered")
	assert.Equal(t, "x", result.FinalOutput["draft_md"])
}

func TestExecuteAccumulatesPreviousOutputsForward(t *testing.T) {
	var seenPrevious map[string]any
	ex := plan.New(zerolog.Nop(), stubWTU{}, "")
	ex.RegisterAgent(&stubPlanAgent{name: "first", result: plan.Result{Success: true, Output: map[string]any{"k": "v"}}})
	ex.RegisterAgent(&capturingAgent{name: "second", capture: &seenPrevious})

	p := plan.ExecutionPlan{
		PlanID: "plan_3",
		Stages: []plan.Stage{
			{Index: 1, Agents: []plan.AgentSpec{{Agent: "first"}}},
			{Index: 2, Agents: []plan.AgentSpec{{Agent: "second"}}},
		},
	}

	ex.Execute(context.Background(), p, plan.Context{}, nil)

	require.NotNil(t, seenPrevious)
	firstOutput, ok := seenPrevious["first"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "v", firstOutput["k"])
}

type capturingAgent struct {
	name    string
	capture *map[string]any
}

func (c *capturingAgent) Name() string { return c.name }
func (c *capturingAgent) Run(ctx context.Context, pctx plan.Context) plan.Result {
	*c.capture = pctx.PreviousOutputs
	return plan.Result{Agent: c.name, Success: true}
}

func TestExecuteEmitsStageAndAgentEvents(t *testing.T) {
	var events []plan.Event
	ex := plan.New(zerolog.Nop(), stubWTU{}, "")
	ex.RegisterAgent(&stubPlanAgent{name: "a", result: plan.Result{Success: true}})

	p := plan.ExecutionPlan{
		PlanID:        "plan_4",
		RetrievalMode: plan.RetrievalBoth,
		Stages:        []plan.Stage{{Index: 1, Agents: []plan.AgentSpec{{Agent: "a"}}}},
	}

	ex.Execute(context.Background(), p, plan.Context{}, func(e plan.Event) {
		events = append(events, e)
	})

	var names []string
	for _, e := range events {
		names = append(names, e.Event)
	}
	assert.Equal(t, []string{"plan", "status", "agent_start", "agent_done"}, names)
	assert.Equal(t, "plan_4", events[0].Data["plan_id"])
	assert.Equal(t, plan.RetrievalBoth, events[0].Data["retrieval_mode"])
}

func TestExecuteEmitsPlanEventEvenWithNoStages(t *testing.T) {
	var events []plan.Event
	ex := plan.New(zerolog.Nop(), stubWTU{}, "")

	p := plan.ExecutionPlan{PlanID: "plan_6", RequestType: plan.RequestTypeAsk, RetrievalMode: plan.RetrievalAuto}
	ex.Execute(context.Background(), p, plan.Context{}, func(e plan.Event) {
		events = append(events, e)
	})

	require.Len(t, events, 1)
	assert.Equal(t, "plan", events[0].Event)
	assert.Equal(t, plan.RetrievalAuto, events[0].Data["retrieval_mode"])
}

func TestCalculateUsageSkipsFailedAndSkippedAgents(t *testing.T) {
	ex := plan.New(zerolog.Nop(), stubWTU{}, "")
	ex.RegisterAgent(&stubPlanAgent{name: "ok", result: plan.Result{Success: true, Model: "m", InputTokens: 100, OutputTokens: 50}})
	ex.RegisterAgent(&stubPlanAgent{name: "broke", result: plan.Result{Success: false}})

	p := plan.ExecutionPlan{
		PlanID: "plan_5",
		Stages: []plan.Stage{
			{Index: 1, Agents: []plan.AgentSpec{{Agent: "ok"}, {Agent: "broke"}, {Agent: "unregistered"}}},
		},
	}

	result := ex.Execute(context.Background(), p, plan.Context{}, nil)

	assert.Equal(t, 150, result.Usage.TotalWTU)
	assert.Len(t, result.Usage.Agents, 1)
}
