// Package agent implements the Agent Coordinator (spec §4.9, C9): a
// polymorphic Agent contract with automatic WTU accounting around
// execution, a name-keyed registry, sequential chain execution, and
// parallel fan-out.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/agentctx"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/tracing"
)

// TaskResult is what an Agent's ExecuteAITask returns: the raw content
// plus whatever usage/metadata it produced.
type TaskResult struct {
	Content              any
	Metadata             map[string]any
	InputTokens          int
	OutputTokens         int
	ModelSelectionReason string
}

// Agent is the contract every coordinated unit of AI work implements,
// mirroring the original's AIAgent abstract base: a type/capability
// identity, input validation, and the actual task execution. WTU
// accounting and timing are handled once, generically, by
// ProcessWithWTU rather than duplicated per agent.
type Agent interface {
	AgentType() string
	AgentName() string
	Capabilities() []string
	DefaultModelAlias() string
	ValidateInput(ctx context.Context, input map[string]any, agentCtx agentctx.AgentContext) bool
	ExecuteAITask(ctx context.Context, input map[string]any, modelAlias string, agentCtx agentctx.AgentContext) (TaskResult, error)
}

// ModelSelector picks the model alias an agent should use for one
// execution, honoring user preferences and task complexity.
type ModelSelector interface {
	SelectModel(ctx context.Context, prefs agentctx.UserPreferences, complexity int) (alias string, reason string, err error)
}

// Accountant is the narrow WTU dependency this package needs.
type Accountant interface {
	ComputeWTUForAlias(ctx context.Context, alias string, inputTokens, outputTokens int) int
	ChargeActual(ctx context.Context, userID string, amount int) error
}

// Response is the standardized outcome of one agent execution,
// mirroring the original's AgentResponse.
type Response struct {
	Content       any
	Metadata      map[string]any
	ModelUsed     string
	InputTokens   int
	OutputTokens  int
	WTUConsumed   int
	ExecutionTime time.Duration
	Success       bool
	ErrorMessage  string
}

// ProcessWithWTU runs agent against input, handling model selection,
// WTU computation/charging, and failure wrapping uniformly across all
// agents, the Go analog of the original's AIAgent.process_with_wtu.
func ProcessWithWTU(
	ctx context.Context,
	logger zerolog.Logger,
	a Agent,
	selector ModelSelector,
	accountant Accountant,
	tracer *tracing.Tracer,
	input map[string]any,
	agentCtx agentctx.AgentContext,
) Response {
	start := time.Now()

	if !a.ValidateInput(ctx, input, agentCtx) {
		return Response{
			Content:      "input data is invalid",
			Success:      false,
			ErrorMessage: "invalid input data",
		}
	}

	alias, reason, err := selector.SelectModel(ctx, agentCtx.UserPreferences, agentCtx.Complexity)
	if err != nil || alias == "" {
		alias = a.DefaultModelAlias()
		reason = "fallback_to_default"
		logger.Warn().Err(err).Str("agent", a.AgentName()).Str("fallback_alias", alias).Msg("model selection failed, using default")
	}

	logger.Info().Str("agent", a.AgentName()).Str("model", alias).Str("user_id", agentCtx.UserID).Msg("agent execution starting")

	var span *tracing.Span
	if tracer != nil {
		span = tracer.StartSpan("agent.execute_ai_task")
		span.SetAttribute("agent_name", a.AgentName())
		span.SetAttribute("agent_type", a.AgentType())
		span.SetAttribute("model", alias)
	}

	result, err := a.ExecuteAITask(ctx, input, alias, agentCtx)
	elapsed := time.Since(start)

	if span != nil {
		if err != nil {
			span.SetStatus("ERROR", err.Error())
		} else {
			span.SetStatus("OK", "")
		}
		tracer.EndSpan(span)
	}

	if err != nil {
		logger.Warn().Err(err).Str("agent", a.AgentName()).Msg("agent execution failed")
		return Response{
			Content:       fmt.Sprintf("agent execution failed: %v", err),
			Metadata:      map[string]any{"agent_name": a.AgentName(), "agent_type": a.AgentType()},
			ExecutionTime: elapsed,
			Success:       false,
			ErrorMessage:  err.Error(),
		}
	}

	wtu := accountant.ComputeWTUForAlias(ctx, alias, result.InputTokens, result.OutputTokens)
	if agentCtx.UserID != "" {
		if err := accountant.ChargeActual(ctx, agentCtx.UserID, wtu); err != nil {
			logger.Warn().Err(err).Str("agent", a.AgentName()).Msg("failed to charge WTU for agent execution")
		}
	}

	metadata := map[string]any{
		"agent_name":             a.AgentName(),
		"agent_type":             a.AgentType(),
		"model_selection_reason": reason,
	}
	for k, v := range result.Metadata {
		metadata[k] = v
	}

	logger.Info().Str("agent", a.AgentName()).Int("wtu", wtu).Dur("execution_time", elapsed).Msg("agent execution completed")

	return Response{
		Content:       result.Content,
		Metadata:      metadata,
		ModelUsed:     alias,
		InputTokens:   result.InputTokens,
		OutputTokens:  result.OutputTokens,
		WTUConsumed:   wtu,
		ExecutionTime: elapsed,
		Success:       true,
	}
}
