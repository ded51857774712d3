package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/agentctx"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/tracing"
)

// AgentResponseEntry pairs an agent's name with its execution response,
// preserving the order agents ran in.
type AgentResponseEntry struct {
	AgentName string
	Response  Response
}

// CoordinatedResponse accumulates the outcome of a chain or parallel
// run across multiple agents, mirroring the original's
// CoordinatedResponse.
type CoordinatedResponse struct {
	SessionID           string
	StartTime           time.Time
	AgentResponses       []AgentResponseEntry
	FinalContent         any
	Metadata             map[string]any
	TotalWTUConsumed     int
	TotalExecutionTime   time.Duration
	Success              bool
	ErrorMessages        []string
}

func newCoordinatedResponse(sessionID string) *CoordinatedResponse {
	return &CoordinatedResponse{
		SessionID: sessionID,
		StartTime: time.Now(),
		Metadata:  map[string]any{},
		Success:   true,
	}
}

func (c *CoordinatedResponse) addAgentResponse(agentName string, resp Response) {
	c.AgentResponses = append(c.AgentResponses, AgentResponseEntry{AgentName: agentName, Response: resp})
	c.TotalWTUConsumed += resp.WTUConsumed
	c.TotalExecutionTime += resp.ExecutionTime
	if !resp.Success {
		c.Success = false
		if resp.ErrorMessage != "" {
			c.ErrorMessages = append(c.ErrorMessages, fmt.Sprintf("%s: %s", agentName, resp.ErrorMessage))
		}
	}
}

func (c *CoordinatedResponse) finalize(content any, extraMetadata map[string]any) {
	c.FinalContent = content
	for k, v := range extraMetadata {
		c.Metadata[k] = v
	}

	var successCount int
	for _, e := range c.AgentResponses {
		if e.Response.Success {
			successCount++
		}
	}
	successRate := 0.0
	if len(c.AgentResponses) > 0 {
		successRate = float64(successCount) / float64(len(c.AgentResponses))
	}

	c.Metadata["session_id"] = c.SessionID
	c.Metadata["total_agents"] = len(c.AgentResponses)
	c.Metadata["execution_summary"] = map[string]any{
		"total_wtu_consumed":    c.TotalWTUConsumed,
		"total_execution_time":  c.TotalExecutionTime,
		"success_rate":          successRate,
	}
}

// AgentTask pairs an agent type with the input it should run with, for
// parallel execution.
type AgentTask struct {
	AgentType string
	Input     map[string]any
}

// Coordinator is the C9 Agent Coordinator: a name-keyed agent registry
// with sequential-chain and parallel execution strategies.
type Coordinator struct {
	logger zerolog.Logger

	selector   ModelSelector
	accountant Accountant
	tracer     *tracing.Tracer

	mu             sync.RWMutex
	agents         map[string]Agent
	executionCount int
}

// New wires a Coordinator. tracer may be nil; ExecuteChain and
// ExecuteParallel run without spans in that case.
func New(logger zerolog.Logger, selector ModelSelector, accountant Accountant, tracer *tracing.Tracer) *Coordinator {
	return &Coordinator{
		logger:     logger.With().Str("component", "agent_coordinator").Logger(),
		selector:   selector,
		accountant: accountant,
		tracer:     tracer,
		agents:     make(map[string]Agent),
	}
}

// RegisterAgent adds agent to the registry, keyed by its AgentType.
func (c *Coordinator) RegisterAgent(a Agent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents[a.AgentType()] = a
	c.logger.Info().Str("agent_type", a.AgentType()).Str("agent_name", a.AgentName()).Msg("registered agent")
}

// AvailableAgents lists every registered agent type.
func (c *Coordinator) AvailableAgents() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.agents))
	for t := range c.agents {
		out = append(out, t)
	}
	return out
}

func (c *Coordinator) lookup(agentType string) (Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[agentType]
	return a, ok
}

// ExecuteChain runs agentChain sequentially, threading each agent's
// output into the next agent's input: if an agent's content is a
// map, its keys are merged into the running input; otherwise the
// content is stashed under "previous_output". An unregistered agent
// type is skipped with a recorded error, and execution continues with
// the remaining chain, matching the original's non-fatal chain
// behavior.
func (c *Coordinator) ExecuteChain(ctx context.Context, agentChain []string, initialInput map[string]any, agentCtx agentctx.AgentContext) *CoordinatedResponse {
	sessionID := uuid.NewString()
	resp := newCoordinatedResponse(sessionID)

	c.logger.Info().Strs("chain", agentChain).Str("session_id", sessionID).Msg("starting agent chain execution")

	currentInput := make(map[string]any, len(initialInput))
	for k, v := range initialInput {
		currentInput[k] = v
	}

	for _, agentType := range agentChain {
		a, ok := c.lookup(agentType)
		if !ok {
			msg := fmt.Sprintf("agent type '%s' not registered", agentType)
			c.logger.Error().Str("agent_type", agentType).Msg(msg)
			resp.ErrorMessages = append(resp.ErrorMessages, msg)
			resp.Success = false
			continue
		}

		agentResp := ProcessWithWTU(ctx, c.logger, a, c.selector, c.accountant, c.tracer, currentInput, agentCtx)
		resp.addAgentResponse(a.AgentName(), agentResp)

		if agentResp.Success {
			if asMap, ok := agentResp.Content.(map[string]any); ok {
				for k, v := range asMap {
					currentInput[k] = v
				}
			} else {
				currentInput["previous_output"] = agentResp.Content
			}
		}
	}

	if len(resp.AgentResponses) > 0 {
		last := resp.AgentResponses[len(resp.AgentResponses)-1]
		resp.finalize(last.Response.Content, map[string]any{
			"chain_execution": true,
			"agent_chain":     agentChain,
		})
	}

	c.mu.Lock()
	c.executionCount++
	c.mu.Unlock()

	c.logger.Info().Bool("success", resp.Success).Int("total_wtu", resp.TotalWTUConsumed).Msg("agent chain completed")
	return resp
}

// ExecuteParallel runs every task concurrently via an errgroup,
// collecting each agent's result into a map keyed by agent name. An
// unregistered agent type is recorded as an error and skipped before
// the fan-out begins.
func (c *Coordinator) ExecuteParallel(ctx context.Context, tasks []AgentTask, agentCtx agentctx.AgentContext) *CoordinatedResponse {
	sessionID := uuid.NewString()
	resp := newCoordinatedResponse(sessionID)

	c.logger.Info().Int("agent_count", len(tasks)).Str("session_id", sessionID).Msg("starting parallel agent execution")

	type runnable struct {
		agent Agent
		input map[string]any
	}
	var runnables []runnable
	for _, t := range tasks {
		a, ok := c.lookup(t.AgentType)
		if !ok {
			msg := fmt.Sprintf("agent type '%s' not registered", t.AgentType)
			c.logger.Error().Str("agent_type", t.AgentType).Msg(msg)
			resp.ErrorMessages = append(resp.ErrorMessages, msg)
			continue
		}
		runnables = append(runnables, runnable{agent: a, input: t.Input})
	}

	results := make([]Response, len(runnables))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range runnables {
		i, r := i, r
		g.Go(func() error {
			results[i] = ProcessWithWTU(gctx, c.logger, r.agent, c.selector, c.accountant, c.tracer, r.input, agentCtx)
			return nil
		})
	}
	_ = g.Wait()

	parallelResults := make(map[string]any, len(runnables))
	for i, r := range runnables {
		resp.addAgentResponse(r.agent.AgentName(), results[i])
		if results[i].Success {
			parallelResults[r.agent.AgentName()] = results[i].Content
		}
	}

	resp.finalize(parallelResults, map[string]any{
		"parallel_execution": true,
		"agent_count":        len(tasks),
	})

	c.mu.Lock()
	c.executionCount++
	c.mu.Unlock()

	c.logger.Info().Bool("success", resp.Success).Int("total_wtu", resp.TotalWTUConsumed).Msg("parallel execution completed")
	return resp
}

// BuildOptimalChain constructs a task/complexity/preference-appropriate
// agent chain, filtered down to agent types actually registered,
// mirroring the original's build_optimal_agent_chain task-type table.
func (c *Coordinator) BuildOptimalChain(taskType string, complexity int, prefs agentctx.UserPreferences) []string {
	var chain []string

	switch taskType {
	case "board_analysis":
		chain = []string{"content_analysis", "summary_generation"}
		if complexity >= 3 {
			chain = append(chain, "validator")
		}
		if prefs.QualityPreference == "quality" {
			chain = insertBeforeLast(chain, "qa_enhancement")
		}
	case "clipper":
		chain = []string{"content_extraction", "summary_generation", "category_classification"}
		if complexity >= 4 {
			chain = append(chain, "validator")
		}
	case "summary":
		chain = []string{"summary_generation"}
		if complexity >= 3 {
			chain = append(chain, "validator")
		}
	default:
		chain = []string{"content_analysis", "summary_generation"}
	}

	available := make([]string, 0, len(chain))
	for _, agentType := range chain {
		if _, ok := c.lookup(agentType); ok {
			available = append(available, agentType)
		}
	}

	c.logger.Info().Str("task_type", taskType).Strs("chain", available).Msg("built agent chain")
	return available
}

func insertBeforeLast(chain []string, item string) []string {
	if len(chain) == 0 {
		return append(chain, item)
	}
	out := make([]string, 0, len(chain)+1)
	out = append(out, chain[:len(chain)-1]...)
	out = append(out, item, chain[len(chain)-1])
	return out
}

// Stats returns coordinator-wide counters for observability endpoints.
func (c *Coordinator) Stats() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	agentTypes := make([]string, 0, len(c.agents))
	for t := range c.agents {
		agentTypes = append(agentTypes, t)
	}

	return map[string]any{
		"registered_agents": agentTypes,
		"agent_count":       len(c.agents),
		"execution_count":   c.executionCount,
	}
}
