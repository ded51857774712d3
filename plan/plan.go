// Package plan implements the Plan Executor (spec §4.10, C10): running
// a declarative ExecutionPlan stage by stage, threading each stage's
// outputs forward, and emitting an optional SSE-style event stream.
package plan

import (
	"context"

	"github.com/rs/zerolog"
)

// Status is an agent's terminal execution state within a plan run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// RequestType names the kind of request a plan was built to serve.
type RequestType string

const (
	RequestTypeDraft RequestType = "draft"
	RequestTypeAsk   RequestType = "ask"
)

// RetrievalMode names which retrieval sources a plan's agents may draw
// from.
type RetrievalMode string

const (
	RetrievalAuto    RetrievalMode = "auto"
	RetrievalRAGOnly RetrievalMode = "rag_only"
	RetrievalWebOnly RetrievalMode = "web_only"
	RetrievalBoth    RetrievalMode = "both"
)

// AgentSpec names one agent to run within a stage, plus why it was
// chosen and any extra options it needs.
type AgentSpec struct {
	Agent   string
	Reason  string
	Options map[string]any
}

// Stage is one ordered, optionally-parallel group of agents within a
// plan. Index is 1-based and purely informational (stages always run
// in slice order); Parallel marks whether the agents within the stage
// may run concurrently.
type Stage struct {
	Index    int
	Parallel bool
	Agents   []AgentSpec
}

// ExecutionPlan is the declarative agent-run description a planner
// hands to the Executor.
type ExecutionPlan struct {
	PlanID        string
	RequestType   RequestType
	RetrievalMode RetrievalMode
	Stages        []Stage
	Metadata      map[string]any
}

// Context carries the per-run request data threaded into every agent
// invocation, mirroring the original's AgentContext/OrchestrationContext.
type Context struct {
	RequestID        string
	UserID           string
	Prompt           string
	SelectedContents []map[string]any
	Metadata         map[string]any
	// PreviousOutputs is populated by the Executor from accumulated
	// stage outputs before each agent runs; callers never set it.
	PreviousOutputs map[string]any
}

// Result is one agent's outcome within a plan run.
type Result struct {
	Agent        string
	Status       Status
	Success      bool
	Skipped      bool
	Warning      string
	Content      string
	Output       map[string]any
	Error        string
	Model        string
	InputTokens  int
	OutputTokens int
}

// AgentUsage is one agent's WTU/token usage within a completed run.
type AgentUsage struct {
	Model        string
	InputTokens  int
	OutputTokens int
	WTU          int
}

// UsageSummary aggregates usage across every agent in a run.
type UsageSummary struct {
	TotalInputTokens  int
	TotalOutputTokens int
	TotalWTU          int
	Agents            map[string]AgentUsage
}

// ExecutionResult is the Executor's terminal output for one plan run.
type ExecutionResult struct {
	PlanID      string
	Results     []Result
	Usage       UsageSummary
	FinalOutput map[string]any
	Warnings    []string
}

// Event is one SSE-style notification emitted during a run.
type Event struct {
	Event string
	Data  map[string]any
}

// EventCallback receives Events as a plan runs. May be nil.
type EventCallback func(Event)

// Agent is one runnable unit within a plan. Run always returns a
// Result rather than an error: success/failure is encoded in the
// Result itself, matching the original's BaseAgent.run contract, so
// the Executor never needs special-case error handling around a call.
type Agent interface {
	Name() string
	Run(ctx context.Context, pctx Context) Result
}

// WTUCalculator is the narrow WTU dependency used to price each
// agent's usage after the fact.
type WTUCalculator interface {
	ComputeWTUForAlias(ctx context.Context, alias string, inputTokens, outputTokens int) int
}

// Executor runs ExecutionPlans against a registry of Agents.
type Executor struct {
	logger  zerolog.Logger
	agents  map[string]Agent
	wtu     WTUCalculator
	// finalOutputAgent names the agent whose Output becomes the run's
	// FinalOutput, e.g. "writer" in a summarize-then-draft pipeline.
	finalOutputAgent string
}

// New wires an Executor. finalOutputAgent names the agent whose Output
// is promoted to ExecutionResult.FinalOutput.
func New(logger zerolog.Logger, wtu WTUCalculator, finalOutputAgent string) *Executor {
	return &Executor{
		logger:           logger.With().Str("component", "plan_executor").Logger(),
		agents:           make(map[string]Agent),
		wtu:              wtu,
		finalOutputAgent: finalOutputAgent,
	}
}

// RegisterAgent adds agent to the registry, keyed by its Name.
func (e *Executor) RegisterAgent(a Agent) {
	e.agents[a.Name()] = a
	e.logger.Info().Str("agent", a.Name()).Msg("registering agent for orchestration")
}

// Execute runs plan stage by stage, accumulating each stage's agent
// outputs into the shared context passed to later stages.
func (e *Executor) Execute(ctx context.Context, p ExecutionPlan, pctx Context, onEvent EventCallback) ExecutionResult {
	e.logger.Info().Str("plan_id", p.PlanID).Int("stages", len(p.Stages)).Msg("starting orchestration execution")

	emit(onEvent, Event{Event: "plan", Data: map[string]any{
		"plan_id":        p.PlanID,
		"retrieval_mode": p.RetrievalMode,
		"stages":         stageSummaries(p.Stages),
	}})

	var results []Result
	accumulated := make(map[string]any)

	for _, stage := range p.Stages {
		emit(onEvent, Event{Event: "status", Data: map[string]any{
			"stage":    stage.Index,
			"parallel": stage.Parallel,
			"agents":   agentNames(stage.Agents),
		}})

		stageResults := e.runStage(ctx, stage, pctx, accumulated, onEvent)
		results = append(results, stageResults...)

		for _, r := range stageResults {
			if r.Output != nil {
				accumulated[r.Agent] = r.Output
			}
		}
	}

	var warnings []string
	for _, r := range results {
		if r.Warning != "" {
			warnings = append(warnings, r.Warning)
		}
	}

	finalOutput := map[string]any{}
	for _, r := range results {
		if r.Agent == e.finalOutputAgent && r.Output != nil {
			finalOutput = r.Output
		}
	}

	usage := e.calculateUsage(ctx, results)

	e.logger.Info().Str("plan_id", p.PlanID).Int("total_wtu", usage.TotalWTU).Msg("orchestration execution finished")

	return ExecutionResult{
		PlanID:      p.PlanID,
		Results:     results,
		Warnings:    warnings,
		Usage:       usage,
		FinalOutput: finalOutput,
	}
}

// runStage runs every agent in a stage sequentially, regardless of the
// Parallel flag: true concurrent stage execution belongs to the Agent
// Coordinator's ExecuteParallel for agent-internal fan-out; a plan
// Stage's Parallel flag documents intent for a future scheduler rather
// than being executed concurrently here, matching the original's own
// "sequential only for now" executor.
func (e *Executor) runStage(ctx context.Context, stage Stage, pctx Context, accumulated map[string]any, onEvent EventCallback) []Result {
	var stageResults []Result

	for _, spec := range stage.Agents {
		a, ok := e.agents[spec.Agent]
		if !ok {
			e.logger.Warn().Str("agent", spec.Agent).Msg("agent not registered, skipping execution")
			stageResults = append(stageResults, Result{
				Agent:   spec.Agent,
				Status:  StatusSkipped,
				Success: false,
				Skipped: true,
				Warning: "agent implementation not registered",
			})
			continue
		}

		emit(onEvent, Event{Event: "agent_start", Data: map[string]any{"agent": spec.Agent, "stage": stage.Index}})

		agentCtx := pctx
		agentCtx.PreviousOutputs = accumulated

		result := a.Run(ctx, agentCtx)
		stageResults = append(stageResults, result)

		emit(onEvent, Event{Event: "agent_done", Data: map[string]any{
			"agent": spec.Agent, "stage": stage.Index, "success": result.Success, "skipped": result.Skipped,
		}})
	}

	return stageResults
}

func (e *Executor) calculateUsage(ctx context.Context, results []Result) UsageSummary {
	usage := UsageSummary{Agents: make(map[string]AgentUsage)}

	for _, r := range results {
		if !r.Success || r.Skipped {
			continue
		}

		wtu := 1
		if e.wtu != nil {
			wtu = e.wtu.ComputeWTUForAlias(ctx, r.Model, r.InputTokens, r.OutputTokens)
		} else {
			wtu = (r.InputTokens + r.OutputTokens) / 1000
			if wtu < 1 {
				wtu = 1
			}
			e.logger.Warn().Msg("no WTU calculator wired, using simple fallback estimate")
		}

		usage.TotalInputTokens += r.InputTokens
		usage.TotalOutputTokens += r.OutputTokens
		usage.TotalWTU += wtu
		usage.Agents[r.Agent] = AgentUsage{
			Model:        r.Model,
			InputTokens:  r.InputTokens,
			OutputTokens: r.OutputTokens,
			WTU:          wtu,
		}
	}

	return usage
}

func agentNames(specs []AgentSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Agent
	}
	return out
}

// stageSummaries renders the "plan" event's stage preview: just index,
// parallel flag, and agent names, mirroring the per-stage "status"
// event's own shape.
func stageSummaries(stages []Stage) []map[string]any {
	out := make([]map[string]any, len(stages))
	for i, s := range stages {
		out[i] = map[string]any{
			"stage":    s.Index,
			"parallel": s.Parallel,
			"agents":   agentNames(s.Agents),
		}
	}
	return out
}

func emit(onEvent EventCallback, evt Event) {
	if onEvent == nil {
		return
	}
	onEvent(evt)
}
