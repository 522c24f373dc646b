// Package scheduler implements the orchestration scheduler of spec.md §4.6:
// intent parse, planning (user override or LLM-produced), per-agent policy
// checks, pattern execution (simple/sequential/parallel/loop), and result
// aggregation.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/pyaichatbot/orchestration-core/internal/a2a"
	"github.com/pyaichatbot/orchestration-core/internal/llm"
	"github.com/pyaichatbot/orchestration-core/internal/orcherr"
	"github.com/pyaichatbot/orchestration-core/internal/policy"
	"github.com/pyaichatbot/orchestration-core/internal/registry"
	"github.com/pyaichatbot/orchestration-core/internal/session"
	"github.com/pyaichatbot/orchestration-core/internal/telemetry"
	"github.com/pyaichatbot/orchestration-core/internal/txctx"
)

// Scheduler runs one top-level request's task tree: plan, policy-filter,
// execute pattern, aggregate, emit (spec.md §4.6).
type Scheduler struct {
	registry   registry.Store
	policy     *policy.Engine
	agents     *a2a.Client
	planner    llm.PlanClient
	sessions   session.Store
	log        telemetry.Logger
	tracer     telemetry.Tracer

	parallelMaxInFlight int
	defaultTimeout      time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler's logger. A nil logger falls back to
// a no-op implementation.
func WithLogger(log telemetry.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithTracer configures the scheduler's tracer. A nil tracer falls back to
// a no-op implementation.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(s *Scheduler) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithParallelMaxInFlight bounds concurrent agent invocations within one
// parallel pattern (spec.md §5 "Backpressure").
func WithParallelMaxInFlight(n int) Option {
	return func(s *Scheduler) { s.parallelMaxInFlight = n }
}

// WithDefaultTimeout sets the scheduler-level default deadline applied when
// a request carries none of its own (spec.md §6 `scheduler.default_timeout_seconds`).
func WithDefaultTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.defaultTimeout = d }
}

// New constructs a Scheduler.
func New(reg registry.Store, pol *policy.Engine, agents *a2a.Client, planner llm.PlanClient, sessions session.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry:            reg,
		policy:              pol,
		agents:              agents,
		planner:             planner,
		sessions:            sessions,
		log:                 telemetry.NewNoopLogger(),
		tracer:              telemetry.NewNoopTracer(),
		parallelMaxInFlight: 16,
		defaultTimeout:      60 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// resolvedPlan is the Step B/C output: a validated pattern, ordered agent
// steps, and the options needed to execute it.
type resolvedPlan struct {
	pattern      Pattern
	userOverride bool
	steps        []Step
	parallel     ParallelConfig
	loop         LoopConfig
}

// Run executes the full Step A–E pipeline for one top-level request and
// returns the aggregated OrchestrationResult. sessionID, if non-empty, is
// used to push status events and the terminal result (spec.md §4.6 step E);
// Run itself is usable without a session for pure computation/tests.
func (s *Scheduler) Run(ctx context.Context, sessionID string, reqCtx RequestContext) (OrchestrationResult, error) {
	tx, _ := txctx.FromContext(ctx)
	ctx, span := s.tracer.Start(ctx, "scheduler.Run")
	defer span.End()

	s.emitStatus(ctx, sessionID, session.PhasePlanning, nil)

	plan, err := s.plan(ctx, reqCtx)
	if err != nil {
		return s.denyAndEmit(ctx, sessionID, err)
	}

	plan, err = s.applyPolicy(ctx, tx, plan)
	if err != nil {
		return s.denyAndEmit(ctx, sessionID, err)
	}

	s.emitStatus(ctx, sessionID, session.PhaseDispatching, map[string]any{"pattern": string(plan.pattern)})

	result, err := s.execute(ctx, sessionID, reqCtx.Query, plan)
	if err != nil {
		return s.denyAndEmit(ctx, sessionID, err)
	}

	s.emitComplete(ctx, sessionID, result)
	return result, nil
}

// plan implements Step B: user override first, else an LLM-produced plan
// validated against the registry.
func (s *Scheduler) plan(ctx context.Context, reqCtx RequestContext) (resolvedPlan, error) {
	if reqCtx.OrchestrationPattern != "" || len(reqCtx.Agents) > 0 || len(reqCtx.AgentSequence) > 0 {
		return s.planFromOverride(reqCtx)
	}

	snapshot := s.snapshotAgents(reqCtx.RequiredCapabilities)
	llmPlan, err := s.planner.Plan(ctx, llm.Query{Input: reqCtx.Query, Agents: snapshot})
	if err != nil {
		return resolvedPlan{}, orcherr.Newf(orcherr.Internal, "plan client failed: %v", err)
	}

	steps := make([]Step, 0, len(llmPlan.Steps))
	for _, st := range llmPlan.Steps {
		if _, err := s.registry.Get(st.AgentID); err != nil {
			continue
		}
		steps = append(steps, Step{AgentID: st.AgentID})
	}

	if len(steps) == 0 {
		// Fallback: best single match via the registry's capability-based,
		// load-balanced Select (spec.md §4.2 `select`, §4.6 step B), else
		// NoEligibleAgent.
		strategy := reqCtx.SelectionStrategy
		if strategy == "" {
			strategy = registry.StrategyLeastLoaded
		}
		selected := s.registry.Select(reqCtx.RequiredCapabilities, strategy, reqCtx.PinnedAgents)
		if len(selected) == 0 {
			return resolvedPlan{}, orcherr.Deniedf(orcherr.NoEligibleAgent, "no eligible agent for query")
		}
		return resolvedPlan{pattern: PatternSimple, steps: []Step{{AgentID: selected[0].ID}}}, nil
	}

	pattern := Pattern(llmPlan.Pattern)
	if pattern == "" {
		pattern = PatternSimple
	}
	if len(steps) == 1 {
		pattern = PatternSimple
	}

	rp := resolvedPlan{pattern: pattern, steps: steps}
	if pattern == PatternLoop {
		rp.loop = LoopConfig{MaxIterations: llmPlan.Loop.MaxIterations, Condition: conditionString(llmPlan.Loop.Condition)}
	}
	if pattern == PatternParallel {
		rp.parallel = ParallelConfig{FailFast: llmPlan.Parallel.FailFast, Timeout: time.Duration(llmPlan.Parallel.Timeout) * time.Millisecond}
	}
	return rp, nil
}

func conditionString(c llm.Condition) string {
	if c.Comparator == "present" {
		return fmt.Sprintf("%s present", c.Field)
	}
	return fmt.Sprintf("%s %s %v", c.Field, c.Comparator, c.Value)
}

func (s *Scheduler) planFromOverride(reqCtx RequestContext) (resolvedPlan, error) {
	pattern := reqCtx.OrchestrationPattern
	agentIDs := reqCtx.AgentSequence
	if len(agentIDs) == 0 {
		agentIDs = reqCtx.Agents
	}
	if pattern == "" {
		if len(agentIDs) > 1 {
			pattern = PatternSequential
		} else {
			pattern = PatternSimple
		}
	}

	steps := make([]Step, 0, len(agentIDs))
	for _, id := range agentIDs {
		if _, err := s.registry.Get(id); err != nil {
			return resolvedPlan{}, orcherr.Deniedf(orcherr.NoEligibleAgent, "agent %q is not registered", id)
		}
		steps = append(steps, Step{AgentID: id})
	}
	if len(steps) == 0 {
		return resolvedPlan{}, orcherr.Deniedf(orcherr.NoEligibleAgent, "no agents specified in override")
	}

	return resolvedPlan{
		pattern:      pattern,
		userOverride: true,
		steps:        steps,
		parallel:     reqCtx.ParallelConfig,
		loop:         reqCtx.LoopConfig,
	}, nil
}

// snapshotAgents returns the registry's current capability snapshot for the
// planner (spec.md §4.6 step B "from query and the registry's current
// capability snapshot"), narrowed to agents covering every name in required.
func (s *Scheduler) snapshotAgents(required []string) []llm.AgentSnapshot {
	records := s.registry.ListAll(registry.Filter{Capabilities: required})
	out := make([]llm.AgentSnapshot, 0, len(records))
	for _, r := range records {
		caps := make([]string, 0, len(r.Capabilities))
		for c := range r.Capabilities {
			caps = append(caps, c)
		}
		out = append(out, llm.AgentSnapshot{ID: r.ID, Name: r.Name, Capabilities: caps, Load: r.Load, MaxCapacity: r.MaxCapacity})
	}
	return out
}

// applyPolicy implements Step C: evaluate each step's agent with operation
// "invoke"; sequential/loop fail the whole plan on any denial, parallel
// drops denied agents and fails only if all are dropped.
func (s *Scheduler) applyPolicy(ctx context.Context, tx *txctx.TransactionContext, plan resolvedPlan) (resolvedPlan, error) {
	role := ""
	if tx != nil {
		role = tx.Role
	}

	survivors := make([]Step, 0, len(plan.steps))
	for _, step := range plan.steps {
		decision := s.policy.Evaluate(ctx, policy.Input{
			TransactionID: txctx.IDOrEmpty(tx),
			Role:          role,
			ResourceType:  policy.ResourceAgent,
			ResourceID:    step.AgentID,
			Operation:     "invoke",
		})
		if decision.Allowed {
			survivors = append(survivors, step)
			continue
		}
		if plan.pattern == PatternParallel {
			continue
		}
		return resolvedPlan{}, orcherr.Deniedf(orcherr.Subcode(decision.Reason), "agent %q denied: %s", step.AgentID, decision.Reason)
	}

	if len(survivors) == 0 {
		return resolvedPlan{}, orcherr.Deniedf(orcherr.Subcode(policy.ReasonDefaultDeny), "all agents denied")
	}
	plan.steps = survivors
	return plan, nil
}

// execute implements Step D: dispatch the plan's pattern.
func (s *Scheduler) execute(ctx context.Context, sessionID, input string, plan resolvedPlan) (OrchestrationResult, error) {
	agentIDs := make([]string, 0, len(plan.steps))
	for _, st := range plan.steps {
		agentIDs = append(agentIDs, st.AgentID)
	}

	result := OrchestrationResult{
		Pattern:      plan.pattern,
		UserOverride: plan.userOverride,
		Agents:       agentIDs,
		Timestamp:    time.Now(),
	}

	switch plan.pattern {
	case PatternSimple:
		result.Results = []AgentResult{s.invokeOne(ctx, sessionID, input, plan.steps[0])}
	case PatternSequential:
		result.Results = s.executeSequential(ctx, sessionID, input, plan.steps)
	case PatternParallel:
		result.Results = s.executeParallel(ctx, sessionID, input, plan.steps, plan.parallel)
	case PatternLoop:
		iterations, completed := s.executeLoop(ctx, sessionID, input, plan.steps, plan.loop)
		result.Iterations = iterations
		result.IterationsCompleted = &completed
		if len(iterations) > 0 {
			result.Results = iterations[len(iterations)-1].Results
		}
	default:
		return OrchestrationResult{}, orcherr.Newf(orcherr.InvalidRequest, "unknown pattern %q", plan.pattern)
	}

	return result, nil
}

func (s *Scheduler) invokeOne(ctx context.Context, sessionID, input string, step Step) AgentResult {
	agent, err := s.registry.Get(step.AgentID)
	if err != nil {
		return AgentResult{AgentID: step.AgentID, Status: StatusFailed, Error: err.Error(), Optional: step.Optional}
	}

	s.emitStatus(ctx, sessionID, session.PhaseAgentStart, map[string]any{"agent": step.AgentID})
	inv := s.agents.Invoke(ctx, agent, a2a.InvocationRequest{AgentID: step.AgentID, Input: input, SessionID: sessionID}, s.defaultTimeout)
	s.emitStatus(ctx, sessionID, session.PhaseAgentComplete, map[string]any{"agent": step.AgentID, "status": string(inv.Status)})

	res := AgentResult{
		AgentID:  step.AgentID,
		Output:   inv.Output,
		Data:     inv.Data,
		Latency:  inv.Duration,
		Optional: step.Optional,
	}
	switch inv.Status {
	case a2a.StatusCompleted:
		res.Status = StatusSuccess
	case a2a.StatusTimedOut:
		res.Status = StatusTimedOut
	case a2a.StatusCancelled:
		res.Status = StatusCancelled
	default:
		res.Status = StatusFailed
	}
	if inv.Err != nil {
		res.Error = inv.Err.Error()
	}
	return res
}

func (s *Scheduler) emitStatus(ctx context.Context, sessionID string, phase session.Phase, info map[string]any) {
	if sessionID == "" || s.sessions == nil {
		return
	}
	_ = s.sessions.EnqueueEvent(ctx, sessionID, session.NewStatusEvent(phase, info))
}

func (s *Scheduler) emitComplete(ctx context.Context, sessionID string, result OrchestrationResult) {
	if sessionID == "" || s.sessions == nil {
		return
	}
	_ = s.sessions.EnqueueEvent(ctx, sessionID, session.Event{
		Type:      session.EventStatus,
		Terminal:  true,
		Payload:   session.StatusPayload{Phase: session.PhaseComplete, Info: map[string]any{"result": result}},
		Timestamp: time.Now(),
	})
	_ = s.sessions.AppendMessage(ctx, sessionID, session.NewMessage(session.RoleAgent, summaryText(result), map[string]any{
		"pattern":       result.Pattern,
		"user_override": result.UserOverride,
		"agents":        result.Agents,
	}))
}

func (s *Scheduler) denyAndEmit(ctx context.Context, sessionID string, err error) (OrchestrationResult, error) {
	oerr := orcherr.FromError(err)
	if sessionID != "" && s.sessions != nil {
		_ = s.sessions.EnqueueEvent(ctx, sessionID, session.NewErrorEvent(string(oerr.Kind), oerr.Error()))
	}
	return OrchestrationResult{}, err
}

// summaryText produces the short message-log entry appended alongside the
// terminal event (spec.md §4.6 step E "append a message to the session
// log").
func summaryText(result OrchestrationResult) string {
	return fmt.Sprintf("orchestration complete: pattern=%s agents=%v", result.Pattern, result.Agents)
}
