package scheduler

import (
	"time"

	"github.com/pyaichatbot/orchestration-core/internal/registry"
)

// Pattern names an orchestration pattern (spec.md §4.6, §9 "tagged
// variant"). Values are shared verbatim with the llm package's plan output.
type Pattern string

const (
	PatternSimple     Pattern = "simple"
	PatternSequential Pattern = "sequential"
	PatternParallel   Pattern = "parallel"
	PatternLoop       Pattern = "loop"
)

// Status is the outcome of one agent invocation within a plan.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusDenied    Status = "denied"
	StatusCancelled Status = "cancelled"
)

// Step names one agent invocation slot in a plan.
type Step struct {
	AgentID  string
	Optional bool
}

// ParallelConfig configures the parallel pattern (spec.md §4.6 step B).
type ParallelConfig struct {
	Timeout  time.Duration
	FailFast bool
}

// LoopConfig configures the loop pattern (spec.md §4.6 step B).
type LoopConfig struct {
	MaxIterations int
	Condition     string
}

// RequestContext is the Step A intent-parse input: the caller's query plus
// any overrides (spec.md §4.6 step A/B).
type RequestContext struct {
	Query              string
	Parameters         map[string]any
	OrchestrationPattern Pattern
	Agents             []string
	AgentSequence      []string
	ParallelConfig     ParallelConfig
	LoopConfig         LoopConfig

	// RequiredCapabilities narrows auto-selection (no OrchestrationPattern/
	// Agents override) to agents covering every named capability, both in
	// the snapshot offered to the planner and in the registry.Select
	// fallback below it (spec.md §4.2 `select`, §4.6 step B).
	RequiredCapabilities []string
	// SelectionStrategy picks the registry.Select load-balancing strategy
	// consulted by the auto-select fallback when the planner names no
	// valid step. Empty defaults to registry.StrategyLeastLoaded.
	SelectionStrategy registry.Strategy
	// PinnedAgents names the candidate agent ids consulted only when
	// SelectionStrategy is registry.StrategyPinned.
	PinnedAgents []string
}

// AgentResult is one entry of an OrchestrationResult's results list.
type AgentResult struct {
	AgentID  string         `json:"agent_id"`
	Status   Status         `json:"status"`
	Output   string         `json:"output,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Latency  time.Duration  `json:"latency"`
	Optional bool           `json:"optional,omitempty"`
}

// IterationResult is one loop iteration's aggregated outcome.
type IterationResult struct {
	Results []AgentResult `json:"results"`
}

// OrchestrationResult is the Step E aggregate (spec.md §3, §4.6 step E).
type OrchestrationResult struct {
	Pattern             Pattern           `json:"pattern"`
	UserOverride         bool              `json:"user_override"`
	Agents               []string          `json:"agents"`
	Results              []AgentResult     `json:"results"`
	Iterations           []IterationResult `json:"iterations,omitempty"`
	IterationsCompleted *int              `json:"iterations_completed,omitempty"`
	Timestamp            time.Time         `json:"timestamp"`
}
