// Package llm defines the abstract planning seam the orchestration
// scheduler calls into (spec.md §1: "LLM integration... remains an
// external collaborator"). No concrete model SDK is wired here; callers
// supply a PlanClient implementation, or use StubClient for tests and for
// operating the scheduler without a real model.
package llm

import (
	"context"
)

// Pattern names the orchestration pattern a plan selects (spec.md §4.6).
type Pattern string

const (
	PatternSimple     Pattern = "simple"
	PatternSequential Pattern = "sequential"
	PatternParallel   Pattern = "parallel"
	PatternLoop       Pattern = "loop"
)

// Step names one agent invocation within a plan.
type Step struct {
	AgentID    string
	Input      string
	Parameters map[string]any
}

// LoopOptions configures a PatternLoop plan.
type LoopOptions struct {
	MaxIterations int
	Condition     Condition
}

// Condition is a closed comparator over a named field of the prior
// iteration's result, per the Open Question resolution recorded in
// DESIGN.md ("closed comparator set for loop condition").
type Condition struct {
	Field      string
	Comparator string // one of "<", "<=", ">", ">=", "==", "present"
	Value      any
}

// ParallelOptions configures a PatternParallel plan.
type ParallelOptions struct {
	FailFast bool
	Timeout  int64 // milliseconds; 0 means no explicit bound beyond the caller's.
}

// Plan is the scheduler input produced by intent parsing (spec.md §4.6 step
// B): which orchestration pattern to run and over which agents.
type Plan struct {
	Pattern  Pattern
	Steps    []Step
	Loop     LoopOptions
	Parallel ParallelOptions
}

// AgentSnapshot is the capability summary a PlanClient consults to pick
// agents, avoiding a hard dependency from this package on the registry's
// mutable state.
type AgentSnapshot struct {
	ID           string
	Name         string
	Capabilities []string
	Load         int
	MaxCapacity  int
}

// Query is the planning request: the user's message plus the registry
// snapshot and any client-supplied override (spec.md §4.6 step B
// "user-override, or else LLM-produced plan").
type Query struct {
	Input   string
	Agents  []AgentSnapshot
	Pattern Pattern // non-empty when the caller pins the pattern explicitly.
}

// PlanClient produces an orchestration Plan from a Query. Concrete
// implementations wrap a real model; this package defines only the
// contract (spec.md §1 non-goal: "implementing the LLM itself").
type PlanClient interface {
	Plan(ctx context.Context, q Query) (Plan, error)
}
