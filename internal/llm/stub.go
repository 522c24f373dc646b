package llm

import "context"

// StubClient is a tiny, deterministic planner that never calls a model,
// grounded on cmd/demo/main.go's stubPlanner: pick the first capable agent
// and return a single-step simple plan. It exists so the scheduler can be
// exercised and tested without a real PlanClient wired in.
type StubClient struct{}

// Plan implements PlanClient. If q.Pattern is set, it is honored verbatim
// with every available agent as a step; otherwise it defaults to a simple
// plan invoking the first agent in the snapshot.
func (StubClient) Plan(ctx context.Context, q Query) (Plan, error) {
	pattern := q.Pattern
	if pattern == "" {
		pattern = PatternSimple
	}

	if len(q.Agents) == 0 {
		return Plan{Pattern: pattern}, nil
	}

	switch pattern {
	case PatternSequential, PatternParallel, PatternLoop:
		steps := make([]Step, 0, len(q.Agents))
		for _, a := range q.Agents {
			steps = append(steps, Step{AgentID: a.ID, Input: q.Input})
		}
		plan := Plan{Pattern: pattern, Steps: steps}
		if pattern == PatternLoop {
			plan.Loop = LoopOptions{MaxIterations: 1}
		}
		return plan, nil
	default:
		return Plan{
			Pattern: PatternSimple,
			Steps:   []Step{{AgentID: q.Agents[0].ID, Input: q.Input}},
		}, nil
	}
}

var _ PlanClient = StubClient{}
