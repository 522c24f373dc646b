package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/pyaichatbot/orchestration-core/internal/session"
)

// executeSequential implements spec.md §4.6 step D "sequential": invoke in
// order, passing the prior step's output forward; halt on the first
// failed/denied/timed_out result unless the step is explicitly optional.
func (s *Scheduler) executeSequential(ctx context.Context, sessionID, input string, steps []Step) []AgentResult {
	results := make([]AgentResult, 0, len(steps))
	nextInput := input

	for _, step := range steps {
		res := s.invokeOne(ctx, sessionID, nextInput, step)
		results = append(results, res)

		if res.Status != StatusSuccess && !step.Optional {
			break
		}
		if res.Output != "" {
			nextInput = fmt.Sprintf("%s\n\n[previous_result: %s]", input, res.Output)
		}
	}
	return results
}

// executeParallel implements spec.md §4.6 step D "parallel": fan out
// concurrently bounded by parallelMaxInFlight, honoring a wall-clock
// deadline; fail_fast cancels peers on the first non-success.
func (s *Scheduler) executeParallel(ctx context.Context, sessionID, input string, steps []Step, cfg ParallelConfig) []AgentResult {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	ctx, cancelPeers := context.WithCancel(ctx)
	defer cancelPeers()

	maxInFlight := s.parallelMaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = len(steps)
	}
	sem := make(chan struct{}, maxInFlight)

	results := make([]AgentResult, len(steps))
	var wg sync.WaitGroup
	var failedOnce sync.Once
	var mu sync.Mutex

	for i, step := range steps {
		wg.Add(1)
		go func(i int, step Step) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res := s.invokeOne(ctx, sessionID, input, step)
			if ctx.Err() != nil && res.Status != StatusSuccess {
				res.Status = StatusCancelled
			}

			mu.Lock()
			results[i] = res
			mu.Unlock()

			if cfg.FailFast && res.Status != StatusSuccess {
				failedOnce.Do(cancelPeers)
			}
		}(i, step)
	}
	wg.Wait()
	return results
}

// executeLoop implements spec.md §4.6 step D "loop": repeat the inner plan
// (here, sequential invocation of the same steps) up to MaxIterations,
// evaluating Condition against the aggregated result of the last iteration
// only (spec.md §4.6 "edge cases").
func (s *Scheduler) executeLoop(ctx context.Context, sessionID, input string, steps []Step, cfg LoopConfig) ([]IterationResult, int) {
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1
	}

	var cond Condition
	hasCondition := false
	if cfg.Condition != "" {
		if c, err := ParseCondition(cfg.Condition); err == nil {
			cond = c
			hasCondition = true
		} else {
			s.log.Warn(ctx, "scheduler: unparsable loop condition", "condition", cfg.Condition, "error", err.Error())
		}
	}

	iterations := make([]IterationResult, 0, maxIterations)
	completed := 0

	for i := 0; i < maxIterations; i++ {
		s.emitStatus(ctx, sessionID, session.PhaseIteration, map[string]any{"iteration": i + 1})

		iterResults := s.executeSequential(ctx, sessionID, input, steps)
		iterations = append(iterations, IterationResult{Results: iterResults})
		completed++

		if !hasCondition {
			continue
		}

		aggregated := aggregateData(iterResults)
		met, ok := cond.Evaluate(aggregated)
		if !ok {
			s.log.Warn(ctx, "scheduler: loop condition field missing, treating as not met", "field", cond.Field)
			continue
		}
		if met {
			break
		}
	}

	return iterations, completed
}

// aggregateData merges each agent result's Data into a single map for
// condition evaluation, last-writer-wins on key collision.
func aggregateData(results []AgentResult) map[string]any {
	out := make(map[string]any)
	for _, r := range results {
		for k, v := range r.Data {
			out[k] = v
		}
	}
	return out
}
