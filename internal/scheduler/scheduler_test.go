package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pyaichatbot/orchestration-core/internal/a2a"
	"github.com/pyaichatbot/orchestration-core/internal/llm"
	"github.com/pyaichatbot/orchestration-core/internal/orcherr"
	"github.com/pyaichatbot/orchestration-core/internal/policy"
	"github.com/pyaichatbot/orchestration-core/internal/registry"
	"github.com/pyaichatbot/orchestration-core/internal/registry/inmem"
	"github.com/pyaichatbot/orchestration-core/internal/session"
	sessioninmem "github.com/pyaichatbot/orchestration-core/internal/session/inmem"
)

// scriptedTransport returns a scripted InvocationResult per agent id, or
// fails by default, letting each test script exact per-agent behavior.
type scriptedTransport struct {
	byAgent map[string]func(call int) (a2a.InvocationResult, error)
	calls   map[string]int
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{byAgent: map[string]func(int) (a2a.InvocationResult, error){}, calls: map[string]int{}}
}

func (t *scriptedTransport) Send(ctx context.Context, endpoint string, req a2a.InvocationRequest) (a2a.InvocationResult, error) {
	t.calls[req.AgentID]++
	fn, ok := t.byAgent[req.AgentID]
	if !ok {
		return a2a.InvocationResult{Status: a2a.StatusCompleted, Output: "ok"}, nil
	}
	return fn(t.calls[req.AgentID])
}

func setupRegistry(t *testing.T, agentIDs ...string) registry.Store {
	t.Helper()
	reg := inmem.New(30 * time.Second)
	for _, id := range agentIDs {
		require.NoError(t, reg.Register(registry.AgentRecord{ID: id, Name: id, Endpoint: "http://" + id, LastHeartbeat: time.Now(), Capabilities: map[string]struct{}{"search": {}}}))
	}
	return reg
}

func allowAllPolicy() *policy.Engine {
	doc := &policy.Document{DefaultPolicy: "allow"}
	return policy.New(doc, policy.Options{})
}

// TestSimpleAutoSelect mirrors spec.md §8 scenario S1.
func TestSimpleAutoSelect(t *testing.T) {
	reg := setupRegistry(t, "A1")
	transport := newScriptedTransport()
	client := a2a.New(transport, a2a.DefaultRetryConfig(), nil, nil)
	sessions := sessioninmem.New(0)
	sess, err := sessions.Create(context.Background(), "user1", nil)
	require.NoError(t, err)

	sched := New(reg, allowAllPolicy(), client, llm.StubClient{}, sessions)
	result, err := sched.Run(context.Background(), sess.ID, RequestContext{Query: "find users older than 30"})
	require.NoError(t, err)

	require.Equal(t, PatternSimple, result.Pattern)
	require.False(t, result.UserOverride)
	require.Len(t, result.Results, 1)
	require.Equal(t, StatusSuccess, result.Results[0].Status)
	require.Equal(t, "A1", result.Results[0].AgentID)
}

// TestSequentialUserOverride mirrors spec.md §8 scenario S2.
func TestSequentialUserOverride(t *testing.T) {
	reg := setupRegistry(t, "A1", "A2")
	transport := newScriptedTransport()
	client := a2a.New(transport, a2a.DefaultRetryConfig(), nil, nil)
	sessions := sessioninmem.New(0)
	sess, err := sessions.Create(context.Background(), "user1", nil)
	require.NoError(t, err)

	sched := New(reg, allowAllPolicy(), client, llm.StubClient{}, sessions)
	result, err := sched.Run(context.Background(), sess.ID, RequestContext{
		Query:                "do both",
		OrchestrationPattern: PatternSequential,
		AgentSequence:        []string{"A1", "A2"},
	})
	require.NoError(t, err)

	require.Equal(t, PatternSequential, result.Pattern)
	require.True(t, result.UserOverride)
	require.Len(t, result.Results, 2)
	require.Equal(t, StatusSuccess, result.Results[0].Status)
	require.Equal(t, StatusSuccess, result.Results[1].Status)
}

// TestSequentialHaltsOnFirstFailure verifies invariant 7: agent N+1 is
// invoked iff agent N's result is success.
func TestSequentialHaltsOnFirstFailure(t *testing.T) {
	reg := setupRegistry(t, "A1", "A2")
	transport := newScriptedTransport()
	transport.byAgent["A1"] = func(int) (a2a.InvocationResult, error) {
		return a2a.InvocationResult{Status: a2a.StatusFailed}, nil
	}
	client := a2a.New(transport, a2a.DefaultRetryConfig(), nil, nil)
	sessions := sessioninmem.New(0)
	sess, _ := sessions.Create(context.Background(), "user1", nil)

	sched := New(reg, allowAllPolicy(), client, llm.StubClient{}, sessions)
	result, err := sched.Run(context.Background(), sess.ID, RequestContext{
		OrchestrationPattern: PatternSequential,
		AgentSequence:        []string{"A1", "A2"},
	})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	require.Equal(t, 0, transport.calls["A2"])
}

// TestParallelFailFastCancelsPeers mirrors spec.md §8 scenario S3 / invariant 6.
func TestParallelFailFastCancelsPeers(t *testing.T) {
	reg := setupRegistry(t, "A1", "A2", "A3")
	transport := newScriptedTransport()
	transport.byAgent["A2"] = func(int) (a2a.InvocationResult, error) {
		return a2a.InvocationResult{Status: a2a.StatusCompleted, Output: ""}, nil
	}
	// Force A2 to report failure; A1/A3 sleep without watching ctx, so they
	// finish as success or are reported cancelled once A2 cancels its peers.
	transport.byAgent["A2"] = func(int) (a2a.InvocationResult, error) {
		return a2a.InvocationResult{}, &a2a.TransientError{Err: context.DeadlineExceeded}
	}
	for _, id := range []string{"A1", "A3"} {
		agentID := id
		transport.byAgent[agentID] = func(int) (a2a.InvocationResult, error) {
			time.Sleep(20 * time.Millisecond)
			return a2a.InvocationResult{Status: a2a.StatusCompleted}, nil
		}
	}
	client := a2a.New(transport, a2a.RetryConfig{MaxAttempts: 1}, nil, nil)
	sessions := sessioninmem.New(0)
	sess, _ := sessions.Create(context.Background(), "user1", nil)

	sched := New(reg, allowAllPolicy(), client, llm.StubClient{}, sessions)
	result, err := sched.Run(context.Background(), sess.ID, RequestContext{
		OrchestrationPattern: PatternParallel,
		Agents:               []string{"A1", "A2", "A3"},
		ParallelConfig:       ParallelConfig{FailFast: true, Timeout: time.Second},
	})
	require.NoError(t, err)
	require.Len(t, result.Results, 3)
	require.Equal(t, StatusFailed, result.Results[1].Status)
	for _, i := range []int{0, 2} {
		require.Contains(t, []Status{StatusSuccess, StatusCancelled}, result.Results[i].Status)
	}
}

// TestLoopStopsOnConditionMet mirrors spec.md §8 scenario S4.
func TestLoopStopsOnConditionMet(t *testing.T) {
	reg := setupRegistry(t, "A1")
	transport := newScriptedTransport()
	accuracies := []float64{0.7, 0.85, 0.92}
	transport.byAgent["A1"] = func(call int) (a2a.InvocationResult, error) {
		idx := call - 1
		if idx >= len(accuracies) {
			idx = len(accuracies) - 1
		}
		return a2a.InvocationResult{Status: a2a.StatusCompleted, Data: map[string]any{"accuracy": accuracies[idx]}}, nil
	}
	client := a2a.New(transport, a2a.DefaultRetryConfig(), nil, nil)
	sessions := sessioninmem.New(0)
	sess, _ := sessions.Create(context.Background(), "user1", nil)

	sched := New(reg, allowAllPolicy(), client, llm.StubClient{}, sessions)
	result, err := sched.Run(context.Background(), sess.ID, RequestContext{
		OrchestrationPattern: PatternLoop,
		Agents:               []string{"A1"},
		LoopConfig:           LoopConfig{MaxIterations: 5, Condition: "accuracy > 0.9"},
	})
	require.NoError(t, err)
	require.NotNil(t, result.IterationsCompleted)
	require.Equal(t, 3, *result.IterationsCompleted)
}

// TestPolicyDenialNeverInvokesAgent mirrors spec.md §8 scenario S5 /
// invariant 3.
func TestPolicyDenialNeverInvokesAgent(t *testing.T) {
	reg := setupRegistry(t, "A_restricted")
	transport := newScriptedTransport()
	client := a2a.New(transport, a2a.DefaultRetryConfig(), nil, nil)
	sessions := sessioninmem.New(0)
	sess, _ := sessions.Create(context.Background(), "user1", nil)

	doc := &policy.Document{
		Roles:         map[string]policy.RoleRules{"tool_user": {}},
		DefaultPolicy: "deny",
	}
	sched := New(reg, policy.New(doc, policy.Options{}), client, llm.StubClient{}, sessions)
	_, err := sched.Run(context.Background(), sess.ID, RequestContext{
		OrchestrationPattern: PatternSimple,
		Agents:               []string{"A_restricted"},
	})
	require.Error(t, err)
	require.Equal(t, 0, transport.calls["A_restricted"])

	var orchErr *orcherr.Error
	require.True(t, errors.As(err, &orchErr))
	require.Equal(t, orcherr.Denied, orchErr.Kind)
	require.Equal(t, orcherr.DefaultDeny, orchErr.Subcode)

	events, _, derr := sessions.DequeueEvents(context.Background(), sess.ID, 0)
	require.NoError(t, derr)
	require.NotEmpty(t, events)
	require.Equal(t, session.EventError, events[len(events)-1].Type)
}

// TestAutoSelectFallbackUsesLeastLoaded verifies the registry.Select
// fallback (spec.md §4.2 strategy 1) picks the lowest-load agent when the
// planner names no valid step, rather than an arbitrary registry listing
// order.
func TestAutoSelectFallbackUsesLeastLoaded(t *testing.T) {
	reg := inmem.New(30 * time.Second)
	require.NoError(t, reg.Register(registry.AgentRecord{ID: "busy", Name: "busy", Endpoint: "http://busy", LastHeartbeat: time.Now(), Load: 8, MaxCapacity: 10}))
	require.NoError(t, reg.Register(registry.AgentRecord{ID: "idle", Name: "idle", Endpoint: "http://idle", LastHeartbeat: time.Now(), Load: 1, MaxCapacity: 10}))

	transport := newScriptedTransport()
	client := a2a.New(transport, a2a.DefaultRetryConfig(), nil, nil)
	sessions := sessioninmem.New(0)
	sess, _ := sessions.Create(context.Background(), "user1", nil)

	// A planner returning zero steps forces the auto-select fallback.
	sched := New(reg, allowAllPolicy(), client, nilStepsPlanner{}, sessions)
	result, err := sched.Run(context.Background(), sess.ID, RequestContext{Query: "anything"})
	require.NoError(t, err)
	require.Equal(t, PatternSimple, result.Pattern)
	require.Len(t, result.Results, 1)
	require.Equal(t, "idle", result.Results[0].AgentID)
}

// TestAutoSelectFallbackHonorsPinnedStrategy verifies the registry.Select
// fallback honors an explicit StrategyPinned request (spec.md §4.2
// strategy 3) instead of always defaulting to least-loaded.
func TestAutoSelectFallbackHonorsPinnedStrategy(t *testing.T) {
	reg := inmem.New(30 * time.Second)
	require.NoError(t, reg.Register(registry.AgentRecord{ID: "busy", Name: "busy", Endpoint: "http://busy", LastHeartbeat: time.Now(), Load: 0, MaxCapacity: 10}))
	require.NoError(t, reg.Register(registry.AgentRecord{ID: "pinned", Name: "pinned", Endpoint: "http://pinned", LastHeartbeat: time.Now(), Load: 9, MaxCapacity: 10}))

	transport := newScriptedTransport()
	client := a2a.New(transport, a2a.DefaultRetryConfig(), nil, nil)
	sessions := sessioninmem.New(0)
	sess, _ := sessions.Create(context.Background(), "user1", nil)

	sched := New(reg, allowAllPolicy(), client, nilStepsPlanner{}, sessions)
	result, err := sched.Run(context.Background(), sess.ID, RequestContext{
		Query:             "anything",
		SelectionStrategy: registry.StrategyPinned,
		PinnedAgents:      []string{"pinned"},
	})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	require.Equal(t, "pinned", result.Results[0].AgentID)
}

// nilStepsPlanner always returns an empty plan, forcing the scheduler's
// auto-select fallback regardless of the agent snapshot offered to it.
type nilStepsPlanner struct{}

func (nilStepsPlanner) Plan(ctx context.Context, q llm.Query) (llm.Plan, error) {
	return llm.Plan{Pattern: llm.PatternSimple}, nil
}
