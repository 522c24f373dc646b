package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStubClientDefaultsToSimplePlanOverFirstAgent(t *testing.T) {
	client := StubClient{}
	plan, err := client.Plan(context.Background(), Query{
		Input:  "hello",
		Agents: []AgentSnapshot{{ID: "A1"}, {ID: "A2"}},
	})
	require.NoError(t, err)
	require.Equal(t, PatternSimple, plan.Pattern)
	require.Len(t, plan.Steps, 1)
	require.Equal(t, "A1", plan.Steps[0].AgentID)
}

func TestStubClientHonorsSequentialOverride(t *testing.T) {
	client := StubClient{}
	plan, err := client.Plan(context.Background(), Query{
		Input:   "hello",
		Pattern: PatternSequential,
		Agents:  []AgentSnapshot{{ID: "A1"}, {ID: "A2"}},
	})
	require.NoError(t, err)
	require.Equal(t, PatternSequential, plan.Pattern)
	require.Len(t, plan.Steps, 2)
}

func TestStubClientWithNoAgentsReturnsEmptyPlan(t *testing.T) {
	client := StubClient{}
	plan, err := client.Plan(context.Background(), Query{Input: "hello"})
	require.NoError(t, err)
	require.Empty(t, plan.Steps)
}
