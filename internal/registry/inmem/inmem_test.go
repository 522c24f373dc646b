package inmem

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/pyaichatbot/orchestration-core/internal/registry"
)

func capSet(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

// TestSelectNeverReturnsStaleHeartbeat verifies Invariant 8 of spec.md §8:
// the registry never returns an agent whose heartbeat is older than
// heartbeat_timeout.
func TestSelectNeverReturnsStaleHeartbeat(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("stale agents never selected", prop.ForAll(
		func(staleSeconds int) bool {
			heartbeatTimeout := 30 * time.Second
			store := New(heartbeatTimeout)
			store.now = func() time.Time { return time.Unix(1000, 0) }

			stale := registry.AgentRecord{
				ID: "stale", Name: "stale", Capabilities: capSet("search"),
				LastHeartbeat: time.Unix(1000, 0).Add(-time.Duration(staleSeconds) * time.Second),
				MaxCapacity:   10,
			}
			require.NoError(t, store.Register(stale))

			selected := store.Select([]string{"search"}, registry.StrategyLeastLoaded, nil)
			for _, rec := range selected {
				if rec.ID == "stale" && staleSeconds > 30 {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 120),
	))

	properties.TestingRun(t)
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	store := New(30 * time.Second)
	require.NoError(t, store.Register(registry.AgentRecord{ID: "a1", Name: "search-agent"}))
	err := store.Register(registry.AgentRecord{ID: "a2", Name: "search-agent"})
	require.ErrorIs(t, err, registry.ErrNameTaken)
}

func TestSelectLeastLoadedPicksMinimum(t *testing.T) {
	store := New(30 * time.Second)
	now := time.Now()
	store.now = func() time.Time { return now }
	require.NoError(t, store.Register(registry.AgentRecord{ID: "a1", Name: "a1", Capabilities: capSet("search"), Load: 5, MaxCapacity: 10, LastHeartbeat: now}))
	require.NoError(t, store.Register(registry.AgentRecord{ID: "a2", Name: "a2", Capabilities: capSet("search"), Load: 1, MaxCapacity: 10, LastHeartbeat: now}))

	selected := store.Select([]string{"search"}, registry.StrategyLeastLoaded, nil)
	require.Len(t, selected, 1)
	require.Equal(t, "a2", selected[0].ID)
}

func TestSelectRoundRobinSkipsUnreachable(t *testing.T) {
	store := New(30 * time.Second)
	now := time.Now()
	store.now = func() time.Time { return now }
	require.NoError(t, store.Register(registry.AgentRecord{ID: "a1", Name: "a1", Capabilities: capSet("x"), LastHeartbeat: now}))
	require.NoError(t, store.Register(registry.AgentRecord{ID: "a2", Name: "a2", Capabilities: capSet("x"), LastHeartbeat: now.Add(-time.Hour)}))

	selected := store.Select([]string{"x"}, registry.StrategyRoundRobin, nil)
	require.Len(t, selected, 1)
	require.Equal(t, "a1", selected[0].ID)
}

func TestSelectPinnedRequiresHealthyOrDegraded(t *testing.T) {
	store := New(30 * time.Second)
	now := time.Now()
	store.now = func() time.Time { return now }
	require.NoError(t, store.Register(registry.AgentRecord{ID: "a1", Name: "a1", Capabilities: capSet("x"), LastHeartbeat: now}))
	require.NoError(t, store.Register(registry.AgentRecord{ID: "stale", Name: "stale", Capabilities: capSet("x"), LastHeartbeat: now.Add(-time.Hour)}))

	selected := store.Select([]string{"x"}, registry.StrategyPinned, []string{"stale", "a1"})
	require.Len(t, selected, 1)
	require.Equal(t, "a1", selected[0].ID)
}

func TestSelectReturnsEmptyWhenNoCapabilityMatch(t *testing.T) {
	store := New(30 * time.Second)
	require.NoError(t, store.Register(registry.AgentRecord{ID: "a1", Name: "a1", Capabilities: capSet("search"), LastHeartbeat: time.Now()}))

	selected := store.Select([]string{"translate"}, registry.StrategyLeastLoaded, nil)
	require.Empty(t, selected)
}
