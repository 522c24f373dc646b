// Package inmem provides an in-memory implementation of registry.Store,
// grounded on registry/store/memory.go's RWMutex-guarded map shape.
package inmem

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pyaichatbot/orchestration-core/internal/registry"
)

// Store is an in-memory, concurrency-safe implementation of registry.Store.
type Store struct {
	mu               sync.RWMutex
	agents           map[string]registry.AgentRecord
	namesToID        map[string]string
	heartbeatTimeout time.Duration
	now              func() time.Time

	rrMu     sync.Mutex
	rrCursor map[string]int // per capability-set key
}

var _ registry.Store = (*Store)(nil)

// New creates an in-memory Store. heartbeatTimeout bounds how stale a
// heartbeat may be before an agent is derived unreachable.
func New(heartbeatTimeout time.Duration) *Store {
	return &Store{
		agents:           make(map[string]registry.AgentRecord),
		namesToID:        make(map[string]string),
		heartbeatTimeout: heartbeatTimeout,
		now:              time.Now,
		rrCursor:         make(map[string]int),
	}
}

// Register upserts record by id; rejects if Name is bound to a different id.
func (s *Store) Register(record registry.AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existingID, ok := s.namesToID[record.Name]; ok && existingID != record.ID {
		return registry.ErrNameTaken
	}
	if record.LastHeartbeat.IsZero() {
		record.LastHeartbeat = s.now()
	}
	if record.Capabilities == nil {
		record.Capabilities = map[string]struct{}{}
	}
	s.agents[record.ID] = record
	s.namesToID[record.Name] = record.ID
	return nil
}

// Heartbeat updates last-heartbeat and load for id.
func (s *Store) Heartbeat(id string, load int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.agents[id]
	if !ok {
		return registry.ErrNotFound
	}
	rec.LastHeartbeat = s.now()
	rec.Load = load
	s.agents[id] = rec
	return nil
}

// Deregister gracefully removes id.
func (s *Store) Deregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.agents[id]; ok {
		delete(s.namesToID, rec.Name)
		delete(s.agents, id)
	}
}

// Get returns a snapshot of the named agent.
func (s *Store) Get(id string) (registry.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.agents[id]
	if !ok {
		return registry.AgentRecord{}, registry.ErrNotFound
	}
	return rec, nil
}

// ListAll returns a snapshot of registered agents, optionally filtered.
func (s *Store) ListAll(filter registry.Filter) []registry.AgentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make([]registry.AgentRecord, 0, len(s.agents))
	for _, rec := range s.agents {
		if len(filter.Capabilities) > 0 && !rec.Eligible(filter.Capabilities) {
			continue
		}
		if filter.Status != "" && rec.Health(now, s.heartbeatTimeout) != filter.Status {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Select returns agents covering required, applying strategy. Unreachable
// agents are never returned.
func (s *Store) Select(required []string, strategy registry.Strategy, pinned []string) []registry.AgentRecord {
	s.mu.RLock()
	now := s.now()
	eligible := make([]registry.AgentRecord, 0, len(s.agents))
	for _, rec := range s.agents {
		if !rec.Eligible(required) {
			continue
		}
		health := rec.Health(now, s.heartbeatTimeout)
		if health == registry.StatusUnreachable {
			continue
		}
		eligible = append(eligible, rec)
	}
	s.mu.RUnlock()

	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	switch strategy {
	case registry.StrategyPinned:
		return s.selectPinned(eligible, pinned)
	case registry.StrategyRoundRobin:
		return s.selectRoundRobin(eligible, required)
	default:
		return selectLeastLoaded(eligible, now)
	}
}

// selectLeastLoaded picks the minimum-load agent; ties break by most-recent
// heartbeat, then by stable id order (spec.md §4.2 strategy 1). healthy
// agents are preferred over degraded.
func selectLeastLoaded(eligible []registry.AgentRecord, now time.Time) []registry.AgentRecord {
	if len(eligible) == 0 {
		return nil
	}
	healthy := filterByHealthPreference(eligible, now)
	best := healthy[0]
	for _, rec := range healthy[1:] {
		if rec.Load < best.Load {
			best = rec
			continue
		}
		if rec.Load == best.Load && rec.LastHeartbeat.After(best.LastHeartbeat) {
			best = rec
		}
	}
	return []registry.AgentRecord{best}
}

// filterByHealthPreference prefers healthy agents over degraded when any
// healthy agent exists, implementing "healthy is preferred over degraded".
func filterByHealthPreference(eligible []registry.AgentRecord, now time.Time) []registry.AgentRecord {
	var healthy []registry.AgentRecord
	for _, rec := range eligible {
		if rec.MaxCapacity <= 0 || rec.Load < rec.MaxCapacity {
			healthy = append(healthy, rec)
		}
	}
	if len(healthy) > 0 {
		return healthy
	}
	return eligible
}

// selectRoundRobin maintains a per-capability-set cursor, skipping
// non-healthy agents (spec.md §4.2 strategy 2).
func (s *Store) selectRoundRobin(eligible []registry.AgentRecord, required []string) []registry.AgentRecord {
	healthy := make([]registry.AgentRecord, 0, len(eligible))
	for _, rec := range eligible {
		if rec.MaxCapacity <= 0 || rec.Load < rec.MaxCapacity {
			healthy = append(healthy, rec)
		}
	}
	eligible = healthy
	if len(eligible) == 0 {
		return nil
	}
	key := capabilityKey(required)

	s.rrMu.Lock()
	start := s.rrCursor[key]
	s.rrCursor[key] = (start + 1) % len(eligible)
	s.rrMu.Unlock()

	idx := start % len(eligible)
	return []registry.AgentRecord{eligible[idx]}
}

// selectPinned returns the pinned agent(s) if still healthy or degraded,
// preserving pinned order (spec.md §4.2 strategy 3).
func (s *Store) selectPinned(eligible []registry.AgentRecord, pinned []string) []registry.AgentRecord {
	byID := make(map[string]registry.AgentRecord, len(eligible))
	for _, rec := range eligible {
		byID[rec.ID] = rec
	}
	out := make([]registry.AgentRecord, 0, len(pinned))
	for _, id := range pinned {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func capabilityKey(caps []string) string {
	sorted := append([]string(nil), caps...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
