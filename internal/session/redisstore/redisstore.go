// Package redisstore provides a Redis-backed implementation of
// session.Store suitable for multi-instance deployments, per spec.md §4.1
// ("a shared key-value store is recommended for multi-instance operation")
// and the key layout of spec.md §6.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pyaichatbot/orchestration-core/internal/session"
)

const defaultEventQueueCapacity = 256

// Store is a Redis-backed implementation of session.Store. Sessions are
// stored as the key `session:{id}`; events as one JSON-encoded, capped array
// under `session:{id}:events`, matching spec.md §6's persisted-state layout.
type Store struct {
	rdb           *redis.Client
	queueCapacity int
	ttl           time.Duration
}

var _ session.Store = (*Store)(nil)

// New creates a Redis-backed Store. ttl bounds the key expiry applied to
// both the session and its event list on every write; queueCapacity bounds
// the event list length (0 selects the spec default of 256).
func New(rdb *redis.Client, ttl time.Duration, queueCapacity int) *Store {
	if queueCapacity <= 0 {
		queueCapacity = defaultEventQueueCapacity
	}
	return &Store{rdb: rdb, queueCapacity: queueCapacity, ttl: ttl}
}

type record struct {
	Session session.Session `json:"session"`
	Cursor  uint64          `json:"cursor"`
}

func sessionKey(id string) string { return fmt.Sprintf("session:%s", id) }
func eventsKey(id string) string  { return fmt.Sprintf("session:%s:events", id) }

// Create assigns a fresh session id and persists the new, idle Session.
func (s *Store) Create(ctx context.Context, userID string, metadata map[string]any) (session.Session, error) {
	now := time.Now()
	sess := session.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Status:      session.StatusIdle,
		CreatedAt:   now,
		LastTouched: now,
		Metadata:    metadata,
	}
	if err := s.put(ctx, record{Session: sess}); err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

// Get returns the session, failing with ErrSessionNotFound if absent.
func (s *Store) Get(ctx context.Context, sessionID string) (session.Session, error) {
	rec, err := s.get(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	return rec.Session, nil
}

// AppendMessage amends the log and updates LastTouched.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg session.Message) error {
	rec, err := s.get(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec.Session.Status == session.StatusClosed {
		return session.ErrSessionClosed
	}
	rec.Session.Messages = append(rec.Session.Messages, msg)
	rec.Session.LastTouched = time.Now()
	return s.put(ctx, rec)
}

// SetStatus updates the session's lifecycle status.
func (s *Store) SetStatus(ctx context.Context, sessionID string, status session.Status) error {
	rec, err := s.get(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec.Session.Status == session.StatusClosed {
		return session.ErrSessionClosed
	}
	rec.Session.Status = status
	rec.Session.LastTouched = time.Now()
	return s.put(ctx, rec)
}

// EnqueueEvent appends event to the session's capped event array, dropping
// the oldest non-terminal entries on overflow and appending a backpressure
// marker, mirroring the in-memory backend's contract.
func (s *Store) EnqueueEvent(ctx context.Context, sessionID string, event session.Event) error {
	rec, err := s.get(ctx, sessionID)
	if err != nil {
		return err
	}

	events, err := s.loadEvents(ctx, sessionID)
	if err != nil {
		return err
	}

	rec.Cursor++
	event.Cursor = rec.Cursor
	events = append(events, event)
	if len(events) > s.queueCapacity {
		events = dropOldestNonTerminal(events, s.queueCapacity, &rec.Cursor)
	}

	if err := s.saveEvents(ctx, sessionID, events); err != nil {
		return err
	}
	rec.Session.LastTouched = time.Now()
	return s.put(ctx, rec)
}

// dropOldestNonTerminal removes the oldest non-terminal events until a
// backpressure marker fits within capacity, then appends the marker.
func dropOldestNonTerminal(events []session.Event, capacity int, cursor *uint64) []session.Event {
	out := append([]session.Event{}, events...)
	dropped := false
	for len(out) >= capacity {
		i := -1
		for j, ev := range out {
			if !ev.Terminal {
				i = j
				break
			}
		}
		if i < 0 {
			break
		}
		out = append(out[:i], out[i+1:]...)
		dropped = true
	}
	if !dropped {
		return events
	}
	*cursor++
	return append(out, session.Event{Type: session.EventBackpressure, Timestamp: time.Now(), Cursor: *cursor})
}

// DequeueEvents polls the Redis-backed queue for events past sinceCursor,
// blocking with a short backoff until one arrives or ctx is canceled.
// Unlike the in-memory backend, Redis offers no native wake channel, so
// this backend trades immediacy for horizontal scalability.
func (s *Store) DequeueEvents(ctx context.Context, sessionID string, sinceCursor uint64) ([]session.Event, uint64, error) {
	const pollInterval = 50 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		events, err := s.loadEvents(ctx, sessionID)
		if err != nil {
			return nil, sinceCursor, err
		}
		var out []session.Event
		for _, ev := range events {
			if ev.Cursor > sinceCursor {
				out = append(out, ev)
			}
		}
		if len(out) > 0 {
			return out, out[len(out)-1].Cursor, nil
		}
		select {
		case <-ctx.Done():
			return nil, sinceCursor, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close transitions the session to closed and flushes a terminal event.
func (s *Store) Close(ctx context.Context, sessionID string) error {
	rec, err := s.get(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec.Session.Status == session.StatusClosed {
		return nil
	}
	events, err := s.loadEvents(ctx, sessionID)
	if err != nil {
		return err
	}
	rec.Cursor++
	closedEvt := session.NewClosedEvent()
	closedEvt.Cursor = rec.Cursor
	events = append(events, closedEvt)
	if err := s.saveEvents(ctx, sessionID, events); err != nil {
		return err
	}
	rec.Session.Status = session.StatusClosed
	rec.Session.LastTouched = time.Now()
	return s.put(ctx, rec)
}

// Sweep is a no-op for the Redis backend, following spec.md §6's
// `agent:{id}` / `rate:{...}` TTL-based expiry pattern: every write resets
// the keys' expiry to the store's ttl, so Redis drops a session once it has
// gone ttl without a write. The ttl and idleTimeout passed here are not
// applied, and no absolute lifetime from CreatedAt is enforced.
func (s *Store) Sweep(ctx context.Context, _, _ time.Duration) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	return 0, nil
}

func (s *Store) get(ctx context.Context, sessionID string) (record, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return record{}, session.ErrSessionNotFound
		}
		return record{}, fmt.Errorf("redis get session %q: %w", sessionID, err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return record{}, fmt.Errorf("decode session %q: %w", sessionID, err)
	}
	return rec, nil
}

func (s *Store) put(ctx context.Context, rec record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session %q: %w", rec.Session.ID, err)
	}
	if err := s.rdb.Set(ctx, sessionKey(rec.Session.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session %q: %w", rec.Session.ID, err)
	}
	return nil
}

func (s *Store) loadEvents(ctx context.Context, sessionID string) ([]session.Event, error) {
	raw, err := s.rdb.Get(ctx, eventsKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get events %q: %w", sessionID, err)
	}
	var events []session.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("decode events %q: %w", sessionID, err)
	}
	return events, nil
}

func (s *Store) saveEvents(ctx context.Context, sessionID string, events []session.Event) error {
	raw, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode events %q: %w", sessionID, err)
	}
	if err := s.rdb.Set(ctx, eventsKey(sessionID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set events %q: %w", sessionID, err)
	}
	return nil
}
