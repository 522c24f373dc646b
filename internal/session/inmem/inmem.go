// Package inmem provides an in-memory implementation of session.Store.
// Sufficient for single-instance operation; safe for concurrent use.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pyaichatbot/orchestration-core/internal/session"
)

const defaultEventQueueCapacity = 256

// Store is an in-memory implementation of session.Store, grounded on the
// registry's in-memory store (RWMutex-guarded map, compile-time interface
// assertion).
type Store struct {
	mu             sync.Mutex
	sessions       map[string]*entry
	queueCapacity  int
}

var _ session.Store = (*Store)(nil)

type entry struct {
	sess   session.Session
	events []session.Event
	cursor uint64
	// waiters are closed to wake blocked DequeueEvents calls when new
	// events are enqueued or the session closes.
	waiters []chan struct{}
}

// New creates an in-memory Store. queueCapacity bounds each session's event
// queue; 0 selects the spec default of 256.
func New(queueCapacity int) *Store {
	if queueCapacity <= 0 {
		queueCapacity = defaultEventQueueCapacity
	}
	return &Store{
		sessions:      make(map[string]*entry),
		queueCapacity: queueCapacity,
	}
}

// Create assigns a fresh session id and returns the new, idle Session.
func (s *Store) Create(ctx context.Context, userID string, metadata map[string]any) (session.Session, error) {
	select {
	case <-ctx.Done():
		return session.Session{}, ctx.Err()
	default:
	}
	now := time.Now()
	sess := session.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Status:      session.StatusIdle,
		CreatedAt:   now,
		LastTouched: now,
		Metadata:    metadata,
	}
	s.mu.Lock()
	s.sessions[sess.ID] = &entry{sess: sess}
	s.mu.Unlock()
	return sess, nil
}

// Get returns the session, failing if absent.
func (s *Store) Get(ctx context.Context, sessionID string) (session.Session, error) {
	select {
	case <-ctx.Done():
		return session.Session{}, ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return session.Session{}, session.ErrSessionNotFound
	}
	return e.sess, nil
}

// AppendMessage amends the log and updates LastTouched.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg session.Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return session.ErrSessionNotFound
	}
	if e.sess.Status == session.StatusClosed {
		return session.ErrSessionClosed
	}
	e.sess.Messages = append(e.sess.Messages, msg)
	e.sess.LastTouched = time.Now()
	return nil
}

// SetStatus updates the session's lifecycle status.
func (s *Store) SetStatus(ctx context.Context, sessionID string, status session.Status) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return session.ErrSessionNotFound
	}
	if e.sess.Status == session.StatusClosed {
		return session.ErrSessionClosed
	}
	e.sess.Status = status
	e.sess.LastTouched = time.Now()
	return nil
}

// EnqueueEvent pushes event onto the session's bounded queue, dropping the
// oldest non-terminal event and enqueuing a backpressure event on overflow.
// Terminal events are never dropped. Safe to call concurrently with other
// enqueuers (scheduler, streaming layer, cancellation paths).
func (s *Store) EnqueueEvent(ctx context.Context, sessionID string, event session.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return session.ErrSessionNotFound
	}
	e.cursor++
	event.Cursor = e.cursor
	e.events = append(e.events, event)
	if len(e.events) > s.queueCapacity {
		e.dropOldestNonTerminal(s.queueCapacity)
	}
	e.sess.LastTouched = time.Now()
	waiters := e.waiters
	e.waiters = nil
	s.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	return nil
}

// dropOldestNonTerminal removes the oldest non-terminal events until a
// backpressure marker fits within capacity, then appends the marker,
// preserving delivery order for the remaining events. Caller must hold the
// store mutex.
func (e *entry) dropOldestNonTerminal(capacity int) {
	dropped := false
	for len(e.events) >= capacity {
		i := -1
		for j, ev := range e.events {
			if !ev.Terminal {
				i = j
				break
			}
		}
		if i < 0 {
			// Every queued event is terminal (should not happen in practice
			// since terminal events close the stream); drop nothing further.
			break
		}
		e.events = append(e.events[:i], e.events[i+1:]...)
		dropped = true
	}
	if dropped {
		e.cursor++
		e.events = append(e.events, newBackpressureAt(e.cursor))
	}
}

func newBackpressureAt(cursor uint64) session.Event {
	ev := session.Event{Type: session.EventBackpressure, Timestamp: time.Now()}
	ev.Cursor = cursor
	return ev
}

// DequeueEvents blocks until an event with cursor > sinceCursor is
// available or ctx is canceled. It fails with ErrSessionNotFound when the
// session is absent at a check; a sweep does not wake a blocked call.
func (s *Store) DequeueEvents(ctx context.Context, sessionID string, sinceCursor uint64) ([]session.Event, uint64, error) {
	for {
		s.mu.Lock()
		e, ok := s.sessions[sessionID]
		if !ok {
			s.mu.Unlock()
			return nil, sinceCursor, session.ErrSessionNotFound
		}
		var out []session.Event
		for _, ev := range e.events {
			if ev.Cursor > sinceCursor {
				out = append(out, ev)
			}
		}
		if len(out) > 0 {
			newCursor := out[len(out)-1].Cursor
			s.mu.Unlock()
			return out, newCursor, nil
		}
		wait := make(chan struct{})
		e.waiters = append(e.waiters, wait)
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, sinceCursor, ctx.Err()
		case <-wait:
		}
	}
}

// Close transitions the session to closed and flushes a terminal event.
func (s *Store) Close(ctx context.Context, sessionID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	closedEvt := session.NewClosedEvent()
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return session.ErrSessionNotFound
	}
	if e.sess.Status != session.StatusClosed {
		e.sess.Status = session.StatusClosed
		now := time.Now()
		e.sess.LastTouched = now
		e.cursor++
		closedEvt.Cursor = e.cursor
		e.events = append(e.events, closedEvt)
	}
	waiters := e.waiters
	e.waiters = nil
	s.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	return nil
}

// Sweep removes sessions past their absolute TTL or idle timeout. Intended
// to be invoked periodically by a single background task per process
// (spec.md §4.1 "expiry sweep").
func (s *Store) Sweep(ctx context.Context, ttl, idleTimeout time.Duration) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	now := time.Now()
	removed := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.sessions {
		expired := ttl > 0 && now.Sub(e.sess.CreatedAt) > ttl
		idle := idleTimeout > 0 && now.Sub(e.sess.LastTouched) > idleTimeout
		if expired || idle {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}
