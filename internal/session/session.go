// Package session implements the ephemeral, keyed session store of
// spec.md §4.1: session lifecycle, append-only message log, and a bounded,
// ordered event queue shared by all three streaming transports.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the session lifecycle state (spec.md §3 Session).
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusClosed     Status = "closed"
)

// Role distinguishes message authorship (spec.md §3 Message).
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Message is an append-only log entry. Messages are never mutated after
// emission.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage constructs a Message stamped with a fresh id and the current
// time.
func NewMessage(role Role, content string, metadata map[string]any) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// Session is an ephemeral client-scoped conversational context.
//
// Invariant: LastTouched >= CreatedAt; Closed is terminal.
type Session struct {
	ID           string
	UserID       string
	Status       Status
	CreatedAt    time.Time
	LastTouched  time.Time
	Metadata     map[string]any
	Messages     []Message
}

// EventType enumerates the stable event payload shapes of spec.md §6.
type EventType string

const (
	EventStatus       EventType = "status"
	EventMessage      EventType = "message"
	EventError        EventType = "error"
	EventClosed       EventType = "closed"
	EventBackpressure EventType = "backpressure"
)

// Phase enumerates the status event phases of spec.md §6.
type Phase string

const (
	PhasePlanning      Phase = "planning"
	PhaseDispatching   Phase = "dispatching"
	PhaseAgentStart    Phase = "agent_start"
	PhaseAgentComplete Phase = "agent_complete"
	PhaseIteration     Phase = "iteration"
	PhaseComplete      Phase = "complete"
)

// Event is a single push-delivered item in a session's event queue. Events
// are delivered in enqueue order; Terminal events end the current response
// stream and are never dropped under backpressure.
type Event struct {
	// Cursor is a monotonically increasing per-session sequence number
	// assigned on enqueue; callers use it to resume a dequeue from the
	// point they last observed.
	Cursor    uint64         `json:"cursor"`
	Type      EventType      `json:"type"`
	Terminal  bool           `json:"terminal,omitempty"`
	Payload   any            `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// StatusPayload is the payload of an EventStatus event.
type StatusPayload struct {
	Phase Phase          `json:"phase"`
	Info  map[string]any `json:"info,omitempty"`
}

// MessagePayload is the payload of an EventMessage event.
type MessagePayload struct {
	Role     Role           `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ErrorPayload is the payload of an EventError event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewStatusEvent builds a (non-terminal, unless phase is PhaseComplete)
// status event.
func NewStatusEvent(phase Phase, info map[string]any) Event {
	return Event{
		Type:      EventStatus,
		Terminal:  phase == PhaseComplete,
		Payload:   StatusPayload{Phase: phase, Info: info},
		Timestamp: time.Now(),
	}
}

// NewMessageEvent builds a non-terminal message event.
func NewMessageEvent(role Role, content string, metadata map[string]any) Event {
	return Event{
		Type:      EventMessage,
		Payload:   MessagePayload{Role: role, Content: content, Metadata: metadata},
		Timestamp: time.Now(),
	}
}

// NewErrorEvent builds a terminal error event.
func NewErrorEvent(code, message string) Event {
	return Event{
		Type:      EventError,
		Terminal:  true,
		Payload:   ErrorPayload{Code: code, Message: message},
		Timestamp: time.Now(),
	}
}

// NewClosedEvent builds the terminal event flushed when a session closes.
func NewClosedEvent() Event {
	return Event{Type: EventClosed, Terminal: true, Timestamp: time.Now()}
}

// Errors returned by Store implementations, stable across backends.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
)

// Store maintains sessions with absolute TTL and idle timeout, plus a
// bounded, ordered per-session event queue. Implementations must support
// atomic updates; enqueue is not single-writer (the scheduler, streaming
// layer, and cancellation paths may all enqueue concurrently) so ordering
// must be preserved under concurrent enqueue.
type Store interface {
	// Create assigns a fresh session id and returns the new, idle Session.
	Create(ctx context.Context, userID string, metadata map[string]any) (Session, error)
	// Get returns the session, failing with ErrSessionNotFound if absent.
	// An expired session is absent only once it has been removed (by Sweep
	// or, for Redis, by key expiry); Get itself does not check expiry.
	Get(ctx context.Context, sessionID string) (Session, error)
	// AppendMessage amends the log and updates LastTouched. Fails with
	// ErrSessionClosed if the session is closed.
	AppendMessage(ctx context.Context, sessionID string, msg Message) error
	// EnqueueEvent pushes event onto the session's bounded queue. On
	// overflow, the oldest non-terminal events are dropped and a
	// backpressure event is appended at the tail; terminal events are
	// never dropped.
	EnqueueEvent(ctx context.Context, sessionID string, event Event) error
	// DequeueEvents blocks until at least one event with cursor >
	// sinceCursor is available or ctx is canceled, returning the events in
	// order and the new cursor to resume from. A closed session's last
	// event is its closed event; a reader already past it waits until ctx
	// is canceled.
	DequeueEvents(ctx context.Context, sessionID string, sinceCursor uint64) ([]Event, uint64, error)
	// Close transitions the session to closed and flushes a terminal
	// closed event. It does not delete the session; removal is left to
	// Sweep (or, for Redis, key expiry).
	Close(ctx context.Context, sessionID string) error
	// SetStatus updates the session's lifecycle status (e.g. processing
	// while the scheduler runs a request).
	SetStatus(ctx context.Context, sessionID string, status Status) error
	// Sweep removes sessions whose absolute TTL has been exceeded or that
	// have been idle past the idle timeout. Implementations call this
	// periodically from a single background task per process.
	Sweep(ctx context.Context, ttl, idleTimeout time.Duration) (removed int, err error)
}
