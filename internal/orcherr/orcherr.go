// Package orcherr defines the stable, structured error taxonomy of the
// orchestration core (spec.md §7). Every component boundary returns either
// a success payload or one of these error values; none are used for
// internal control flow across goroutines.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind is a stable, top-level error identifier surfaced in envelopes, logs,
// and audit entries.
type Kind string

// Subcode further refines a Denied decision.
type Subcode string

const (
	SessionNotFound Kind = "SessionNotFound"
	SessionClosed   Kind = "SessionClosed"
	SessionExpired  Kind = "SessionExpired"
	InvalidRequest  Kind = "InvalidRequest"
	Unauthorized    Kind = "Unauthorized"
	Denied          Kind = "Denied"
	ToolNotFound    Kind = "ToolNotFound"
	ToolTimeout     Kind = "ToolTimeout"
	ToolFailed      Kind = "ToolFailed"
	AgentUnreachable Kind = "AgentUnreachable"
	AgentFailed     Kind = "AgentFailed"
	Overloaded      Kind = "Overloaded"
	TimedOut        Kind = "TimedOut"
	ConfigError     Kind = "ConfigError"
	Internal        Kind = "Internal"
)

const (
	ExplicitDeny       Subcode = "ExplicitDeny"
	ParameterForbidden Subcode = "ParameterForbidden"
	RateLimited        Subcode = "RateLimited"
	DefaultDeny        Subcode = "DefaultDeny"
	NoEligibleAgent    Subcode = "NoEligibleAgent"
)

// Error is a structured failure that preserves message and causal context
// while still implementing the standard error interface. Errors may be
// nested via Cause to retain diagnostics across retries and nested calls,
// and support errors.Is/As through Unwrap.
type Error struct {
	// Kind is the stable top-level error identifier.
	Kind Kind
	// Subcode refines Kind, set only for Denied.
	Subcode Subcode
	// Message is the human-readable summary.
	Message string
	// TransactionID correlates the error to the originating transaction.
	TransactionID string
	// Retriable flags errors the agent client may retry (spec.md §7).
	Retriable bool
	// Cause links to an underlying *Error, preserving a chain.
	Cause *Error
}

// New constructs an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	if message == "" {
		message = string(kind)
	}
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Deniedf constructs a Denied error with the given subcode.
func Deniedf(subcode Subcode, format string, args ...any) *Error {
	e := Newf(Denied, format, args...)
	e.Subcode = subcode
	return e
}

// WithCause wraps an underlying error into e's chain, converting arbitrary
// errors into *Error via FromError so metadata survives serialization while
// still supporting errors.Is/As.
func (e *Error) WithCause(cause error) *Error {
	if e == nil {
		return nil
	}
	e.Cause = FromError(cause)
	return e
}

// WithTransaction stamps the originating transaction id on e.
func (e *Error) WithTransaction(id string) *Error {
	if e == nil {
		return nil
	}
	e.TransactionID = id
	return e
}

// Retry marks e as retriable by the agent client.
func (e *Error) Retry() *Error {
	if e == nil {
		return nil
	}
	e.Retriable = true
	return e
}

// FromError converts an arbitrary error into an *Error chain. If err is
// already (or wraps) an *Error, that chain is returned unchanged.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Kind:    Internal,
		Message: err.Error(),
		Cause:   FromError(errors.Unwrap(err)),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Subcode != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Subcode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause to support errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target has the same Kind (and, if set, Subcode) as e,
// enabling errors.Is(err, orcherr.New(orcherr.Denied, "")) style checks.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	if t.Subcode != "" && t.Subcode != e.Subcode {
		return false
	}
	return true
}

// Envelope is the caller-visible error shape (spec.md §7): never raw server
// errors, always this structured field set.
type Envelope struct {
	Kind          Kind    `json:"kind"`
	Message       string  `json:"message"`
	Subcode       Subcode `json:"subcode,omitempty"`
	TransactionID string  `json:"transaction_id,omitempty"`
}

// ToEnvelope converts err into the caller-visible envelope, attaching
// transactionID when the error did not already carry one.
func ToEnvelope(err error, transactionID string) Envelope {
	e := FromError(err)
	if e == nil {
		return Envelope{Kind: Internal, Message: "unknown error", TransactionID: transactionID}
	}
	txID := e.TransactionID
	if txID == "" {
		txID = transactionID
	}
	return Envelope{Kind: e.Kind, Message: e.Message, Subcode: e.Subcode, TransactionID: txID}
}
