// Package txctx defines the TransactionContext carried through every
// downstream call of a single top-level request, per spec.md §3/§4.8.
package txctx

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TransactionContext correlates every operation derived from a single
// externally-initiated request: a message, a session action, a registry
// update, or a policy reload.
type TransactionContext struct {
	// TransactionID uniquely identifies the top-level request.
	TransactionID string
	// SessionID is the session this transaction operates within, if any.
	SessionID string
	// UserID is the caller's identity, if known.
	UserID string
	// Role is the caller's resolved role, used by the policy engine.
	Role string
	// StartTime records when the transaction began.
	StartTime time.Time
	// ParentID is the transaction id of the logical parent, set for
	// nested tool calls issued by a specialized agent mid-invocation.
	ParentID string
}

type contextKey int

const txKey contextKey = iota + 1

// New creates a fresh top-level TransactionContext.
func New(sessionID, userID, role string) *TransactionContext {
	return &TransactionContext{
		TransactionID: uuid.NewString(),
		SessionID:     sessionID,
		UserID:        userID,
		Role:          role,
		StartTime:     time.Now(),
	}
}

// Child derives a nested TransactionContext for a tool call issued during
// the invocation identified by tx, preserving session/user/role and
// recording tx's id as the logical parent.
func (tx *TransactionContext) Child() *TransactionContext {
	if tx == nil {
		return New("", "", "")
	}
	return &TransactionContext{
		TransactionID: uuid.NewString(),
		SessionID:     tx.SessionID,
		UserID:        tx.UserID,
		Role:          tx.Role,
		StartTime:     time.Now(),
		ParentID:      tx.TransactionID,
	}
}

// WithContext attaches tx to ctx.
func WithContext(ctx context.Context, tx *TransactionContext) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// FromContext retrieves the TransactionContext attached to ctx, if any.
func FromContext(ctx context.Context) (*TransactionContext, bool) {
	tx, ok := ctx.Value(txKey).(*TransactionContext)
	return tx, ok
}

// IDOrEmpty returns tx's transaction id, or the empty string if tx is nil —
// a convenience for logging call sites that may run before a transaction is
// established.
func IDOrEmpty(tx *TransactionContext) string {
	if tx == nil {
		return ""
	}
	return tx.TransactionID
}
