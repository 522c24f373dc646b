// Package a2a implements the agent client of spec.md §4.5: invoking a
// remote specialized agent with a deadline, transient-failure retry with
// backoff and jitter, and cooperative cancellation.
package a2a

import (
	"context"
	"time"

	"github.com/pyaichatbot/orchestration-core/internal/orcherr"
	"github.com/pyaichatbot/orchestration-core/internal/registry"
	"github.com/pyaichatbot/orchestration-core/internal/telemetry"
	"github.com/pyaichatbot/orchestration-core/internal/txctx"
)

// InvocationStatus is the outcome of an agent invocation.
type InvocationStatus string

const (
	StatusCompleted InvocationStatus = "completed"
	StatusFailed    InvocationStatus = "failed"
	StatusTimedOut  InvocationStatus = "timed_out"
	StatusCancelled InvocationStatus = "cancelled"
)

// InvocationRequest carries a single agent call (spec.md §3
// InvocationRequest).
type InvocationRequest struct {
	AgentID       string
	Input         string
	Parameters    map[string]any
	TransactionID string
	SessionID     string
}

// InvocationResult is the normalized outcome of Invoke (spec.md §3
// InvocationResult).
type InvocationResult struct {
	Status   InvocationStatus
	Output   string
	Data     map[string]any
	Err      error
	Attempts int
	Duration time.Duration
}

// Transport performs the actual wire call to a remote agent. Concrete
// transports (HTTP, gRPC) are an external collaborator; this is the seam
// the retry loop and deadline logic wrap.
type Transport interface {
	Send(ctx context.Context, endpoint string, req InvocationRequest) (InvocationResult, error)
}

// Client invokes remote agents, honoring deadlines and retrying transient
// failures per spec.md §4.5.
type Client struct {
	transport Transport
	retry     RetryConfig
	log       telemetry.Logger
	tracer    telemetry.Tracer
}

// New constructs a Client with the given transport and retry policy. A
// zero-value RetryConfig falls back to DefaultRetryConfig.
func New(transport Transport, retry RetryConfig, log telemetry.Logger, tracer telemetry.Tracer) *Client {
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig()
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Client{transport: transport, retry: retry, log: log, tracer: tracer}
}

// Invoke calls agent with req, enforcing deadline and retrying transient
// transport failures with exponential backoff and full jitter. Cancellation
// of ctx (including deadline expiry) always yields InvocationResult{status:
// cancelled|timed_out}, never a bare error, per spec.md §4.5 and §7.
func (c *Client) Invoke(ctx context.Context, agent registry.AgentRecord, req InvocationRequest, deadline time.Duration) InvocationResult {
	tx, _ := txctx.FromContext(ctx)
	ctx, span := c.tracer.Start(ctx, "a2a.Invoke")
	defer span.End()

	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	req.TransactionID = txctx.IDOrEmpty(tx)
	start := time.Now()
	attempts := 0
	var result InvocationResult

	err := doWithRetry(ctx, c.retry, func(ctx context.Context) error {
		attempts++
		r, err := c.transport.Send(ctx, agent.Endpoint, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})

	result.Attempts = attempts
	result.Duration = time.Since(start)

	if err != nil {
		c.log.Warn(ctx, "agent invocation failed", "agent_id", agent.ID, "transaction_id", req.TransactionID, "attempts", attempts, "error", err.Error())
		if ctx.Err() == context.DeadlineExceeded {
			result.Status = StatusTimedOut
			result.Err = orcherr.Newf(orcherr.TimedOut, "agent %q did not respond within %s", agent.ID, deadline).WithTransaction(req.TransactionID)
			return result
		}
		if ctx.Err() == context.Canceled {
			result.Status = StatusCancelled
			result.Err = orcherr.New(orcherr.TimedOut, "invocation cancelled").WithTransaction(req.TransactionID)
			return result
		}
		result.Status = StatusFailed
		result.Err = orcherr.Newf(orcherr.AgentUnreachable, "agent %q unreachable", agent.ID).WithTransaction(req.TransactionID).WithCause(err)
		return result
	}

	if result.Status == "" {
		result.Status = StatusCompleted
	}
	return result
}
