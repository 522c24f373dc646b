// Package toolserver implements the uniform, authenticated tool-call
// contract of spec.md §4.4: authenticate, policy-check, dispatch to a
// registered ToolAdapter, enforce a per-call deadline, and trace/return a
// normalized ToolResult.
package toolserver

import (
	"context"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/pyaichatbot/orchestration-core/internal/orcherr"
	"github.com/pyaichatbot/orchestration-core/internal/policy"
	"github.com/pyaichatbot/orchestration-core/internal/telemetry"
	"github.com/pyaichatbot/orchestration-core/internal/txctx"
)

// Status is the outcome of a tool call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ToolResult is the normalized response of a tool call (spec.md §4.4).
type ToolResult struct {
	Status Status `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ToolAdapter implements a named tool exposed to specialized agents. Adapters
// register at start-up with a static input schema, which tools/list
// publishes; neither the policy engine nor Call validates arguments against
// Schema().
type ToolAdapter interface {
	// Name returns the tool's stable identifier.
	Name() string
	// Schema returns the compiled JSON Schema describing Call's expected
	// arguments.
	Schema() *jsonschema.Schema
	// Call executes the tool. ctx carries the per-call deadline derived
	// from policy's max_execution_time.
	Call(ctx context.Context, arguments map[string]any) (any, error)
}

// Authenticator resolves an auth token to a role. Concrete token backends
// are an external collaborator (spec.md §1); this is the abstract seam.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (role string, err error)
}

// Server dispatches authenticated, policy-checked calls to registered
// ToolAdapters.
type Server struct {
	adapters map[string]ToolAdapter
	auth     Authenticator
	engine   *policy.Engine
	log      telemetry.Logger
	tracer   telemetry.Tracer
}

// New constructs a Server with no adapters registered.
func New(auth Authenticator, engine *policy.Engine, log telemetry.Logger, tracer telemetry.Tracer) *Server {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Server{
		adapters: make(map[string]ToolAdapter),
		auth:     auth,
		engine:   engine,
		log:      log,
		tracer:   tracer,
	}
}

// Register adds adapter to the server's dispatch table, keyed by its Name().
func (s *Server) Register(adapter ToolAdapter) {
	s.adapters[adapter.Name()] = adapter
}

// List returns the registered tools' names and schemas, backing the
// tools/list protocol method (spec.md §6).
func (s *Server) List() []ToolAdapter {
	out := make([]ToolAdapter, 0, len(s.adapters))
	for _, a := range s.adapters {
		out = append(out, a)
	}
	return out
}

// Call runs the full tool-call pipeline of spec.md §4.4.
func (s *Server) Call(ctx context.Context, toolID string, arguments map[string]any, authToken string) (ToolResult, error) {
	tx, _ := txctx.FromContext(ctx)
	ctx, span := s.tracer.Start(ctx, "toolserver.Call")
	defer span.End()

	// Step 1: authenticate.
	role := ""
	if s.auth != nil {
		r, err := s.auth.Authenticate(ctx, authToken)
		if err != nil {
			e := orcherr.New(orcherr.Unauthorized, "invalid auth token").WithTransaction(txctx.IDOrEmpty(tx)).WithCause(err)
			return ToolResult{Status: StatusError, Error: e.Error()}, e
		}
		role = r
	} else if tx != nil {
		role = tx.Role
	}

	// Step 2: policy check.
	if s.engine != nil {
		decision := s.engine.Evaluate(ctx, policy.Input{
			TransactionID: txctx.IDOrEmpty(tx),
			Role:          role,
			ResourceType:  policy.ResourceTool,
			ResourceID:    toolID,
			Operation:     "call",
			Parameters:    arguments,
		})
		if !decision.Allowed {
			e := orcherr.Deniedf(subcodeFor(decision.Reason), "tool %q denied: %s", toolID, decision.Reason).WithTransaction(txctx.IDOrEmpty(tx))
			return ToolResult{Status: StatusError, Error: e.Error()}, e
		}
		if maxExec, ok := decision.AppliedRestrictions["max_execution_time"].(time.Duration); ok && maxExec > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, maxExec)
			defer cancel()
		}
	}

	// Step 3: dispatch.
	adapter, ok := s.adapters[toolID]
	if !ok {
		e := orcherr.Newf(orcherr.ToolNotFound, "tool %q is not registered", toolID).WithTransaction(txctx.IDOrEmpty(tx))
		return ToolResult{Status: StatusError, Error: e.Error()}, e
	}

	start := time.Now()
	data, err := adapter.Call(ctx, arguments)
	latency := time.Since(start)
	s.log.Debug(ctx, "tool call completed", "tool", toolID, "latency_ms", latency.Milliseconds(), "transaction_id", txctx.IDOrEmpty(tx))

	// Step 4: timeout.
	if ctx.Err() != nil {
		e := orcherr.Newf(orcherr.ToolTimeout, "tool %q timed out", toolID).WithTransaction(txctx.IDOrEmpty(tx))
		return ToolResult{Status: StatusError, Error: e.Error()}, e
	}
	if err != nil {
		e := orcherr.Newf(orcherr.ToolFailed, "tool %q failed", toolID).WithTransaction(txctx.IDOrEmpty(tx)).WithCause(err)
		return ToolResult{Status: StatusError, Error: e.Error()}, e
	}

	return ToolResult{Status: StatusSuccess, Data: data}, nil
}

func subcodeFor(reason string) orcherr.Subcode {
	switch reason {
	case policy.ReasonExplicitDeny:
		return orcherr.ExplicitDeny
	case policy.ReasonParameterForbidden:
		return orcherr.ParameterForbidden
	case policy.ReasonRateLimited:
		return orcherr.RateLimited
	case policy.ReasonDefaultDeny:
		return orcherr.DefaultDeny
	default:
		return orcherr.DefaultDeny
	}
}
