// Package telemetry provides logging, tracing, and metrics abstractions for
// the orchestration core. Every externally-initiated operation (message,
// session action, registry update, policy reload) logs and traces through
// these interfaces so a transaction id attached to a context.Context flows
// uniformly into logs, spans, and metrics regardless of backend.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured, context-scoped log entries. Implementations
	// must be safe for concurrent use.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges. Tag arguments are
	// flattened key/value string pairs, e.g. "agent_id", "A1".
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts and retrieves spans for boundary instrumentation:
	// transport entry/exit, scheduler per-pattern, per-agent invocation,
	// per-tool call, per-policy evaluation.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is the subset of span behavior the core depends on.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)
