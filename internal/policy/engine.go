package policy

import (
	"context"
	"sync/atomic"
	"time"
)

// Engine evaluates invocation requests against the active Document,
// enforcing allow/deny, parameter whitelists, rate limits, and budget
// stamping, per spec.md §4.3. Reload is atomic: readers never observe a
// mix of old and new rules (spec.md §9 "hot reload" design note).
type Engine struct {
	doc      atomic.Pointer[Document]
	rates    *RateCounterRegistry
	audit    *AuditLog
	provider Provider
	now      func() time.Time
}

// Options configures Engine construction.
type Options struct {
	// Provider is an external policy source consulted on reload before
	// falling back to the supplied local document (spec.md §4.3
	// "Sources": first non-empty wins).
	Provider Provider
	// AuditCapacity bounds the in-memory audit ring buffer.
	AuditCapacity int
	// AuditSink optionally forwards every audit entry to a durable or
	// external sink.
	AuditSink AuditSink
}

// New constructs an Engine with the given initial document.
func New(initial *Document, opts Options) *Engine {
	if initial == nil {
		initial = &Document{DefaultPolicy: "deny"}
	}
	e := &Engine{
		rates:    NewRateCounterRegistry(),
		audit:    NewAuditLog(opts.AuditCapacity, opts.AuditSink),
		provider: opts.Provider,
		now:      time.Now,
	}
	// Rate windows follow the engine's clock.
	e.rates.now = func() time.Time { return e.now() }
	e.doc.Store(initial)
	return e
}

// Reload atomically swaps the active document. Sources are consulted in
// order — provider, then the supplied document — and the first non-empty
// source wins, per spec.md §4.3; when neither yields a document the active
// one is kept. In-flight evaluations continue against the version they
// started with.
func (e *Engine) Reload(ctx context.Context, fallback *Document) error {
	if e.provider != nil {
		doc, err := e.provider.Policy(ctx)
		if err == nil && doc != nil {
			e.doc.Store(doc)
			return nil
		}
		// ConfigError on reload never tears down the running system; the
		// old policy remains active (spec.md §7 ConfigError).
	}
	if fallback != nil {
		e.doc.Store(fallback)
	}
	return nil
}

// Active returns the currently active policy document snapshot.
func (e *Engine) Active() *Document {
	return e.doc.Load()
}

// RecentAudit returns a snapshot of retained audit entries.
func (e *Engine) RecentAudit() []AuditEntry {
	return e.audit.Recent()
}

// Evaluate runs the full decision pipeline of spec.md §4.3 and appends an
// AuditEntry regardless of outcome.
func (e *Engine) Evaluate(ctx context.Context, in Input) Decision {
	start := e.now()
	doc := e.doc.Load()

	decision := e.evaluate(doc, in)

	e.audit.Append(AuditEntry{
		TransactionID: in.TransactionID,
		Timestamp:     start,
		SubjectID:     in.UserID,
		Role:          in.Role,
		ResourceType:  in.ResourceType,
		ResourceID:    in.ResourceID,
		Operation:     in.Operation,
		Decision:      decision,
		Latency:       e.now().Sub(start),
	})
	return decision
}

func (e *Engine) evaluate(doc *Document, in Input) Decision {
	role := in.Role
	if role == "" {
		role = doc.DefaultRole
	}

	// Step 2: allow/deny lookup. Deny overrides allow; resource-specific
	// rules win over role defaults (spec.md §3 Policy invariant).
	rules := doc.Roles[role]
	if contains(rules.Deny, in.ResourceID) {
		return Decision{Allowed: false, Reason: ReasonExplicitDeny}
	}
	allowed := contains(rules.Allow, in.ResourceID)
	if !allowed {
		defaultDeny := doc.DefaultPolicy != "allow"
		if defaultDeny {
			return Decision{Allowed: false, Reason: ReasonDefaultDeny}
		}
	}

	restrictions := doc.Resources[in.ResourceID]

	// Step 3: parameter validation.
	if reason, ok := validateParameters(restrictions, in.Parameters); !ok {
		return Decision{Allowed: false, Reason: reason}
	}

	// Step 4: rate check against the per-resource counter only; no global
	// or per-user counter is kept.
	if restrictions.RateLimitPerHour > 0 {
		window := defaultWindow
		if !e.rates.CheckAndIncrement(ScopeResource, in.ResourceID, restrictions.RateLimitPerHour, window) {
			return Decision{Allowed: false, Reason: ReasonRateLimited}
		}
	}

	// Step 5: budget stamping.
	applied := map[string]any{}
	if restrictions.MaxExecutionTime > 0 {
		applied["max_execution_time"] = restrictions.MaxExecutionTime
	}
	if len(restrictions.AllowedParameters) > 0 {
		applied["allowed_parameters"] = restrictions.AllowedParameters
	}

	return Decision{Allowed: true, Reason: ReasonAllowed, AppliedRestrictions: applied}
}

func validateParameters(r Restrictions, params map[string]any) (string, bool) {
	for name := range params {
		if contains(r.ForbiddenParameters, name) {
			return ReasonParameterForbidden, false
		}
	}
	if len(r.AllowedParameters) == 0 {
		return "", true
	}
	for name := range params {
		if !contains(r.AllowedParameters, name) {
			return ReasonParameterForbidden, false
		}
	}
	return "", true
}

func contains(list []string, needle string) bool {
	for _, v := range list {
		if v == needle {
			return true
		}
	}
	return false
}
