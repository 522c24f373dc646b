// Package policy implements the allow/deny, parameter-whitelist, and
// rate-limit evaluation pipeline of spec.md §4.3, with audit recording and
// atomic hot reload.
package policy

import (
	"context"
	"time"
)

// ResourceType identifies the kind of target of a policy evaluation.
type ResourceType string

const (
	ResourceAgent ResourceType = "agent"
	ResourceTool  ResourceType = "tool"
)

// Restrictions are the per-resource rules of spec.md §3 Policy.
type Restrictions struct {
	MaxExecutionTime     time.Duration     `yaml:"max_execution_time"`
	AllowedParameters    []string          `yaml:"allowed_parameters"`
	ForbiddenParameters  []string          `yaml:"forbidden_parameters"`
	RateLimitPerHour     int               `yaml:"rate_limit_per_hour"`
}

// RoleRules are the per-role allow/deny lists over agent/tool ids.
type RoleRules struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// Document is the full policy configuration, loaded at start-up and on
// hot-reload (spec.md §3 Policy).
type Document struct {
	// Roles maps role name to its allow/deny lists.
	Roles map[string]RoleRules `yaml:"roles"`
	// Resources maps resource id (agent or tool id) to its restrictions.
	Resources map[string]Restrictions `yaml:"resources"`
	// DefaultPolicy is applied when a resource is in neither list.
	// "deny" or "allow"; spec.md default is deny.
	DefaultPolicy string `yaml:"default_policy"`
	// DefaultRole is used when the TransactionContext carries no role.
	DefaultRole string `yaml:"default_role"`
}

// Decision is the verdict and applied restrictions of one evaluation
// (spec.md §3 PolicyDecision).
type Decision struct {
	Allowed             bool
	Reason              string
	AppliedRestrictions map[string]any
}

// Reason strings, drawn from a finite enumeration per spec.md §7.
const (
	ReasonAllowed            = "Allowed"
	ReasonExplicitDeny       = "ExplicitDeny"
	ReasonParameterForbidden = "ParameterForbidden"
	ReasonRateLimited        = "RateLimited"
	ReasonDefaultDeny        = "DefaultDeny"
)

// Input is the evaluate() request (spec.md §4.3).
type Input struct {
	TransactionID string
	Role          string
	ResourceType  ResourceType
	ResourceID    string
	Operation     string
	Parameters    map[string]any
	UserID        string
}

// AuditEntry records one evaluation (spec.md §3 AuditEntry).
type AuditEntry struct {
	TransactionID string
	Timestamp     time.Time
	SubjectID     string
	Role          string
	ResourceType  ResourceType
	ResourceID    string
	Operation     string
	Decision      Decision
	Latency       time.Duration
}

// AuditSink receives audit entries. A nil sink is acceptable; entries are
// then only retained by the in-memory ring buffer (Engine.RecentAudit).
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}

// Provider is an external policy source, consulted before the local
// document (spec.md §4.3 "Sources").
type Provider interface {
	Policy(ctx context.Context) (*Document, error)
}
