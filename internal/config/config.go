// Package config loads the orchestration core's recognized configuration
// options (spec.md §6) from the environment, with typed defaults, in the
// style of the teacher's registry/cmd/registry/main.go env helpers.
package config

import (
	"os"
	"strconv"
	"time"
)

// Options holds every configuration knob enumerated in spec.md §6.
type Options struct {
	SessionTTL               time.Duration
	SessionIdleTimeout        time.Duration
	SessionEventQueueCapacity int

	SchedulerParallelMaxInFlight int
	SchedulerProcessMaxInFlight  int
	SchedulerDefaultTimeout      time.Duration

	AgentClientMaxRetries    int
	AgentClientBackoffBaseMS time.Duration
	AgentClientBackoffCapMS  time.Duration

	RegistryHeartbeatTimeout time.Duration

	PolicyDefaultDeny      bool
	PolicyReloadOnSignal   bool
	// PolicyDocumentPath, if set, is loaded as the initial local policy
	// document (spec.md §4.3 "a local document" source); empty selects an
	// all-default document governed by PolicyDefaultDeny.
	PolicyDocumentPath string

	// QueueOverflow is the backpressure rejection threshold (spec.md §5).
	QueueOverflow int

	// SessionBackend selects the session.Store implementation: "memory"
	// (default, single-instance) or "redis" (spec.md §4.1 "a shared
	// key-value store is recommended for multi-instance operation").
	SessionBackend string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	// MongoAuditURI, if set, enables a MongoDB-backed policy.AuditSink
	// (spec.md §9 "Audit durability") alongside the in-memory ring buffer.
	MongoAuditURI        string
	MongoAuditDatabase   string
	MongoAuditCollection string

	HTTPAddr string
}

// Load reads Options from the environment, falling back to spec-mandated
// defaults for any variable that is unset or unparsable.
func Load() Options {
	return Options{
		SessionTTL:                envDurationOr("SESSION_TTL_SECONDS", 3600*time.Second),
		SessionIdleTimeout:         envDurationOr("SESSION_IDLE_TIMEOUT_SECONDS", 1800*time.Second),
		SessionEventQueueCapacity:  envIntOr("SESSION_EVENT_QUEUE_CAPACITY", 256),
		SchedulerParallelMaxInFlight: envIntOr("SCHEDULER_PARALLEL_MAX_IN_FLIGHT", 16),
		SchedulerProcessMaxInFlight:  envIntOr("SCHEDULER_PROCESS_MAX_IN_FLIGHT", 256),
		SchedulerDefaultTimeout:      envDurationOr("SCHEDULER_DEFAULT_TIMEOUT_SECONDS", 60*time.Second),
		AgentClientMaxRetries:        envIntOr("AGENT_CLIENT_MAX_RETRIES", 3),
		AgentClientBackoffBaseMS:     envDurationMSOr("AGENT_CLIENT_BACKOFF_BASE_MS", 250*time.Millisecond),
		AgentClientBackoffCapMS:      envDurationMSOr("AGENT_CLIENT_BACKOFF_CAP_MS", 4000*time.Millisecond),
		RegistryHeartbeatTimeout:     envDurationOr("REGISTRY_HEARTBEAT_TIMEOUT_SECONDS", 30*time.Second),
		PolicyDefaultDeny:            envBoolOr("POLICY_DEFAULT_DENY", true),
		PolicyReloadOnSignal:         envBoolOr("POLICY_RELOAD_ON_SIGNAL", true),
		PolicyDocumentPath:           envOr("POLICY_DOCUMENT_PATH", ""),
		QueueOverflow:                envIntOr("SCHEDULER_QUEUE_OVERFLOW", 1024),
		SessionBackend:               envOr("SESSION_BACKEND", "memory"),
		RedisAddr:                    envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:                envOr("REDIS_PASSWORD", ""),
		RedisDB:                      envIntOr("REDIS_DB", 0),
		MongoAuditURI:                envOr("MONGO_AUDIT_URI", ""),
		MongoAuditDatabase:           envOr("MONGO_AUDIT_DATABASE", "orchestration_core"),
		MongoAuditCollection:         envOr("MONGO_AUDIT_COLLECTION", "policy_audit"),
		HTTPAddr:                     envOr("HTTP_ADDR", ":8080"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// envDurationOr reads key as whole seconds.
func envDurationOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Second
}

// envDurationMSOr reads key as whole milliseconds.
func envDurationMSOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
