// Command orchestratord runs the orchestration core: session store,
// specialized-agent registry, policy engine, tool server, agent client,
// scheduler, and the sync/SSE/WS streaming transports, over one HTTP
// listener.
//
// # Configuration
//
// Environment variables (spec.md §6; see internal/config for the full
// enumeration and defaults):
//
//	HTTP_ADDR                         - listen address (default ":8080")
//	POLICY_DOCUMENT_PATH              - local policy YAML file (optional)
//	SESSION_TTL_SECONDS                - absolute session lifetime
//	SESSION_IDLE_TIMEOUT_SECONDS       - idle session lifetime
//	SESSION_BACKEND                    - "memory" (default) or "redis"
//	REDIS_ADDR                         - redis address, when SESSION_BACKEND=redis
//	SCHEDULER_PARALLEL_MAX_IN_FLIGHT   - per-request parallel fan-out bound
//	AGENT_CLIENT_MAX_RETRIES           - agent invocation retry budget
//	MONGO_AUDIT_URI                    - optional durable policy.AuditSink backend
//
// # Example
//
//	POLICY_DOCUMENT_PATH=./policy.yaml HTTP_ADDR=:8080 go run ./cmd/orchestratord
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pyaichatbot/orchestration-core/internal/a2a"
	"github.com/pyaichatbot/orchestration-core/internal/config"
	"github.com/pyaichatbot/orchestration-core/internal/llm"
	"github.com/pyaichatbot/orchestration-core/internal/policy"
	"github.com/pyaichatbot/orchestration-core/internal/policy/mongosink"
	inmemregistry "github.com/pyaichatbot/orchestration-core/internal/registry/inmem"
	"github.com/pyaichatbot/orchestration-core/internal/scheduler"
	"github.com/pyaichatbot/orchestration-core/internal/session"
	inmemsession "github.com/pyaichatbot/orchestration-core/internal/session/inmem"
	"github.com/pyaichatbot/orchestration-core/internal/session/redisstore"
	"github.com/pyaichatbot/orchestration-core/internal/streaming"
	"github.com/pyaichatbot/orchestration-core/internal/telemetry"
	"github.com/pyaichatbot/orchestration-core/internal/toolserver"
	"github.com/pyaichatbot/orchestration-core/internal/toolserver/builtin"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := config.Load()
	log := telemetry.NewClueLogger()
	tracer := telemetry.NewClueTracer()

	policyDoc, err := loadPolicyDocument(opts)
	if err != nil {
		return fmt.Errorf("load policy document: %w", err)
	}

	auditSink, closeAuditSink, err := newAuditSink(ctx, opts, log)
	if err != nil {
		return fmt.Errorf("connect mongo audit sink: %w", err)
	}
	if closeAuditSink != nil {
		defer closeAuditSink()
	}
	policyEngine := policy.New(policyDoc, policy.Options{AuditCapacity: 4096, AuditSink: auditSink})

	reg := inmemregistry.New(opts.RegistryHeartbeatTimeout)
	sessions, err := newSessionStore(opts)
	if err != nil {
		return fmt.Errorf("construct session store: %w", err)
	}
	go sweepSessions(ctx, sessions, opts, log)

	agentClient := a2a.New(
		a2a.NewHTTPTransport(),
		a2a.RetryConfig{
			MaxAttempts:       opts.AgentClientMaxRetries,
			InitialBackoff:    opts.AgentClientBackoffBaseMS,
			MaxBackoff:        opts.AgentClientBackoffCapMS,
			BackoffMultiplier: 2.0,
			Jitter:            1.0,
		},
		log, tracer,
	)

	tools := toolserver.New(staticAuthenticator{role: policyDoc.DefaultRole}, policyEngine, log, tracer)
	tools.Register(builtin.NewEcho())
	tools.Register(builtin.NewClock())

	sched := scheduler.New(reg, policyEngine, agentClient, llm.StubClient{}, sessions,
		scheduler.WithLogger(log),
		scheduler.WithTracer(tracer),
		scheduler.WithParallelMaxInFlight(opts.SchedulerParallelMaxInFlight),
		scheduler.WithDefaultTimeout(opts.SchedulerDefaultTimeout),
	)

	streamServer := streaming.New(sessions, sched, reg, policyEngine,
		streaming.WithLogger(log),
		streaming.WithTracer(tracer),
		streaming.WithTools(tools),
	)

	httpServer := &http.Server{
		Addr:    opts.HTTPAddr,
		Handler: streamServer.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "orchestratord: listening", "addr", opts.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info(shutdownCtx, "orchestratord: shutting down")
	return httpServer.Shutdown(shutdownCtx)
}

// newSessionStore constructs the session.Store backend named by
// opts.SessionBackend (spec.md §4.1 "a shared key-value store is
// recommended for multi-instance operation").
func newSessionStore(opts config.Options) (session.Store, error) {
	switch opts.SessionBackend {
	case "", "memory":
		return inmemsession.New(opts.SessionEventQueueCapacity), nil
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		return redisstore.New(rdb, opts.SessionTTL, opts.SessionEventQueueCapacity), nil
	default:
		return nil, fmt.Errorf("unknown SESSION_BACKEND %q", opts.SessionBackend)
	}
}

// newAuditSink optionally constructs a Mongo-backed policy.AuditSink
// (spec.md §9 "Audit durability"). A nil sink and nil close func are
// returned when MONGO_AUDIT_URI is unset, leaving audit entries retained
// only by the in-memory ring buffer.
func newAuditSink(ctx context.Context, opts config.Options, log telemetry.Logger) (policy.AuditSink, func(), error) {
	if opts.MongoAuditURI == "" {
		return nil, nil, nil
	}
	client, err := mongodriver.Connect(options.Client().ApplyURI(opts.MongoAuditURI))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, nil, fmt.Errorf("ping mongo audit backend: %w", err)
	}
	collection := client.Database(opts.MongoAuditDatabase).Collection(opts.MongoAuditCollection)
	sink := mongosink.New(collection, log)
	closeFn := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			log.Warn(disconnectCtx, "orchestratord: mongo audit disconnect failed", "error", err.Error())
		}
	}
	return sink, closeFn, nil
}

func loadPolicyDocument(opts config.Options) (*policy.Document, error) {
	if opts.PolicyDocumentPath == "" {
		defaultPolicy := "allow"
		if opts.PolicyDefaultDeny {
			defaultPolicy = "deny"
		}
		return &policy.Document{DefaultPolicy: defaultPolicy}, nil
	}
	return policy.LoadDocument(opts.PolicyDocumentPath)
}

// sweepSessions runs the single background TTL/idle-timeout sweep per
// spec.md §5 ("Session store TTL sweep: a single background task per
// process; must not block readers").
func sweepSessions(ctx context.Context, sessions session.Store, opts config.Options, log telemetry.Logger) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sessions.Sweep(ctx, opts.SessionTTL, opts.SessionIdleTimeout); err != nil {
				log.Warn(ctx, "orchestratord: session sweep failed", "error", err.Error())
			}
		}
	}
}

// staticAuthenticator resolves every token to a fixed role, standing in for
// the concrete token backend spec.md §1 keeps out of scope.
type staticAuthenticator struct {
	role string
}

func (a staticAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	if a.role == "" {
		return "default", nil
	}
	return a.role, nil
}
