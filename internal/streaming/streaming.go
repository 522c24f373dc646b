// Package streaming implements the three inbound transports of spec.md
// §4.7/§6 over one shared session event queue: synchronous request/response,
// server-sent events, and a bidirectional WebSocket. It also carries the
// session-lifecycle, registry-introspection, and policy-admin endpoints of
// §6 ("additional endpoints").
package streaming

import (
	"net/http"

	"github.com/pyaichatbot/orchestration-core/internal/policy"
	"github.com/pyaichatbot/orchestration-core/internal/registry"
	"github.com/pyaichatbot/orchestration-core/internal/scheduler"
	"github.com/pyaichatbot/orchestration-core/internal/session"
	"github.com/pyaichatbot/orchestration-core/internal/telemetry"
	"github.com/pyaichatbot/orchestration-core/internal/toolserver"
)

// Server wires the session store, scheduler, registry, and policy engine to
// HTTP handlers. It holds no transport-specific state of its own; each
// transport keeps whatever per-connection state it needs locally.
type Server struct {
	sessions  session.Store
	scheduler *scheduler.Scheduler
	registry  registry.Store
	policy    *policy.Engine
	tools     *toolserver.Server
	log       telemetry.Logger
	tracer    telemetry.Tracer

	authenticate func(r *http.Request) (userID, role string)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger configures the server's logger. A nil logger falls back to a
// no-op implementation.
func WithLogger(log telemetry.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithTracer configures the server's tracer. A nil tracer falls back to a
// no-op implementation.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(s *Server) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithTools attaches a toolserver.Server, exposing its adapters through
// `POST /tools` (spec.md §6's tools/list|tools/call envelope). A Server with
// no tools attached answers every `POST /tools` request with 503 and an
// "unavailable" error.
func WithTools(tools *toolserver.Server) Option {
	return func(s *Server) { s.tools = tools }
}

// WithAuthenticator sets the function used to resolve a caller's user id and
// role from an inbound request. The default authenticator returns the empty
// identity, deferring entirely to the policy engine's DefaultRole (spec.md
// §1 keeps concrete auth backends out of scope).
func WithAuthenticator(fn func(r *http.Request) (userID, role string)) Option {
	return func(s *Server) { s.authenticate = fn }
}

// New constructs a Server.
func New(sessions session.Store, sched *scheduler.Scheduler, reg registry.Store, pol *policy.Engine, opts ...Option) *Server {
	s := &Server{
		sessions:  sessions,
		scheduler: sched,
		registry:  reg,
		policy:    pol,
		log:       telemetry.NewNoopLogger(),
		tracer:    telemetry.NewNoopTracer(),
		authenticate: func(*http.Request) (string, string) { return "", "" },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the full set of routes this server exposes, ready to
// mount on an http.Server (spec.md §6).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /messages", s.handleMessages)
	mux.HandleFunc("POST /tools", s.handleTools)
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleCloseSession)

	mux.HandleFunc("GET /agents", s.handleListAgents)
	mux.HandleFunc("GET /patterns", s.handlePatterns)
	mux.HandleFunc("GET /override-options", s.handleOverrideOptions)
	mux.HandleFunc("POST /policy/reload", s.handlePolicyReload)

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
