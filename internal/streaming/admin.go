package streaming

import (
	"net/http"
	"time"

	"github.com/pyaichatbot/orchestration-core/internal/registry"
	"github.com/pyaichatbot/orchestration-core/internal/scheduler"
	"github.com/pyaichatbot/orchestration-core/internal/txctx"
)

type agentView struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Status       string   `json:"status"`
	Load         int      `json:"load"`
	MaxCapacity  int      `json:"max_capacity"`
}

// displayHeartbeatTimeout is used only to derive the introspection
// endpoint's display status; the registry store itself (constructed with
// its own heartbeat timeout) is the source of truth during agent selection.
const displayHeartbeatTimeout = 30 * time.Second

// handleListAgents implements `GET /agents` (spec.md §6): registered agents
// with their capabilities and derived health.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	records := s.registry.ListAll(registry.Filter{})
	now := time.Now()
	out := make([]agentView, 0, len(records))
	for _, rec := range records {
		caps := make([]string, 0, len(rec.Capabilities))
		for c := range rec.Capabilities {
			caps = append(caps, c)
		}
		out = append(out, agentView{
			ID:           rec.ID,
			Name:         rec.Name,
			Capabilities: caps,
			Status:       string(rec.Health(now, displayHeartbeatTimeout)),
			Load:         rec.Load,
			MaxCapacity:  rec.MaxCapacity,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePatterns implements `GET /patterns` (spec.md §6): the descriptive
// list of orchestration patterns a caller may request via override.
func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []scheduler.Pattern{
		scheduler.PatternSimple,
		scheduler.PatternSequential,
		scheduler.PatternParallel,
		scheduler.PatternLoop,
	})
}

type overrideOptions struct {
	Pattern       string   `json:"pattern"`
	Agents        []string `json:"agents,omitempty"`
	AgentSequence []string `json:"agent_sequence,omitempty"`
	Parallel      struct {
		FailFast      bool `json:"fail_fast"`
		TimeoutMillis int  `json:"timeout_millis"`
	} `json:"parallel"`
	Loop struct {
		MaxIterations int    `json:"max_iterations"`
		Condition     string `json:"condition"`
	} `json:"loop"`
}

// handleOverrideOptions implements `GET /override-options` (spec.md §6): a
// descriptive shape of the RequestContext override fields. `POST /messages`
// does not read these fields: its `context` object reaches the scheduler
// only as RequestContext.Parameters.
func (s *Server) handleOverrideOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, overrideOptions{Pattern: "simple | sequential | parallel | loop"})
}

// handlePolicyReload implements `POST /policy/reload` (spec.md §6): it asks
// the engine to reload from its Provider, swapping atomically when one
// yields a document. It passes no fallback document, so without a Provider
// the active document stays unchanged and the reply is still "reloaded".
func (s *Server) handlePolicyReload(w http.ResponseWriter, r *http.Request) {
	userID, role := s.authenticate(r)
	tx := txctx.New("", userID, role)
	ctx := txctx.WithContext(r.Context(), tx)

	if err := s.policy.Reload(ctx, nil); err != nil {
		writeError(w, err, tx.TransactionID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
