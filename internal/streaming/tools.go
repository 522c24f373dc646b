package streaming

import (
	"encoding/json"
	"net/http"
)

// toolEnvelope is the request/response shape of the tool-server protocol
// (spec.md §6): `{ id, method: "tools/list" | "tools/call", params }` in,
// `{ id, result? | error }` out.
type toolEnvelope struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type toolEnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type toolEnvelopeResponse struct {
	ID     string             `json:"id"`
	Result any                `json:"result,omitempty"`
	Error  *toolEnvelopeError `json:"error,omitempty"`
}

type toolListEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"input_schema"`
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	AuthToken string         `json:"auth_token"`
}

// handleTools implements `POST /tools` (spec.md §6): the uniform `tools/list`
// / `tools/call` envelope over internal/toolserver.Server.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.tools == nil {
		writeJSON(w, http.StatusServiceUnavailable, toolEnvelopeResponse{
			Error: &toolEnvelopeError{Code: "unavailable", Message: "no tool server configured"},
		})
		return
	}

	var env toolEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, toolEnvelopeResponse{
			Error: &toolEnvelopeError{Code: "invalid_request", Message: "malformed envelope"},
		})
		return
	}

	switch env.Method {
	case "tools/list":
		s.handleToolsList(w, env)
	case "tools/call":
		s.handleToolsCall(w, r, env)
	default:
		writeJSON(w, http.StatusBadRequest, toolEnvelopeResponse{
			ID:    env.ID,
			Error: &toolEnvelopeError{Code: "invalid_request", Message: "unknown method " + env.Method},
		})
	}
}

func (s *Server) handleToolsList(w http.ResponseWriter, env toolEnvelope) {
	adapters := s.tools.List()
	out := make([]toolListEntry, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, toolListEntry{Name: a.Name(), InputSchema: a.Schema()})
	}
	writeJSON(w, http.StatusOK, toolEnvelopeResponse{ID: env.ID, Result: out})
}

func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, env toolEnvelope) {
	var params toolCallParams
	if err := json.Unmarshal(env.Params, &params); err != nil {
		writeJSON(w, http.StatusBadRequest, toolEnvelopeResponse{
			ID:    env.ID,
			Error: &toolEnvelopeError{Code: "invalid_request", Message: "malformed params"},
		})
		return
	}

	result, err := s.tools.Call(r.Context(), params.Name, params.Arguments, params.AuthToken)
	if err != nil {
		writeJSON(w, http.StatusOK, toolEnvelopeResponse{
			ID:    env.ID,
			Error: &toolEnvelopeError{Code: string(result.Status), Message: result.Error},
		})
		return
	}
	writeJSON(w, http.StatusOK, toolEnvelopeResponse{ID: env.ID, Result: result})
}
