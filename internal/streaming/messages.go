package streaming

import (
	"encoding/json"
	"net/http"

	"github.com/pyaichatbot/orchestration-core/internal/scheduler"
	"github.com/pyaichatbot/orchestration-core/internal/session"
	"github.com/pyaichatbot/orchestration-core/internal/txctx"
)

// messagesRequest is the POST /messages body (spec.md §6).
type messagesRequest struct {
	SessionID string         `json:"session_id"`
	Content   string         `json:"content"`
	Context   map[string]any `json:"context,omitempty"`
}

// messagesResponse is the aggregated response: the OrchestrationResult plus
// the request's transaction id. The appended message's metadata is not
// included.
type messagesResponse struct {
	Result        scheduler.OrchestrationResult `json:"result"`
	TransactionID string                        `json:"transaction_id"`
}

// handleMessages implements the synchronous transport of spec.md §4.7: it
// blocks until the scheduler's terminal event and returns one aggregated
// response, used by clients that do not want to hold a stream open.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req messagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}

	userID, role := s.authenticate(r)
	tx := txctx.New(req.SessionID, userID, role)
	ctx := txctx.WithContext(r.Context(), tx)

	if _, err := s.sessions.Get(ctx, req.SessionID); err != nil {
		writeError(w, err, tx.TransactionID)
		return
	}

	_ = s.sessions.AppendMessage(ctx, req.SessionID, session.NewMessage(session.RoleUser, req.Content, nil))
	_ = s.sessions.SetStatus(ctx, req.SessionID, session.StatusProcessing)

	result, err := s.scheduler.Run(ctx, req.SessionID, scheduler.RequestContext{
		Query:      req.Content,
		Parameters: req.Context,
	})
	_ = s.sessions.SetStatus(ctx, req.SessionID, session.StatusIdle)
	if err != nil {
		writeError(w, err, tx.TransactionID)
		return
	}

	writeJSON(w, http.StatusOK, messagesResponse{Result: result, TransactionID: tx.TransactionID})
}
