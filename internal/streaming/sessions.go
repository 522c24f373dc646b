package streaming

import (
	"encoding/json"
	"net/http"

	"github.com/pyaichatbot/orchestration-core/internal/session"
	"github.com/pyaichatbot/orchestration-core/internal/txctx"
)

type createSessionRequest struct {
	Metadata map[string]any `json:"metadata,omitempty"`
}

type sessionView struct {
	ID          string         `json:"id"`
	Status      session.Status `json:"status"`
	CreatedAt   string         `json:"created_at"`
	LastTouched string         `json:"last_touched"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Messages    []session.Message `json:"messages,omitempty"`
}

func toSessionView(sess session.Session) sessionView {
	return sessionView{
		ID:          sess.ID,
		Status:      sess.Status,
		CreatedAt:   sess.CreatedAt.Format(timeLayout),
		LastTouched: sess.LastTouched.Format(timeLayout),
		Metadata:    sess.Metadata,
		Messages:    sess.Messages,
	}
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID, role := s.authenticate(r)
	tx := txctx.New("", userID, role)
	ctx := txctx.WithContext(r.Context(), tx)

	var req createSessionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	sess, err := s.sessions.Create(ctx, userID, req.Metadata)
	if err != nil {
		writeError(w, err, tx.TransactionID)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionView(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	userID, role := s.authenticate(r)
	tx := txctx.New(id, userID, role)
	ctx := txctx.WithContext(r.Context(), tx)

	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		writeError(w, err, tx.TransactionID)
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(sess))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	userID, role := s.authenticate(r)
	tx := txctx.New(id, userID, role)
	ctx := txctx.WithContext(r.Context(), tx)

	if err := s.sessions.Close(ctx, id); err != nil {
		writeError(w, err, tx.TransactionID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
