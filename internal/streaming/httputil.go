package streaming

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pyaichatbot/orchestration-core/internal/orcherr"
	"github.com/pyaichatbot/orchestration-core/internal/session"
	"github.com/pyaichatbot/orchestration-core/internal/txctx"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as the stable envelope of spec.md §7, deriving the
// HTTP status from its Kind. The session store's sentinel errors map to the
// SessionNotFound and SessionClosed kinds.
func writeError(w http.ResponseWriter, err error, transactionID string) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		err = orcherr.New(orcherr.SessionNotFound, err.Error())
	case errors.Is(err, session.ErrSessionClosed):
		err = orcherr.New(orcherr.SessionClosed, err.Error())
	}
	env := orcherr.ToEnvelope(err, transactionID)
	writeJSON(w, statusForKind(env.Kind), env)
}

func statusForKind(kind orcherr.Kind) int {
	switch kind {
	case orcherr.SessionNotFound:
		return http.StatusNotFound
	case orcherr.InvalidRequest:
		return http.StatusBadRequest
	case orcherr.Unauthorized:
		return http.StatusUnauthorized
	case orcherr.Denied:
		return http.StatusForbidden
	case orcherr.SessionClosed, orcherr.SessionExpired:
		return http.StatusGone
	case orcherr.Overloaded:
		return http.StatusTooManyRequests
	case orcherr.TimedOut, orcherr.ToolTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func txFromContext(r *http.Request) string {
	tx, _ := txctx.FromContext(r.Context())
	return txctx.IDOrEmpty(tx)
}
