package streaming

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pyaichatbot/orchestration-core/internal/session"
)

// sseWriter wraps http.ResponseWriter with the SSE wire format, flushing
// after every event so clients see updates as they are enqueued rather than
// buffered by a proxy.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming: response writer does not support flushing")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

// sseFrame is the wire shape of one SSE frame's JSON data. It mirrors
// session.Event but renders the closing status-complete event as the
// literal `type=complete` spec.md §6 names for the SSE contract, rather
// than session.EventStatus with a nested "complete" phase — the internal
// Event shape stays phase-in-status (shared with the WS transport's own
// §4.7 frame-type set, which has no "complete" type), and only this
// outward-facing encoding differs.
type sseFrame struct {
	Cursor    uint64    `json:"cursor"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// wireType returns the SSE event name/JSON `type` for event, reconciling
// the terminal status-complete event to the literal "complete" the
// external SSE contract names (spec.md §6: "terminal event type=complete
// closes the stream").
func wireType(event session.Event) string {
	if event.Terminal && event.Type == session.EventStatus {
		return "complete"
	}
	return string(event.Type)
}

func (s *sseWriter) writeEvent(event session.Event) error {
	wt := wireType(event)
	data, err := json.Marshal(sseFrame{Cursor: event.Cursor, Type: wt, Payload: event.Payload, Timestamp: event.Timestamp})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", wt, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// handleStream implements the SSE transport of spec.md §4.7: events are
// emitted in order from sinceCursor (0 if the client has none yet) until a
// terminal event or client disconnect; reconnecting with the last-seen
// cursor resumes from that point within the queue's retention window.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "session_id is required"})
		return
	}
	var cursor uint64
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			cursor = n
		}
	}

	if _, err := s.sessions.Get(r.Context(), sessionID); err != nil {
		writeError(w, err, "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err, "")
		return
	}

	ctx := r.Context()
	for {
		events, next, err := s.sessions.DequeueEvents(ctx, sessionID, cursor)
		if err != nil {
			return
		}
		cursor = next
		for _, ev := range events {
			if werr := sse.writeEvent(ev); werr != nil {
				return
			}
			if ev.Terminal {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}
