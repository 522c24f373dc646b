package streaming

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pyaichatbot/orchestration-core/internal/scheduler"
	"github.com/pyaichatbot/orchestration-core/internal/session"
	"github.com/pyaichatbot/orchestration-core/internal/txctx"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const (
	wsPongWait   = 45 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// wsFrame is the bidirectional socket's framed message shape of spec.md
// §4.7: client frames carry Type in {message, ping, get_history, close};
// server frames carry Type in {connected, status, message, history, error,
// pong}.
type wsFrame struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	Payload   any            `json:"payload,omitempty"`
	Messages  []session.Message `json:"messages,omitempty"`
}

// handleWebSocket implements the bidirectional transport of spec.md §4.7.
// One connection serves one session: a reader goroutine consumes client
// frames, a writer goroutine relays the session's event queue plus ping
// frames; either side closing ends the connection without closing the
// session itself.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "session_id is required"})
		return
	}
	if _, err := s.sessions.Get(r.Context(), sessionID); err != nil {
		writeError(w, err, "")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "streaming: websocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	send := func(frame wsFrame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(frame)
	}

	_ = send(wsFrame{Type: "connected", SessionID: sessionID})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		s.wsRelayEvents(ctx, sessionID, send)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		s.wsReadLoop(ctx, conn, sessionID, send)
	}()
	wg.Wait()
}

// wsRelayEvents forwards the session's event queue onto the connection as
// status/message/error frames. Unlike the SSE transport, a per-turn
// terminal event (complete, error) does not end the connection — only an
// explicit close (EventClosed), ctx cancellation, or a write failure does,
// since one socket serves the whole session across many messages (spec.md
// §4.7 "a transport disconnect does not close the session").
func (s *Server) wsRelayEvents(ctx context.Context, sessionID string, send func(wsFrame) error) {
	var cursor uint64
	for {
		events, next, err := s.sessions.DequeueEvents(ctx, sessionID, cursor)
		if err != nil {
			return
		}
		cursor = next
		for _, ev := range events {
			frame := wsFrame{Type: string(ev.Type), SessionID: sessionID, Payload: ev.Payload}
			if err := send(frame); err != nil {
				return
			}
			if ev.Type == session.EventClosed {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// wsReadLoop handles client-originated frames: message submission, ping,
// history replay, and explicit close (spec.md §4.7).
func (s *Server) wsReadLoop(ctx context.Context, conn *websocket.Conn, sessionID string, send func(wsFrame) error) {
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	go wsPingLoop(ctx, conn)

	for {
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			return
		}
		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			_ = send(wsFrame{Type: "error", Payload: map[string]string{"message": "malformed frame"}})
			continue
		}

		switch frame.Type {
		case "ping":
			_ = send(wsFrame{Type: "pong"})

		case "get_history":
			sess, err := s.sessions.Get(ctx, sessionID)
			if err != nil {
				_ = send(wsFrame{Type: "error", Payload: map[string]string{"message": err.Error()}})
				continue
			}
			_ = send(wsFrame{Type: "history", SessionID: sessionID, Messages: sess.Messages})

		case "close":
			_ = s.sessions.Close(ctx, sessionID)
			return

		case "message":
			s.wsHandleMessage(ctx, sessionID, frame.Content, send)

		default:
			_ = send(wsFrame{Type: "error", Payload: map[string]string{"message": "unknown frame type"}})
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Server) wsHandleMessage(ctx context.Context, sessionID, content string, send func(wsFrame) error) {
	tx := txctx.New(sessionID, "", "")
	runCtx := txctx.WithContext(ctx, tx)

	_ = s.sessions.AppendMessage(runCtx, sessionID, session.NewMessage(session.RoleUser, content, nil))
	_ = s.sessions.SetStatus(runCtx, sessionID, session.StatusProcessing)

	_, err := s.scheduler.Run(runCtx, sessionID, scheduler.RequestContext{Query: content})
	_ = s.sessions.SetStatus(runCtx, sessionID, session.StatusIdle)
	if err != nil {
		_ = send(wsFrame{Type: "error", Payload: map[string]string{"message": err.Error()}})
	}
}

func wsPingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
