package streaming

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pyaichatbot/orchestration-core/internal/a2a"
	"github.com/pyaichatbot/orchestration-core/internal/llm"
	"github.com/pyaichatbot/orchestration-core/internal/policy"
	"github.com/pyaichatbot/orchestration-core/internal/registry"
	"github.com/pyaichatbot/orchestration-core/internal/registry/inmem"
	"github.com/pyaichatbot/orchestration-core/internal/scheduler"
	sessioninmem "github.com/pyaichatbot/orchestration-core/internal/session/inmem"
	"github.com/pyaichatbot/orchestration-core/internal/toolserver"
	"github.com/pyaichatbot/orchestration-core/internal/toolserver/builtin"
)

type allowAllAuth struct{}

func (allowAllAuth) Authenticate(ctx context.Context, token string) (string, error) { return "user", nil }

type echoTransport struct{}

func (echoTransport) Send(ctx context.Context, endpoint string, req a2a.InvocationRequest) (a2a.InvocationResult, error) {
	return a2a.InvocationResult{Status: a2a.StatusCompleted, Output: "ok"}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := inmem.New(30 * time.Second)
	require.NoError(t, reg.Register(registry.AgentRecord{ID: "A1", Name: "A1", Endpoint: "http://a1", LastHeartbeat: time.Now()}))

	client := a2a.New(echoTransport{}, a2a.DefaultRetryConfig(), nil, nil)
	pol := policy.New(&policy.Document{DefaultPolicy: "allow"}, policy.Options{})
	sessions := sessioninmem.New(0)
	sched := scheduler.New(reg, pol, client, llm.StubClient{}, sessions)

	tools := toolserver.New(allowAllAuth{}, pol, nil, nil)
	tools.Register(builtin.NewEcho())

	return New(sessions, sched, reg, pol, WithTools(tools))
}

func TestCreateAndGetSession(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created sessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	getReq := httptest.NewRequest(http.MethodGet, "/sessions/"+created.ID, nil)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
}

func TestMessagesEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	createRec := httptest.NewRecorder()
	handler.ServeHTTP(createRec, httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString(`{}`)))
	var created sessionView
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	body, _ := json.Marshal(messagesRequest{SessionID: created.ID, Content: "hello"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp messagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Result.Results, 1)
	require.Equal(t, scheduler.StatusSuccess, resp.Result.Results[0].Status)
}

func TestMessagesUnknownSessionReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	body, _ := json.Marshal(messagesRequest{SessionID: "missing", Content: "hello"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(body)))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAgentsAndPatterns(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agents", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var agents []agentView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	require.Len(t, agents, 1)

	patternsRec := httptest.NewRecorder()
	handler.ServeHTTP(patternsRec, httptest.NewRequest(http.MethodGet, "/patterns", nil))
	require.Equal(t, http.StatusOK, patternsRec.Code)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestToolsListAndCall(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	listBody, _ := json.Marshal(toolEnvelope{ID: "1", Method: "tools/list"})
	listRec := httptest.NewRecorder()
	handler.ServeHTTP(listRec, httptest.NewRequest(http.MethodPost, "/tools", bytes.NewReader(listBody)))
	require.Equal(t, http.StatusOK, listRec.Code)

	var listResp toolEnvelopeResponse
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listResp))
	require.Nil(t, listResp.Error)

	params, _ := json.Marshal(toolCallParams{Name: "echo", Arguments: map[string]any{"message": "hi"}})
	callBody, _ := json.Marshal(toolEnvelope{ID: "2", Method: "tools/call", Params: params})
	callRec := httptest.NewRecorder()
	handler.ServeHTTP(callRec, httptest.NewRequest(http.MethodPost, "/tools", bytes.NewReader(callBody)))
	require.Equal(t, http.StatusOK, callRec.Code)

	var callResp toolEnvelopeResponse
	require.NoError(t, json.Unmarshal(callRec.Body.Bytes(), &callResp))
	require.Nil(t, callResp.Error)
	require.NotNil(t, callResp.Result)
}

// TestStreamTerminalEventIsTypeComplete verifies the SSE transport closes
// with the literal `type=complete` the external wire contract names
// (spec.md §6 "terminal event type=complete closes the stream"), even
// though the event is internally a session.EventStatus carrying
// phase=complete.
func TestStreamTerminalEventIsTypeComplete(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	createRec := httptest.NewRecorder()
	handler.ServeHTTP(createRec, httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString(`{}`)))
	var created sessionView
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	body, _ := json.Marshal(messagesRequest{SessionID: created.ID, Content: "hello"})
	msgRec := httptest.NewRecorder()
	handler.ServeHTTP(msgRec, httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, msgRec.Code)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream?session_id="+created.ID, nil))

	out := rec.Body.String()
	require.Contains(t, out, "event: status\n", "intermediate planning/dispatching frames still use the status type")
	require.Contains(t, out, "event: complete\n", "the terminal frame must use the literal complete type")
	require.Contains(t, out, `"type":"complete"`)
	require.True(t, strings.HasSuffix(strings.TrimRight(out, "\n"), "}"), "stream ends at the terminal frame")
}

func TestToolsCallUnknownMethod(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	body, _ := json.Marshal(toolEnvelope{ID: "1", Method: "tools/unknown"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tools", bytes.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
