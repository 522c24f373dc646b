package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// HTTPTransport implements Transport as a JSON-RPC call over HTTP, grounded
// on the teacher's runtime/a2a/httpclient.Client.
type HTTPTransport struct {
	http    *http.Client
	headers http.Header
	id      atomic.Uint64
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient overrides the underlying *http.Client used for requests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.http = c }
}

// WithHeader adds a static header to all outgoing requests, e.g. a
// service-to-service bearer token.
func WithHeader(name, value string) HTTPOption {
	return func(t *HTTPTransport) {
		if t.headers == nil {
			t.headers = make(http.Header)
		}
		t.headers.Add(name, value)
	}
}

// NewHTTPTransport constructs an HTTPTransport with sane defaults.
func NewHTTPTransport(opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		http:    &http.Client{Timeout: 30 * time.Second},
		headers: make(http.Header),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      uint64 `json:"id"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      uint64          `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("a2a error %d: %s", e.Code, e.Message)
}

type rpcResult struct {
	Status InvocationStatus `json:"status"`
	Output string           `json:"output"`
	Data   map[string]any   `json:"data,omitempty"`
}

// Send implements Transport by POSTing a "tasks/invoke" JSON-RPC call to
// endpoint. Network and 5xx/429 failures are wrapped in *TransientError so
// the retry loop in retry.go treats them as retriable.
func (t *HTTPTransport) Send(ctx context.Context, endpoint string, req InvocationRequest) (InvocationResult, error) {
	rpcReq := rpcRequest{
		JSONRPC: "2.0",
		Method:  "tasks/invoke",
		ID:      t.id.Add(1),
		Params: map[string]any{
			"agent_id":       req.AgentID,
			"input":          req.Input,
			"parameters":     req.Parameters,
			"transaction_id": req.TransactionID,
			"session_id":     req.SessionID,
		},
	}
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return InvocationResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return InvocationResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range t.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.http.Do(httpReq)
	if err != nil {
		return InvocationResult{}, &TransientError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return InvocationResult{}, &TransientError{Err: fmt.Errorf("http status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return InvocationResult{}, fmt.Errorf("a2a http status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return InvocationResult{}, err
	}
	if rpcResp.Error != nil {
		return InvocationResult{}, rpcResp.Error
	}

	var result rpcResult
	if len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
			return InvocationResult{}, err
		}
	}
	return InvocationResult{Status: result.Status, Output: result.Output, Data: result.Data}, nil
}

var _ Transport = (*HTTPTransport)(nil)
