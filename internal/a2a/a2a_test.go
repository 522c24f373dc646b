package a2a

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pyaichatbot/orchestration-core/internal/registry"
)

type fakeTransport struct {
	calls      atomic.Int32
	failTimes  int
	lastErr    error
	sendResult InvocationResult
	sendDelay  time.Duration
}

func (f *fakeTransport) Send(ctx context.Context, endpoint string, req InvocationRequest) (InvocationResult, error) {
	n := f.calls.Add(1)
	if f.sendDelay > 0 {
		select {
		case <-time.After(f.sendDelay):
		case <-ctx.Done():
			return InvocationResult{}, ctx.Err()
		}
	}
	if int(n) <= f.failTimes {
		return InvocationResult{}, &TransientError{Err: f.lastErr}
	}
	return f.sendResult, nil
}

func TestInvokeRetriesTransientFailureThenSucceeds(t *testing.T) {
	transport := &fakeTransport{failTimes: 2, sendResult: InvocationResult{Status: StatusCompleted, Output: "ok"}}
	client := New(transport, RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffMultiplier: 2, Jitter: 0}, nil, nil)

	agent := registry.AgentRecord{ID: "A1", Endpoint: "http://agent"}
	result := client.Invoke(context.Background(), agent, InvocationRequest{AgentID: "A1"}, time.Second)

	require.Equal(t, StatusCompleted, result.Status)
	require.Equal(t, 3, result.Attempts)
}

func TestInvokeReturnsTimedOutOnDeadlineExceeded(t *testing.T) {
	transport := &fakeTransport{sendDelay: 50 * time.Millisecond}
	client := New(transport, DefaultRetryConfig(), nil, nil)

	agent := registry.AgentRecord{ID: "A1", Endpoint: "http://agent"}
	result := client.Invoke(context.Background(), agent, InvocationRequest{AgentID: "A1"}, 5*time.Millisecond)

	require.Equal(t, StatusTimedOut, result.Status)
	require.Error(t, result.Err)
}

func TestInvokeReturnsCancelledOnContextCancel(t *testing.T) {
	transport := &fakeTransport{sendDelay: 50 * time.Millisecond}
	client := New(transport, DefaultRetryConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	agent := registry.AgentRecord{ID: "A1", Endpoint: "http://agent"}
	result := client.Invoke(ctx, agent, InvocationRequest{AgentID: "A1"}, 0)

	require.Equal(t, StatusCancelled, result.Status)
}

func TestInvokeFailsAfterExhaustingRetries(t *testing.T) {
	transport := &fakeTransport{failTimes: 100}
	client := New(transport, RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 2, Jitter: 0}, nil, nil)

	agent := registry.AgentRecord{ID: "A1", Endpoint: "http://agent"}
	result := client.Invoke(context.Background(), agent, InvocationRequest{AgentID: "A1"}, time.Second)

	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, 2, result.Attempts)
}
