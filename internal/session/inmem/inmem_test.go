package inmem

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/pyaichatbot/orchestration-core/internal/session"
)

// TestEventDeliveryIsPrefixOfEnqueueOrder verifies Invariant 1 of
// spec.md §8: event deliveries are a prefix of the enqueue sequence, with
// no reordering and no duplication.
func TestEventDeliveryIsPrefixOfEnqueueOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("dequeued events preserve enqueue order", prop.ForAll(
		func(n int) bool {
			ctx := context.Background()
			store := New(1024)
			sess, err := store.Create(ctx, "u1", nil)
			if err != nil {
				return false
			}
			for i := 0; i < n; i++ {
				if err := store.EnqueueEvent(ctx, sess.ID, session.NewMessageEvent(session.RoleAgent, "x", nil)); err != nil {
					return false
				}
			}
			if n == 0 {
				return true
			}
			got, cursor, err := store.DequeueEvents(ctx, sess.ID, 0)
			if err != nil || len(got) != n {
				return false
			}
			var last uint64
			for _, ev := range got {
				if ev.Cursor <= last {
					return false
				}
				last = ev.Cursor
			}
			return cursor == last
		},
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

// TestClosingDeliversTerminalClosedEvent verifies Invariant 2 of spec.md
// §8: closing a session eventually delivers a closed terminal event.
func TestClosingDeliversTerminalClosedEvent(t *testing.T) {
	ctx := context.Background()
	store := New(0)
	sess, err := store.Create(ctx, "u1", nil)
	require.NoError(t, err)

	require.NoError(t, store.EnqueueEvent(ctx, sess.ID, session.NewMessageEvent(session.RoleAgent, "hi", nil)))
	require.NoError(t, store.Close(ctx, sess.ID))

	events, _, err := store.DequeueEvents(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, session.EventClosed, last.Type)
	require.True(t, last.Terminal)
}

// TestBackpressureNeverDropsTerminalEvents verifies that overflow drops
// only non-terminal events, per spec.md §4.1.
func TestBackpressureNeverDropsTerminalEvents(t *testing.T) {
	ctx := context.Background()
	store := New(2)
	sess, err := store.Create(ctx, "u1", nil)
	require.NoError(t, err)

	require.NoError(t, store.EnqueueEvent(ctx, sess.ID, session.NewErrorEvent("X", "boom")))
	require.NoError(t, store.EnqueueEvent(ctx, sess.ID, session.NewMessageEvent(session.RoleAgent, "a", nil)))
	require.NoError(t, store.EnqueueEvent(ctx, sess.ID, session.NewMessageEvent(session.RoleAgent, "b", nil)))
	require.NoError(t, store.EnqueueEvent(ctx, sess.ID, session.NewMessageEvent(session.RoleAgent, "c", nil)))

	events, _, err := store.DequeueEvents(ctx, sess.ID, 0)
	require.NoError(t, err)

	var sawTerminal bool
	for _, ev := range events {
		if ev.Type == session.EventError {
			sawTerminal = true
		}
	}
	require.True(t, sawTerminal, "terminal error event must survive overflow")
}

// TestDequeueBlocksThenWakesOnEnqueue exercises the blocking contract of
// DequeueEvents with cancellation.
func TestDequeueBlocksThenWakesOnEnqueue(t *testing.T) {
	ctx := context.Background()
	store := New(0)
	sess, err := store.Create(ctx, "u1", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var got []session.Event
	go func() {
		defer wg.Done()
		events, _, derr := store.DequeueEvents(ctx, sess.ID, 0)
		require.NoError(t, derr)
		got = events
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.EnqueueEvent(ctx, sess.ID, session.NewMessageEvent(session.RoleAgent, "hello", nil)))
	wg.Wait()
	require.Len(t, got, 1)
}

func TestAppendMessageFailsOnClosedSession(t *testing.T) {
	ctx := context.Background()
	store := New(0)
	sess, err := store.Create(ctx, "u1", nil)
	require.NoError(t, err)
	require.NoError(t, store.Close(ctx, sess.ID))

	err = store.AppendMessage(ctx, sess.ID, session.NewMessage(session.RoleUser, "hi", nil))
	require.ErrorIs(t, err, session.ErrSessionClosed)
}

func TestSweepRemovesExpiredSessions(t *testing.T) {
	ctx := context.Background()
	store := New(0)
	sess, err := store.Create(ctx, "u1", nil)
	require.NoError(t, err)

	removed, err := store.Sweep(ctx, time.Millisecond, time.Hour)
	time.Sleep(2 * time.Millisecond)
	removed, err = store.Sweep(ctx, time.Millisecond, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = store.Get(ctx, sess.ID)
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}
