package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEchoReturnsArgumentsUnchanged(t *testing.T) {
	e := NewEcho()
	args := map[string]any{"message": "hi"}

	out, err := e.Call(context.Background(), args)
	require.NoError(t, err)
	require.Equal(t, args, out)
	require.Equal(t, "echo", e.Name())
}

func TestClockFormatsWithDefaultLayout(t *testing.T) {
	fixed := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	c := &Clock{schema: NewClock().schema, now: func() time.Time { return fixed }}

	out, err := c.Call(context.Background(), map[string]any{})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"now": fixed.Format(time.RFC3339)}, out)
}

func TestClockHonorsRequestedLayout(t *testing.T) {
	fixed := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	c := &Clock{schema: NewClock().schema, now: func() time.Time { return fixed }}

	out, err := c.Call(context.Background(), map[string]any{"layout": "2006-01-02"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"now": "2026-07-29"}, out)
}
