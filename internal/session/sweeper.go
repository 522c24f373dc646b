package session

import (
	"context"
	"time"

	"github.com/pyaichatbot/orchestration-core/internal/telemetry"
)

// RunSweeper runs a single background expiry sweep loop for store, firing
// every interval until ctx is canceled. Exactly one sweeper should run per
// process per store (spec.md §5 "a single background task per process").
func RunSweeper(ctx context.Context, store Store, ttl, idleTimeout, interval time.Duration, log telemetry.Logger) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Sweep(ctx, ttl, idleTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn(ctx, "session sweep failed", "error", err.Error())
				continue
			}
			if removed > 0 {
				log.Debug(ctx, "session sweep removed expired sessions", "count", removed)
			}
		}
	}
}
