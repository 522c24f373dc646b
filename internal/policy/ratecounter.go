package policy

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Scope distinguishes the dimension a RateCounter tracks (spec.md §3
// RateCounter).
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeUser     Scope = "user"
	ScopeResource Scope = "resource"
)

const defaultWindow = time.Hour

// counter is a fixed-window rate counter keyed by (scope, subject). It is
// built on golang.org/x/time/rate.Limiter used purely as an atomic token
// bucket (Limit held at zero so no continuous refill occurs); the window
// resets by swapping in a fresh, fully-loaded limiter at the window
// boundary, giving the hard fixed-window semantics spec.md §3 calls for
// rather than rate.Limiter's usual smoothed refill.
type counter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	windowStart time.Time
	window      time.Duration
	limit       int
}

func newCounter(limit int, window time.Duration, now time.Time) *counter {
	if window <= 0 {
		window = defaultWindow
	}
	return &counter{
		limiter:     rate.NewLimiter(rate.Limit(0), limit),
		windowStart: now,
		window:      window,
		limit:       limit,
	}
}

// tryIncrement performs an atomic check-and-increment: if the current
// window has count < limit, consumes one unit and returns true; otherwise
// returns false without mutating state (spec.md §4.3 step 4: "on allow,
// the increment is committed").
func (c *counter) tryIncrement(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.windowStart) >= c.window {
		c.windowStart = now
		c.limiter = rate.NewLimiter(rate.Limit(0), c.limit)
	}
	return c.limiter.AllowN(now, 1)
}

// RateCounterRegistry tracks one counter per (scope, subject) pair,
// creating it lazily on first use; the limit and window given on that
// first use stay with the counter.
type RateCounterRegistry struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
}

// NewRateCounterRegistry constructs an empty registry.
func NewRateCounterRegistry() *RateCounterRegistry {
	return &RateCounterRegistry{counters: make(map[string]*counter), now: time.Now}
}

// CheckAndIncrement performs the atomic check-and-increment for
// (scope, subject) against limit/window, creating the counter on first
// use. Returns true if the call is within budget.
func (r *RateCounterRegistry) CheckAndIncrement(scope Scope, subject string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true // unlimited
	}
	key := string(scope) + "|" + subject
	now := r.now()
	r.mu.Lock()
	c, ok := r.counters[key]
	if !ok {
		c = newCounter(limit, window, now)
		r.counters[key] = c
	}
	r.mu.Unlock()
	return c.tryIncrement(now)
}
