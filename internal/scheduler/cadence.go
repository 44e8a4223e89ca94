package scheduler

import "time"

// cadence returns the minimum interval between successive polls for a
// subscription whose occurrence departs in delta. The interval tightens
// monotonically as departure approaches; negative delta (train already
// departed) keeps the tightest cadence until the phase turns terminal.
func cadence(delta time.Duration) time.Duration {
	switch {
	case delta > 2*time.Hour:
		return 30 * time.Minute
	case delta > 30*time.Minute:
		return 10 * time.Minute
	default:
		return 2 * time.Minute
	}
}

// cacheTTL derives the delay-cache TTL from the polling cadence: half the
// cadence, so a cached snapshot can serve at most one intermediate tick,
// with a floor to keep grouping effective within a single tick.
func cacheTTL(delta time.Duration) time.Duration {
	ttl := cadence(delta) / 2
	if ttl < 30*time.Second {
		ttl = 30 * time.Second
	}
	return ttl
}
