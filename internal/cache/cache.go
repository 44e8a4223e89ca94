// Package cache memoizes provider lookups per train occurrence so
// subscriptions sharing a route and departure reuse one upstream call.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"train_bot/internal/model"
)

// DefaultCapacity bounds the number of live entries. TTL already bounds the
// useful set; the LRU cap guards against occurrence-key explosion.
const DefaultCapacity = 512

type entry struct {
	snapshot  model.StatusSnapshot
	expiresAt time.Time
}

// DelayCache holds short-lived status snapshots keyed by occurrence.
// Entries are immutable once written and evicted lazily on lookup.
type DelayCache struct {
	entries *lru.Cache[string, entry]
	now     func() time.Time
}

// New creates a DelayCache holding at most capacity entries.
// A non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *DelayCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	// lru.New only errors on a non-positive size, which is guarded above.
	entries, _ := lru.New[string, entry](capacity)
	return &DelayCache{entries: entries, now: time.Now}
}

// SetNowFunc overrides the clock, for tests.
func (c *DelayCache) SetNowFunc(now func() time.Time) {
	c.now = now
}

// Get returns the cached snapshot for the occurrence, if present and not
// expired. Expired entries are removed and treated as absent.
func (c *DelayCache) Get(occ model.Occurrence) (*model.StatusSnapshot, bool) {
	e, ok := c.entries.Get(occ.Key())
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.entries.Remove(occ.Key())
		return nil, false
	}
	snap := e.snapshot
	return &snap, true
}

// Put stores a snapshot for the occurrence with the given TTL. The TTL is
// chosen by the caller: shorter as the scheduled departure approaches.
func (c *DelayCache) Put(occ model.Occurrence, snapshot model.StatusSnapshot, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.entries.Add(occ.Key(), entry{snapshot: snapshot, expiresAt: c.now().Add(ttl)})
}

// Len returns the number of stored entries, expired ones included.
func (c *DelayCache) Len() int {
	return c.entries.Len()
}
