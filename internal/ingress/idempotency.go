package ingress

import (
	"sync"
	"time"
)

// idempotencyCache is a bounded TTL set of recently-seen dedup keys,
// grounded on the teacher's fundingRateMap/frCacheTTL caching pattern
// (trader/auto_trader.go), generalized from a value cache into a
// seen-before set per spec.md §4.1 step 2 (default 24h TTL).
type idempotencyCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

func newIdempotencyCache(ttl time.Duration) *idempotencyCache {
	return &idempotencyCache{seen: make(map[string]time.Time), ttl: ttl}
}

// CheckAndMark reports whether key was already seen within the TTL
// window; if not, it records key as seen at now (concurrent
// insert-if-absent, spec.md §5).
func (c *idempotencyCache) CheckAndMark(key string, now time.Time) (duplicate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seenAt, ok := c.seen[key]; ok && now.Sub(seenAt) <= c.ttl {
		return true
	}
	c.seen[key] = now
	return false
}

// EvictBefore drops every entry last seen before cutoff, bounding the
// set's memory footprint (spec.md §4.1: "≥100k entries").
func (c *idempotencyCache) EvictBefore(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, seenAt := range c.seen {
		if seenAt.Before(cutoff) {
			delete(c.seen, k)
		}
	}
}

func (c *idempotencyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
