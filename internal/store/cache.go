package store

import (
	"sync"
	"time"

	"github.com/saodatJustdice/review-analyzer/pkg/review"
)

// reviewCache memoizes the full review set per app until it is invalidated
// or older than ttl. A zero ttl disables caching.
//
// Every invalidation bumps the app's generation. A load that started before
// an invalidation carries the old generation and is not stored.
type reviewCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
	gens    map[string]uint64
}

type cacheEntry struct {
	loadedAt time.Time
	rows     []review.Review
}

func newReviewCache(ttl time.Duration) *reviewCache {
	return &reviewCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
		gens:    make(map[string]uint64),
	}
}

func (c *reviewCache) get(appID string) ([]review.Review, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[appID]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.loadedAt) > c.ttl {
		delete(c.entries, appID)
		return nil, false
	}
	return copyReviews(e.rows), true
}

// generation must be read before loading the rows later passed to put.
func (c *reviewCache) generation(appID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[appID]
}

// put stores rows loaded at generation gen. Rows loaded before the latest
// invalidation are dropped.
func (c *reviewCache) put(appID string, gen uint64, rows []review.Review) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[appID] != gen {
		return
	}
	c.entries[appID] = cacheEntry{loadedAt: c.now(), rows: copyReviews(rows)}
}

func (c *reviewCache) invalidate(appID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, appID)
	c.gens[appID]++
}

func copyReviews(in []review.Review) []review.Review {
	if in == nil {
		return nil
	}
	out := make([]review.Review, len(in))
	for i, r := range in {
		r.Tags = append([]string(nil), r.Tags...)
		if len(r.Tags) == 0 {
			r.Tags = nil
		}
		out[i] = r
	}
	return out
}
