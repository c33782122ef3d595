// Package cache holds bounded in-memory caches, grounded on the
// teacher's ledger manager cache: the same hit/miss-counting LRU
// wrapper applied to User snapshots instead of ledgers, since account
// lookups are the hottest read path in order submission and transfers.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/camppoints/exchanged/internal/domain"
)

// UserCache is a bounded, hit-counted LRU of User snapshots keyed by uid.
// It is a read-through convenience only: callers must still write
// through to the ledger/kvstore on any mutation and call Put or
// Invalidate to keep it from serving stale data.
type UserCache struct {
	mu     sync.RWMutex
	lru    *lru.Cache[string, domain.User]
	hits   uint64
	misses uint64
}

// NewUserCache builds a UserCache holding at most size entries.
func NewUserCache(size int) (*UserCache, error) {
	if size <= 0 {
		size = 1024
	}
	l, err := lru.New[string, domain.User](size)
	if err != nil {
		return nil, err
	}
	return &UserCache{lru: l}, nil
}

// Get returns the cached snapshot for uid, if present.
func (c *UserCache) Get(uid string) (domain.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.lru.Get(uid)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return u, ok
}

// Put inserts or refreshes the cached snapshot for a user.
func (c *UserCache) Put(u domain.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(u.UID, u)
}

// Invalidate drops a user's cached snapshot, forcing the next Get to
// miss. Call this whenever a user's balance or status changes.
func (c *UserCache) Invalidate(uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(uid)
}

// Stats reports hit/miss counters for observability.
type Stats struct {
	Hits    uint64
	Misses  uint64
	HitRate float64
	Len     int
}

// Stats returns a snapshot of the cache's hit/miss counters.
func (c *UserCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := c.hits + c.misses
	var rate float64
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{Hits: c.hits, Misses: c.misses, HitRate: rate, Len: c.lru.Len()}
}
