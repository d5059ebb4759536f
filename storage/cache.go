package storage

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// entryCache is the mandatory LRU layer: bounded by count and per-entry TTL,
// populated on read, invalidated and re-populated on write (spec §4.1).
type entryCache struct {
	lru     *expirable.LRU[string, *Entry]
	hits    int64
	misses  int64
}

func newEntryCache(size int, ttl time.Duration) *entryCache {
	if size <= 0 {
		size = 1000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &entryCache{lru: expirable.NewLRU[string, *Entry](size, nil, ttl)}
}

func (c *entryCache) get(key string) (*Entry, bool) {
	e, ok := c.lru.Get(key)
	if ok {
		atomic.AddInt64(&c.hits, 1)
	} else {
		atomic.AddInt64(&c.misses, 1)
	}
	return e, ok
}

func (c *entryCache) put(key string, e *Entry) {
	c.lru.Add(key, e)
}

func (c *entryCache) invalidate(key string) {
	c.lru.Remove(key)
}

func (c *entryCache) purge() {
	c.lru.Purge()
}

func (c *entryCache) len() int { return c.lru.Len() }
