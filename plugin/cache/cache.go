// Package cache provides the shared in-process TTL cache used by the GitHub
// client and the relevance ranker. Entries expire lazily on access; there is
// no background sweeper.
package cache

import (
	"sync"
	"time"
)

// Entry is a single cached value with its expiry and optional ETag for
// conditional revalidation.
type Entry struct {
	Value     []byte
	ExpiresAt time.Time
	ETag      string
}

// Cache is a bounded TTL key/value store. All operations are serialized by a
// single mutex. When the cache is full, Set evicts the entry with the nearest
// expiry rather than the least recently used one.
type Cache struct {
	maxEntries int
	defaultTTL time.Duration
	mu         sync.Mutex

	store map[string]Entry
}

// New creates a cache holding at most maxEntries entries.
func New(maxEntries int, defaultTTL time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 4000
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}

	return &Cache{
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		store:      make(map[string]Entry),
	}
}

// Get retrieves an entry. Expired entries are returned only when allowStale
// is set, which callers use to recover the ETag for conditional revalidation;
// otherwise the expired entry is evicted on read.
func (c *Cache) Get(key string, allowStale bool) (Entry, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.store[key]
	if !ok {
		return Entry{}, false
	}
	if allowStale || entry.ExpiresAt.After(now) {
		return entry, true
	}
	delete(c.store, key)
	return Entry{}, false
}

// Set stores or overwrites an entry. At capacity exactly one entry is evicted
// first: the one with the nearest expiry among current entries.
func (c *Cache) Set(key string, value []byte, ttl time.Duration, etag string) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		c.evictNearestExpiry()
	}
	c.store[key] = Entry{
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
		ETag:      etag,
	}
}

// Delete removes an entry unconditionally.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
}

// Size returns the number of entries currently stored.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.store)
}

// evictNearestExpiry removes the entry closest to expiring.
// Must be called with the lock held.
func (c *Cache) evictNearestExpiry() {
	var victim string
	var victimExpiry time.Time
	first := true

	for key, entry := range c.store {
		if first || entry.ExpiresAt.Before(victimExpiry) {
			victim = key
			victimExpiry = entry.ExpiresAt
			first = false
		}
	}
	if !first {
		delete(c.store, victim)
	}
}
