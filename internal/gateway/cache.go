package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// responseCache is a bounded, time-expiring cache of generated text.
// Eviction at capacity removes the insertion-oldest entry regardless of
// lookup frequency (FIFO, not LRU). Expired entries are removed lazily
// on the next lookup. Lookups and writes never fail.
type responseCache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	order      []string // insertion order, oldest first
	maxEntries int
	ttl        time.Duration
}

type cacheEntry struct {
	value      string
	insertedAt time.Time
}

func newResponseCache(maxEntries int, ttl time.Duration) *responseCache {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &responseCache{
		entries:    make(map[string]cacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// Get returns the cached value for key, or ok=false on miss or expiry.
func (c *responseCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.ttl > 0 && time.Since(e.insertedAt) > c.ttl {
		c.remove(key)
		return "", false
	}
	return e.value, true
}

// Put stores value under key, evicting the oldest-inserted entry when
// the cache is full.
func (c *responseCache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.remove(key)
	}
	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		c.remove(c.order[0])
	}
	c.entries[key] = cacheEntry{value: value, insertedAt: time.Now()}
	c.order = append(c.order, key)
}

// Len reports the number of live entries, expired ones included until
// their next lookup.
func (c *responseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// remove deletes key from the map and the insertion-order list.
// Caller holds the mutex.
func (c *responseCache) remove(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// fingerprint derives the deterministic cache key. The prompt
// participates only through a coarse size bucket and a bounded prefix,
// so distinct prompts sharing both collide into one entry.
func fingerprint(providerID, model string, temperature float64, prompt string, prefixLen int) string {
	if prefixLen <= 0 {
		prefixLen = 100
	}
	prefix := prompt
	if len(prefix) > prefixLen {
		prefix = prefix[:prefixLen]
	}
	// ~4 chars per token, bucketed by hundreds.
	bucket := len(prompt) / 4 / 100

	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%.2f|%d|%s", providerID, model, temperature, bucket, prefix)))
	return hex.EncodeToString(h[:])
}
