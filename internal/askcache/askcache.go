// Package askcache stores recent ask responses keyed by the normalized
// question, the active dataset, and the clarification set. Values are kept
// serialized, so readers and writers never share pointers with cached state.
package askcache

import (
	"encoding/json"
	"sync"
	"time"

	"dataghost/internal/identifier"
	"dataghost/internal/logging"
	"dataghost/internal/metrics"
	"dataghost/internal/types"
)

// maxEntries caps the map; at capacity the oldest entry is evicted.
const maxEntries = 1024

type entry struct {
	payload   []byte
	createdAt time.Time
	expiresAt time.Time
}

// Cache is the in-process response cache for /ask. A TTL of zero or less
// disables it: Set becomes a no-op and Get always misses.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	now     func() time.Time
}

// New builds a cache that holds responses for ttlSeconds.
func New(ttlSeconds int) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		ttl:     time.Duration(ttlSeconds) * time.Second,
		now:     time.Now,
	}
}

// Key derives the cache key for one ask request against one dataset.
// Identical requests always produce identical keys regardless of question
// casing or whitespace.
func Key(question, datasetID string, clarifications map[string]string) string {
	return identifier.AskCacheKey(question, datasetID, clarifications)
}

// Get returns a private copy of the cached result, or nil on miss. Expired
// entries are dropped on read.
func (c *Cache) Get(key string) *types.AskResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		metrics.CacheMiss()
		return nil
	}
	if !e.expiresAt.After(c.now()) {
		delete(c.entries, key)
		metrics.CacheMiss()
		logging.Get(logging.CategoryCache).Debug("Expired entry %s", shortKey(key))
		return nil
	}

	var out types.AskResult
	if err := json.Unmarshal(e.payload, &out); err != nil {
		delete(c.entries, key)
		metrics.CacheMiss()
		return nil
	}
	metrics.CacheHit()
	logging.Get(logging.CategoryCache).Info("Hit %s (age=%s)", shortKey(key), c.now().Sub(e.createdAt).Round(time.Millisecond))
	return &out
}

// Set stores a copy of the result under key. Disabled caches and
// unserializable payloads are silently skipped.
func (c *Cache) Set(key string, result *types.AskResult) {
	if c.ttl <= 0 || result == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = &entry{
		payload:   payload,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
}

// Clear drops every entry. Tests call it between cases.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Size reports the number of stored entries, expired ones included.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = e.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
