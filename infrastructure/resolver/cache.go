package resolver

import (
	"sync"
	"time"

	"esence/domain/core/entities"
	"esence/pkg/utils"
)

// DocumentCache keeps resolved identity documents for a fixed TTL. Expired
// entries are evicted on lookup, never refreshed in the background.
type DocumentCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock utils.Clock
	items map[string]cacheItem
}

type cacheItem struct {
	doc       entities.IdentityDocument
	expiresAt time.Time
}

// NewDocumentCache creates a cache
func NewDocumentCache(ttl time.Duration, clock utils.Clock) *DocumentCache {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &DocumentCache{
		ttl:   ttl,
		clock: clock,
		items: make(map[string]cacheItem),
	}
}

// Get returns a live entry
func (c *DocumentCache) Get(key string) (entities.IdentityDocument, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		return entities.IdentityDocument{}, false
	}
	if !c.clock.Now().Before(item.expiresAt) {
		delete(c.items, key)
		return entities.IdentityDocument{}, false
	}
	return item.doc, true
}

// Set stores doc under key for the cache TTL
func (c *DocumentCache) Set(key string, doc entities.IdentityDocument) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = cacheItem{doc: doc, expiresAt: c.clock.Now().Add(c.ttl)}
}

// Delete removes key
func (c *DocumentCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// Sweep drops every expired entry and returns how many were removed
func (c *DocumentCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for key, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, including expired ones not yet swept
func (c *DocumentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
