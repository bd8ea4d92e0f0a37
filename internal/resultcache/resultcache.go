// Package resultcache keeps recent triage results in memory so repeated
// symptom texts skip the pipeline.
package resultcache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/linnemanlabs/medtriage/internal/triage"
)

// Cache is an expiring in-memory triage.Cache.
type Cache struct {
	cache *gocache.Cache
}

// New creates a cache whose entries expire after ttl. Expired entries are
// purged every cleanupInterval.
func New(ttl, cleanupInterval time.Duration) *Cache {
	return &Cache{cache: gocache.New(ttl, cleanupInterval)}
}

// Get returns a copy of the cached result for key.
func (c *Cache) Get(key string) (*triage.Result, bool) {
	v, found := c.cache.Get(key)
	if !found {
		return nil, false
	}
	r, ok := v.(triage.Result)
	if !ok {
		return nil, false
	}
	return &r, true
}

// Set stores a copy of r under key with the default TTL.
func (c *Cache) Set(key string, r *triage.Result) {
	c.cache.SetDefault(key, *r)
}

// Len reports the number of entries, including expired ones not yet purged.
func (c *Cache) Len() int {
	return c.cache.ItemCount()
}

// Flush removes every entry.
func (c *Cache) Flush() {
	c.cache.Flush()
}
