package pack

import (
	"fmt"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/grivet-io/grivet/pkg/objects"
)

const (
	// DefaultBaseCacheBudget is the default byte budget for the delta-base
	// cache.
	DefaultBaseCacheBudget = 96 << 20
)

// cachedBase is a reconstructed delta base retained for reuse across a delta
// chain.
type cachedBase struct {
	// objectType is the base's resolved object type.
	objectType objects.Type
	// data is the base's fully reconstructed payload.
	data []byte
}

// BaseCache is a bounded, byte-budgeted cache of reconstructed delta bases
// keyed by (packfile, offset). It exists to keep long delta chains from
// re-reconstructing shared bases quadratically. It is safe for concurrent
// usage.
type BaseCache struct {
	// lock serializes access to the cache.
	lock sync.Mutex
	// entries is the underlying LRU cache.
	entries *lru.Cache
	// budget is the maximum number of payload bytes retained.
	budget int64
	// used is the number of payload bytes currently retained.
	used int64
}

// NewBaseCache creates a delta-base cache with the specified byte budget. A
// non-positive budget selects the default.
func NewBaseCache(budget int64) *BaseCache {
	if budget <= 0 {
		budget = DefaultBaseCacheBudget
	}
	cache := &BaseCache{budget: budget}
	cache.entries = &lru.Cache{
		OnEvicted: func(_ lru.Key, value interface{}) {
			cache.used -= int64(len(value.(*cachedBase).data))
		},
	}
	return cache
}

// key computes the cache key for a pack offset.
func (c *BaseCache) key(packPath string, offset int64) lru.Key {
	return fmt.Sprintf("%s@%d", packPath, offset)
}

// get looks up a reconstructed base.
func (c *BaseCache) get(packPath string, offset int64) (*cachedBase, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if value, ok := c.entries.Get(c.key(packPath, offset)); ok {
		return value.(*cachedBase), true
	}
	return nil, false
}

// put stores a reconstructed base, evicting least-recently-used entries until
// the byte budget is respected. Bases larger than the entire budget are not
// cached.
func (c *BaseCache) put(packPath string, offset int64, base *cachedBase) {
	if int64(len(base.data)) > c.budget {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.entries.Add(c.key(packPath, offset), base)
	c.used += int64(len(base.data))
	for c.used > c.budget {
		c.entries.RemoveOldest()
	}
}
