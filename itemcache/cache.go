// Package itemcache provides a bounded, TTL-based cache of item bodies,
// shared across all processors on a node.
package itemcache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/modsagraphy/universa/hashid"
	"github.com/modsagraphy/universa/item"
)

// entry pairs a cached body with its insertion time so Get can enforce the
// configured max-age independently of the backing store's own eviction.
type entry struct {
	body       *item.Item
	insertedAt time.Time
}

// maxEntries bounds the backing LRU's growth. The design does not require a
// capacity bound (TTL alone is sufficient), but grounding the cache on an LRU
// gives a cheap belt-and-suspenders limit on memory under a vote storm.
const maxEntries = 100_000

// Cache is a thread-safe, TTL-bounded store of item bodies keyed by id.
type Cache struct {
	maxAge time.Duration

	mu    sync.Mutex
	inner *lru.Cache
}

// New creates a Cache whose entries are considered expired maxAge after
// insertion.
func New(maxAge time.Duration) *Cache {
	inner, err := lru.New(maxEntries)
	if err != nil {
		// Only returns an error for a non-positive size, which maxEntries
		// never is.
		panic(err)
	}
	return &Cache{maxAge: maxAge, inner: inner}
}

// Put inserts body under its own id, stamped with the current wall-clock time.
func (c *Cache) Put(body *item.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(body.ID, entry{body: body, insertedAt: time.Now()})
}

// Get returns the cached body for id if present and not older than the
// configured max age.
func (c *Cache) Get(id hashid.ID) (*item.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.inner.Get(id)
	if !ok {
		return nil, false
	}
	e := v.(entry)
	if time.Since(e.insertedAt) > c.maxAge {
		c.inner.Remove(id)
		return nil, false
	}
	return e.body, true
}

// Have reports whether id is present and unexpired, without returning the
// body. Used to populate ItemResult.HaveCopy.
func (c *Cache) Have(id hashid.ID) bool {
	_, ok := c.Get(id)
	return ok
}
