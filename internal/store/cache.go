package store

import (
	"sync"
	"sync/atomic"

	"github.com/freeeve/framestore/internal/frame"
)

// FrameCache is a byte-bounded FIFO cache of decoded frame tables.
type FrameCache struct {
	mu       sync.Mutex
	cache    map[int]cachedFrame
	order    []int // FIFO order for eviction
	bytes    int64
	maxBytes int64

	hits   uint64
	misses uint64
}

type cachedFrame struct {
	table *frame.Table
	size  int64
}

// NewFrameCache creates a cache holding up to maxBytes of estimated table size.
func NewFrameCache(maxBytes int64) *FrameCache {
	return &FrameCache{
		cache:    make(map[int]cachedFrame),
		maxBytes: maxBytes,
	}
}

// Get returns a cached table, or nil.
func (c *FrameCache) Get(idx int) *frame.Table {
	c.mu.Lock()
	e, ok := c.cache[idx]
	c.mu.Unlock()

	if ok {
		atomic.AddUint64(&c.hits, 1)
		return e.table
	}
	atomic.AddUint64(&c.misses, 1)
	return nil
}

// Put caches a table. Tables larger than the whole cache are not cached.
func (c *FrameCache) Put(idx int, t *frame.Table) {
	size := estimateSize(t)
	if size > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, exists := c.cache[idx]; exists {
		c.bytes += size - old.size
		c.cache[idx] = cachedFrame{table: t, size: size}
	} else {
		c.cache[idx] = cachedFrame{table: t, size: size}
		c.order = append(c.order, idx)
		c.bytes += size
	}

	// Evict oldest until under budget
	for c.bytes > c.maxBytes && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if e, ok := c.cache[oldest]; ok {
			c.bytes -= e.size
			delete(c.cache, oldest)
		}
	}
}

// Invalidate removes a frame from the cache.
func (c *FrameCache) Invalidate(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache[idx]
	if !ok {
		return
	}
	c.bytes -= e.size
	delete(c.cache, idx)
	for i, k := range c.order {
		if k == idx {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Stats returns cache hit and miss counts.
func (c *FrameCache) Stats() (hits, misses uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}

// Clear empties the cache.
func (c *FrameCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[int]cachedFrame)
	c.order = nil
	c.bytes = 0
}
