// Package dedup decides whether a scraped record has already been seen,
// using a compact content fingerprint with bounded memory.
package dedup

import (
	"container/list"
	"sync"
)

// Cache is a fixed-capacity LRU set of fingerprints shared by all sub-jobs
// of one orchestrated request. Probing and marking are a single critical
// section so two concurrent runners can never both claim the same fingerprint.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint64]*list.Element
	order    *list.List // front = most recently probed, back = eviction candidate
}

// DefaultCapacity bounds cache memory when the caller does not choose a size.
const DefaultCapacity = 10000

// NewCache creates a cache holding at most capacity fingerprints.
// Non-positive capacities fall back to DefaultCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[uint64]*list.Element, capacity),
		order:    list.New(),
	}
}

// ProbeAndMark reports whether fp was previously unseen and atomically marks
// it as present. Returns true exactly once per fingerprint within the cache's
// retention; insertion beyond capacity evicts the least-recently-used entry.
func (c *Cache) ProbeAndMark(fp uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[fp]; ok {
		c.order.MoveToFront(elem)
		return false
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(uint64))
		}
	}
	c.entries[fp] = c.order.PushFront(fp)
	return true
}

// Len returns the number of fingerprints currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
