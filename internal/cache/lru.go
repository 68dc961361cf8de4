package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/lshkv/resource"
)

// VectorCache implements a simple LRU cache of vectors keyed by id.
type VectorCache struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[string]*list.Element
	evictList *list.List
	rc        *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key   string
	value []float32
}

func sizeOf(key string, v []float32) int64 {
	return int64(len(key) + 4*len(v))
}

// NewVectorCache creates a new LRU cache with the given capacity in bytes.
// If rc is provided, it will be used to track memory usage.
func NewVectorCache(capacity int64, rc *resource.Controller) *VectorCache {
	return &VectorCache{
		capacity:  capacity,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		rc:        rc,
	}
}

// Get returns a cached vector. The returned slice must not be modified.
func (c *VectorCache) Get(id string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[id]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return ent.Value.(*entry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set caches a vector. The cache takes ownership of v.
func (c *VectorCache) Set(id string, v []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	itemSize := sizeOf(id, v)

	// If item is larger than capacity, don't cache
	if itemSize > c.capacity {
		return
	}

	if ent, ok := c.items[id]; ok {
		c.removeElement(ent)
	}

	// Evict to make space in local capacity first
	for c.size+itemSize > c.capacity {
		ent := c.evictList.Back()
		if ent == nil {
			break
		}
		c.removeElement(ent)
	}

	// If the controller says no, don't cache.
	if !c.rc.TryAcquireMemory(itemSize) {
		return
	}

	element := c.evictList.PushFront(&entry{key: id, value: v})
	c.items[id] = element
	c.size += itemSize
}

// Delete removes an entry.
func (c *VectorCache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[id]; ok {
		c.removeElement(ent)
	}
}

// Purge removes all entries.
func (c *VectorCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.evictList.Len() > 0 {
		c.removeElement(c.evictList.Back())
	}
}

// Stats returns the hit and miss counters.
func (c *VectorCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached vectors.
func (c *VectorCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size returns the current size of the cache in bytes.
func (c *VectorCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *VectorCache) removeElement(e *list.Element) {
	c.evictList.Remove(e)
	kv := e.Value.(*entry)
	delete(c.items, kv.key)
	itemSize := sizeOf(kv.key, kv.value)
	c.size -= itemSize
	c.rc.ReleaseMemory(itemSize)
}
