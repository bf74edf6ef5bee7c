// Package cache provides an in-process LRU layer in front of the
// catalog's persistent label-id mapping (pkg/catalog).
//
// The catalog itself is backed by Badger so label-name <-> LabelId
// lookups survive a process restart, but going to Badger on every vertex
// or edge creation would put a disk round trip on the hot path. LabelCache
// memoizes both directions of that mapping in memory, bounded by an LRU
// so a long-running process with a very large, slowly-churning label
// vocabulary doesn't grow this cache without limit.
//
// Usage:
//
//	c := cache.NewLabelCache(4096)
//	if id, ok := c.LookupID("Person"); ok {
//		return id
//	}
//	id := catalog.Resolve("Person") // miss: fall through to the catalog
//	c.Put("Person", id)
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// LabelCache is a thread-safe, bidirectional, bounded LRU cache mapping
// catalog label names to the LabelId the catalog minted for them.
type LabelCache struct {
	mu sync.RWMutex

	maxSize int
	enabled bool

	list    *list.List
	byName  map[string]*list.Element
	byLabel map[uint32]*list.Element

	hits   uint64
	misses uint64
}

type labelEntry struct {
	name string
	id   uint32
}

// NewLabelCache creates a cache holding at most maxSize name<->id pairs.
func NewLabelCache(maxSize int) *LabelCache {
	if maxSize <= 0 {
		maxSize = 4096
	}
	return &LabelCache{
		maxSize: maxSize,
		enabled: true,
		list:    list.New(),
		byName:  make(map[string]*list.Element, maxSize),
		byLabel: make(map[uint32]*list.Element, maxSize),
	}
}

// LookupID returns the LabelId cached for name, if present.
func (c *LabelCache) LookupID(name string) (uint32, bool) {
	if !c.enabled {
		atomic.AddUint64(&c.misses, 1)
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.byName[name]
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return 0, false
	}
	c.list.MoveToFront(elem)
	atomic.AddUint64(&c.hits, 1)
	return elem.Value.(*labelEntry).id, true
}

// LookupName returns the name cached for id, if present.
func (c *LabelCache) LookupName(id uint32) (string, bool) {
	if !c.enabled {
		atomic.AddUint64(&c.misses, 1)
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.byLabel[id]
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return "", false
	}
	c.list.MoveToFront(elem)
	atomic.AddUint64(&c.hits, 1)
	return elem.Value.(*labelEntry).name, true
}

// Put records a resolved name<->id pair, evicting the least recently
// used pair if the cache is at capacity. The mapping is assumed
// immutable for the lifetime of the catalog (a label is never
// renumbered), so Put never needs to invalidate an existing entry for
// the same name with a different id.
func (c *LabelCache) Put(name string, id uint32) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byName[name]; ok {
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}

	entry := &labelEntry{name: name, id: id}
	elem := c.list.PushFront(entry)
	c.byName[name] = elem
	c.byLabel[id] = elem
}

func (c *LabelCache) evictOldest() {
	elem := c.list.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*labelEntry)
	c.list.Remove(elem)
	delete(c.byName, entry.name)
	delete(c.byLabel, entry.id)
}

// Len returns the number of cached pairs.
func (c *LabelCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.list.Len()
}

// Stats reports cumulative hit/miss counts.
func (c *LabelCache) Stats() (hits, misses uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}

// SetEnabled toggles the cache; disabling clears it.
func (c *LabelCache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		c.list.Init()
		c.byName = make(map[string]*list.Element, c.maxSize)
		c.byLabel = make(map[uint32]*list.Element, c.maxSize)
	}
}
