package las

import (
	"container/list"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sync/singleflight"
)

// PointSetCache keeps decoded files and their spatial indexes in memory
// with LRU eviction.
//
// The engine uses it when several chunks read the same file, e.g. small
// tiles over large files: each file is decoded once and every chunk
// clips its share through the grid index. Cached PointSets are shared and
// must be treated as read-only.
//
// Memory use is an estimate from point and index sizes.
//
// Example:
//
//	cache := las.NewPointSetCache(1 << 30) // 1GB
//	ps, idx, err := cache.Get("a.las", func() (*las.PointSet, error) {
//	    return las.ReadFile("a.las", las.ReadOptions{})
//	})
type PointSetCache struct {
	maxMemory  int64 // 0 means unlimited
	usedMemory int64
	entries    map[string]*cacheEntry
	lru        *list.List // most recent at front
	hits       int64
	misses     int64
	mu         sync.Mutex

	// loads collapses concurrent misses on one key into a single decode
	loads singleflight.Group
}

type cacheEntry struct {
	key          string
	ps           *PointSet
	idx          *SpatialIndex
	memorySize   int64
	element      *list.Element
	lastAccessed time.Time
	accessCount  int
}

// NewPointSetCache creates a cache holding about maxMemoryBytes of points.
// Zero means unlimited.
func NewPointSetCache(maxMemoryBytes int64) *PointSetCache {
	return &PointSetCache{
		maxMemory: maxMemoryBytes,
		entries:   make(map[string]*cacheEntry),
		lru:       list.New(),
	}
}

// Get returns the cached PointSet for key, or calls loader on a miss,
// indexes the result and caches both. Concurrent misses on the same key
// share one loader call. A set too large for the cache is returned
// uncached.
func (c *PointSetCache) Get(key string, loader func() (*PointSet, error)) (*PointSet, *SpatialIndex, error) {
	if entry, ok := c.lookup(key, true); ok {
		return entry.ps, entry.idx, nil
	}

	v, err, _ := c.loads.Do(key, func() (any, error) {
		// a load for key may have finished since the miss above
		if entry, ok := c.lookup(key, false); ok {
			return entry, nil
		}
		ps, err := loader()
		if err != nil {
			return nil, fmt.Errorf("load point set: %w", err)
		}
		idx := BuildIndex(ps, DefaultIndexOptions())

		// too large to cache is not an error for the caller
		_ = c.Add(key, ps, idx)

		return &cacheEntry{ps: ps, idx: idx}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	entry := v.(*cacheEntry)
	return entry.ps, entry.idx, nil
}

// lookup returns the entry for key and marks it used. count records the
// outcome in the hit and miss statistics.
func (c *PointSetCache) lookup(key string, count bool) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		if count {
			c.misses++
		}
		return nil, false
	}
	entry.lastAccessed = time.Now()
	entry.accessCount++
	c.lru.MoveToFront(entry.element)
	if count {
		c.hits++
	}
	return entry, true
}

// Add caches ps and idx under key, evicting least recently used entries
// as needed.
func (c *PointSetCache) Add(key string, ps *PointSet, idx *SpatialIndex) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		c.usedMemory -= entry.memorySize
		entry.ps, entry.idx = ps, idx
		entry.memorySize = estimatePointSetMemory(ps, idx)
		c.usedMemory += entry.memorySize
		entry.lastAccessed = time.Now()
		entry.accessCount++
		c.lru.MoveToFront(entry.element)
		return nil
	}

	memSize := estimatePointSetMemory(ps, idx)
	if c.maxMemory > 0 && memSize > c.maxMemory {
		return fmt.Errorf("point set too large for cache (%d bytes > %d bytes max)",
			memSize, c.maxMemory)
	}

	if c.maxMemory > 0 {
		for c.usedMemory+memSize > c.maxMemory && c.lru.Len() > 0 {
			c.evictLRU()
		}
	}

	entry := &cacheEntry{
		key:          key,
		ps:           ps,
		idx:          idx,
		memorySize:   memSize,
		lastAccessed: time.Now(),
		accessCount:  1,
	}
	entry.element = c.lru.PushFront(entry)
	c.entries[key] = entry
	c.usedMemory += memSize

	return nil
}

// evictLRU drops the least recently used entry. Must be called with c.mu held.
func (c *PointSetCache) evictLRU() {
	elem := c.lru.Back()
	if elem == nil {
		return
	}

	entry := elem.Value.(*cacheEntry)
	c.lru.Remove(elem)
	delete(c.entries, entry.key)
	c.usedMemory -= entry.memorySize
}

// Remove drops key from the cache.
func (c *PointSetCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		c.lru.Remove(entry.element)
		delete(c.entries, key)
		c.usedMemory -= entry.memorySize
	}
}

// Clear empties the cache. Hit and miss counters are kept.
func (c *PointSetCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lru.Init()
	c.usedMemory = 0
}

// Stats returns cache statistics.
func (c *PointSetCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var points int64
	for _, entry := range c.entries {
		points += int64(entry.ps.Len())
	}

	return CacheStats{
		Entries:    len(c.entries),
		Points:     points,
		UsedMemory: c.usedMemory,
		MaxMemory:  c.maxMemory,
		Hits:       c.hits,
		Misses:     c.misses,
	}
}

// CacheStats holds cache metrics.
type CacheStats struct {
	Entries    int   // PointSets currently cached
	Points     int64 // points across cached sets
	UsedMemory int64 // estimated bytes
	MaxMemory  int64 // limit in bytes, 0 for none
	Hits       int64
	Misses     int64
}

// estimatePointSetMemory approximates the footprint of a set and its index:
// the record slice, the header and VLR payloads, and the grid arrays.
func estimatePointSetMemory(ps *PointSet, idx *SpatialIndex) int64 {
	if ps == nil {
		return 0
	}

	size := int64(1024)
	size += int64(cap(ps.points)) * int64(unsafe.Sizeof(PointRecord{}))
	if ps.Header != nil {
		for _, v := range ps.Header.VLRs {
			size += int64(len(v.Data))
		}
	}
	if idx != nil {
		size += idx.memorySize()
	}

	return size
}
