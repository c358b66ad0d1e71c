package batch

import (
	"sync"
	"time"
)

// Cache bounds the number and age of loaded batches. Evicted batches are
// handed to the eviction callback, which drops their storage.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	maxSize int
	maxAge  time.Duration
	onEvict func(*Batch)
	hits    int64
	misses  int64
	now     func() time.Time
}

type cacheEntry struct {
	batch     *Batch
	createdAt time.Time
	expiresAt time.Time
	hits      int64
}

// NewCache creates a cache. maxSize <= 0 means unbounded, maxAge <= 0 means
// entries never expire.
func NewCache(maxSize int, maxAge time.Duration, onEvict func(*Batch)) *Cache {
	return &Cache{
		entries: make(map[string]*cacheEntry),
		maxSize: maxSize,
		maxAge:  maxAge,
		onEvict: onEvict,
		now:     time.Now,
	}
}

// Get returns a live batch.
func (c *Cache) Get(id string) (*Batch, bool) {
	c.mu.Lock()
	entry, ok := c.entries[id]
	if !ok {
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	if c.maxAge > 0 && c.now().After(entry.expiresAt) {
		delete(c.entries, id)
		c.misses++
		c.mu.Unlock()
		c.evicted(entry.batch)
		return nil, false
	}

	entry.hits++
	c.hits++
	c.mu.Unlock()
	return entry.batch, true
}

// Put stores a batch, evicting the oldest entry when full.
func (c *Cache) Put(b *Batch) {
	c.mu.Lock()
	var victim *Batch
	if _, exists := c.entries[b.ID]; !exists && c.maxSize > 0 && len(c.entries) >= c.maxSize {
		victim = c.evictOldest()
	}

	now := c.now()
	c.entries[b.ID] = &cacheEntry{
		batch:     b,
		createdAt: now,
		expiresAt: now.Add(c.maxAge),
	}
	c.mu.Unlock()

	if victim != nil {
		c.evicted(victim)
	}
}

// Invalidate removes a specific entry.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	entry, ok := c.entries[id]
	delete(c.entries, id)
	c.mu.Unlock()

	if ok {
		c.evicted(entry.batch)
	}
}

// InvalidateAll clears the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()

	for _, e := range entries {
		c.evicted(e.batch)
	}
}

func (c *Cache) evicted(b *Batch) {
	if c.onEvict != nil {
		c.onEvict(b)
	}
}

// evictOldest must be called with the lock held.
func (c *Cache) evictOldest() *Batch {
	var oldest *cacheEntry
	var oldestKey string

	for key, entry := range c.entries {
		if oldest == nil || entry.createdAt.Before(oldest.createdAt) {
			oldest = entry
			oldestKey = key
		}
	}

	if oldest == nil {
		return nil
	}
	delete(c.entries, oldestKey)
	return oldest.batch
}

// Stats returns cache statistics.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rows int64
	for _, e := range c.entries {
		rows += e.batch.Markers.RowCount
	}

	stats := CacheStats{
		Entries: len(c.entries),
		Rows:    rows,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// CacheStats contains cache statistics.
type CacheStats struct {
	Entries int
	Rows    int64
	Hits    int64
	Misses  int64
	HitRate float64
}
