package roles

import (
	"container/list"
	"sync"
	"time"

	"github.com/wndmngr/backend/models"
)

type cacheEntry struct {
	key        string
	role       models.Role
	insertedAt time.Time
	element    *list.Element
}

// RoleCache is an in-memory LRU cache with TTL for resolved roles
type RoleCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	lruList *list.List
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
	now     func() time.Time
}

// NewRoleCache creates a cache holding at most maxSize roles for ttl each
func NewRoleCache(maxSize int, ttl time.Duration) *RoleCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &RoleCache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached role for key
func (c *RoleCache) Get(key string) (models.Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || c.expired(entry) {
		c.misses++
		if ok {
			c.removeEntry(key)
		}
		return "", false
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++
	return entry.role, true
}

// Set stores role under key, evicting the least recently used entry when full
func (c *RoleCache) Set(key string, role models.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.role = role
		entry.insertedAt = c.now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{key: key, role: role, insertedAt: c.now()}
	entry.element = c.lruList.PushFront(key)
	c.entries[key] = entry
}

// Invalidate removes key from the cache
func (c *RoleCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeEntry(key)
}

// Clear removes all entries
func (c *RoleCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// CleanupExpired removes expired entries and returns how many were dropped
func (c *RoleCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	for key, entry := range c.entries {
		if c.expired(entry) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		c.removeEntry(key)
	}
	return len(expired)
}

// Stats returns cache statistics
func (c *RoleCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

func (c *RoleCache) expired(e *cacheEntry) bool {
	return c.ttl > 0 && c.now().Sub(e.insertedAt) > c.ttl
}

// must be called with lock held
func (c *RoleCache) removeEntry(key string) {
	if entry, ok := c.entries[key]; ok {
		c.lruList.Remove(entry.element)
		delete(c.entries, key)
	}
}

// must be called with lock held
func (c *RoleCache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	c.lruList.Remove(back)
	delete(c.entries, key)
}
