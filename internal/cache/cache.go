// Package cache provides the in-memory TTL cache for IP detail lookups,
// bounding how often the remote intelligence endpoint is hit for the same
// address.
package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netident/netident/internal/types"
)

// entry is a cached detail record with its expiry.
type entry struct {
	detail    *types.IPDetail
	expiresAt time.Time
}

// DetailCache is a TTL-bounded in-memory cache keyed by sanitized IP.
type DetailCache struct {
	entries    map[string]*entry
	mu         sync.RWMutex
	ttl        time.Duration
	maxEntries int
	logger     *logrus.Logger
	// Statistics
	hits      int64
	misses    int64
	evictions int64
	// Control
	stopCh chan struct{}
}

// NewDetailCache creates a detail cache with the given TTL and entry limit
// and starts its periodic cleanup goroutine.
func NewDetailCache(ttl time.Duration, maxEntries int, logger *logrus.Logger) *DetailCache {
	c := newDetailCache(ttl, maxEntries, logger)
	go c.cleanupLoop()
	return c
}

// NewDetailCacheNoCleanup creates a detail cache without the cleanup
// goroutine (for testing)
func NewDetailCacheNoCleanup(ttl time.Duration, maxEntries int, logger *logrus.Logger) *DetailCache {
	return newDetailCache(ttl, maxEntries, logger)
}

func newDetailCache(ttl time.Duration, maxEntries int, logger *logrus.Logger) *DetailCache {
	return &DetailCache{
		entries:    make(map[string]*entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Get retrieves the cached detail for an IP, if present and not expired.
func (c *DetailCache) Get(ip string) (*types.IPDetail, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.entries[ip]
	if !exists || time.Now().After(e.expiresAt) {
		// Expired entries are left for the cleanup loop
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	return e.detail, true
}

// Set stores a detail record, evicting the soonest-to-expire entries when
// the cache is full.
func (c *DetailCache) Set(ip string, detail *types.IPDetail) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	c.entries[ip] = &entry{
		detail:    detail,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// evictOldest removes the tenth of the cache closest to expiry. Caller
// must hold the write lock.
func (c *DetailCache) evictOldest() {
	if len(c.entries) == 0 {
		return
	}

	evictCount := c.maxEntries / 10
	if evictCount < 1 {
		evictCount = 1
	}

	type keyed struct {
		key       string
		expiresAt time.Time
	}
	ordered := make([]keyed, 0, len(c.entries))
	for key, e := range c.entries {
		ordered = append(ordered, keyed{key: key, expiresAt: e.expiresAt})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].expiresAt.Before(ordered[j].expiresAt)
	})

	for i := 0; i < evictCount && i < len(ordered); i++ {
		delete(c.entries, ordered[i].key)
		atomic.AddInt64(&c.evictions, 1)
	}
}

// cleanupLoop removes expired entries periodically until Close.
func (c *DetailCache) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *DetailCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debugf("Cleaned up %d expired detail entries", removed)
	}
}

// Stats returns cache statistics for the /stats endpoint.
func (c *DetailCache) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	evictions := atomic.LoadInt64(&c.evictions)

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return map[string]interface{}{
		"entries":     len(c.entries),
		"hits":        hits,
		"misses":      misses,
		"evictions":   evictions,
		"hit_rate":    hitRate,
		"ttl_seconds": c.ttl.Seconds(),
		"max_entries": c.maxEntries,
	}
}

// Clear removes all entries and resets the statistics.
func (c *DetailCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.evictions, 0)

	c.logger.Info("Detail cache cleared")
}

// Size returns the current number of entries.
func (c *DetailCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine.
func (c *DetailCache) Close() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
}
