// Package cache keeps recent upstream payloads for slow-moving reference
// data (stock list, company profiles). Entries are keyed by endpoint and
// query, never by license key.
package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chengjon/byapi-unified-client/internal/monitoring"
	"github.com/chengjon/byapi-unified-client/internal/utils"
)

const defaultTTL = 5 * time.Minute

type cachedPayload struct {
	payload  json.RawMessage
	cachedAt time.Time
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Size    int     `json:"size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Cache is an LRU cache with a per-entry TTL.
// Thread-safe. A nil *Cache is a valid, always-missing cache.
type Cache struct {
	cache   *lru.Cache[string, *cachedPayload]
	ttl     time.Duration
	mu      sync.RWMutex
	now     func() time.Time
	metrics *monitoring.Metrics

	hits   uint64
	misses uint64
}

// New creates a cache. maxSize <= 0 disables caching and returns nil.
func New(maxSize int, ttl time.Duration) (*Cache, error) {
	if maxSize <= 0 {
		return nil, nil
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	c, err := lru.New[string, *cachedPayload](maxSize)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to create lru: %w", err)
	}

	return &Cache{
		cache: c,
		ttl:   ttl,
		now:   utils.NowUTC,
	}, nil
}

// SetMetrics attaches a metrics sink for hit/miss counters.
func (c *Cache) SetMetrics(m *monitoring.Metrics) {
	if c == nil {
		return
	}
	c.metrics = m
}

// Key builds a stable cache key from an endpoint and its query parameters.
func Key(endpoint string, params map[string]string) string {
	if len(params) == 0 {
		return endpoint
	}

	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(endpoint)
	b.WriteByte('?')
	for i, k := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

func (c *Cache) miss() {
	atomic.AddUint64(&c.misses, 1)
	c.metrics.RecordCacheLookup(false)
}

// Get returns the payload stored under key.
// Returns nil, false if not found, expired, or the cache is disabled.
func (c *Cache) Get(key string) (json.RawMessage, bool) {
	if c == nil || c.cache == nil {
		return nil, false
	}

	c.mu.RLock()
	cached, ok := c.cache.Get(key)
	c.mu.RUnlock()

	if !ok {
		c.miss()
		return nil, false
	}

	if c.now().Sub(cached.cachedAt) > c.ttl {
		// Re-check under write lock so a fresh Set is not evicted.
		c.mu.Lock()
		current, stillExists := c.cache.Get(key)
		if stillExists && c.now().Sub(current.cachedAt) > c.ttl {
			c.cache.Remove(key)
		}
		c.mu.Unlock()
		c.miss()
		return nil, false
	}

	atomic.AddUint64(&c.hits, 1)
	c.metrics.RecordCacheLookup(true)
	return cached.payload, true
}

// Set stores payload under key.
func (c *Cache) Set(key string, payload json.RawMessage) {
	if c == nil || c.cache == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Add(key, &cachedPayload{
		payload:  payload,
		cachedAt: c.now(),
	})
}

// Invalidate removes one entry.
func (c *Cache) Invalidate(key string) {
	if c == nil || c.cache == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(key)
}

// InvalidateAll clears the entire cache
func (c *Cache) InvalidateAll() {
	if c == nil || c.cache == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}

// Stats returns cache statistics
func (c *Cache) Stats() Stats {
	if c == nil || c.cache == nil {
		return Stats{}
	}

	c.mu.RLock()
	size := c.cache.Len()
	c.mu.RUnlock()

	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return Stats{
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// Len returns current cache size
func (c *Cache) Len() int {
	if c == nil || c.cache == nil {
		return 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache.Len()
}
