package plan

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultCacheCapacity bounds the plan cache when no capacity is configured.
const DefaultCacheCapacity = 512

// CacheMetrics is a point-in-time snapshot of cache behavior.
type CacheMetrics struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Evictions     uint64 `json:"evictions"`
	Invalidations uint64 `json:"invalidations"`
	Size          int    `json:"size"`
}

// Cache holds compiled plans keyed by shape. Recency is tracked with an
// atomic access clock so concurrent readers share an RLock; eviction and
// invalidation take the write lock. The cache implements
// schema.InvalidationListener, dropping every plan of an object whose schema
// changed.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string]*cacheEntry
	byObject map[string]map[string]struct{}

	clock         atomic.Uint64
	hits          atomic.Uint64
	misses        atomic.Uint64
	evictions     atomic.Uint64
	invalidations atomic.Uint64

	logger *zap.Logger
}

type cacheEntry struct {
	plan     *Plan
	lastUsed atomic.Uint64
}

// NewCache creates a plan cache bounded to capacity entries.
func NewCache(capacity int, logger *zap.Logger) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*cacheEntry),
		byObject: make(map[string]map[string]struct{}),
		logger:   logger,
	}
}

// Get returns the cached plan for key, refreshing its recency.
func (c *Cache) Get(key string) (*Plan, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	entry.lastUsed.Store(c.clock.Add(1))
	c.hits.Add(1)
	return entry.plan, true
}

// Put stores a plan under its key, evicting the least recently used entry
// when the cache is full.
func (c *Cache) Put(plan *Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[plan.Key]; ok {
		existing.plan = plan
		existing.lastUsed.Store(c.clock.Add(1))
		return
	}
	if len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	entry := &cacheEntry{plan: plan}
	entry.lastUsed.Store(c.clock.Add(1))
	c.entries[plan.Key] = entry
	keys, ok := c.byObject[plan.Object]
	if !ok {
		keys = make(map[string]struct{})
		c.byObject[plan.Object] = keys
	}
	keys[plan.Key] = struct{}{}
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestUse uint64
	first := true
	for key, entry := range c.entries {
		use := entry.lastUsed.Load()
		if first || use < oldestUse {
			first = false
			oldestKey = key
			oldestUse = use
		}
	}
	if first {
		return
	}
	c.removeLocked(oldestKey)
	c.evictions.Add(1)
	c.logger.Debug("evicted plan", zap.String("key", oldestKey))
}

func (c *Cache) removeLocked(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	if keys, ok := c.byObject[entry.plan.Object]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.byObject, entry.plan.Object)
		}
	}
}

// Invalidate drops every plan compiled for object and returns how many were
// dropped.
func (c *Cache) Invalidate(object string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, ok := c.byObject[object]
	if !ok {
		return 0
	}
	dropped := 0
	for key := range keys {
		delete(c.entries, key)
		dropped++
	}
	delete(c.byObject, object)
	c.invalidations.Add(uint64(dropped))
	c.logger.Debug("invalidated plans", zap.String("object", object), zap.Int("dropped", dropped))
	return dropped
}

// ObjectInvalidated implements schema.InvalidationListener.
func (c *Cache) ObjectInvalidated(object string) {
	c.Invalidate(object)
}

// Len returns the number of cached plans.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Metrics returns a snapshot of cache counters.
func (c *Cache) Metrics() CacheMetrics {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	return CacheMetrics{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
		Invalidations: c.invalidations.Load(),
		Size:          size,
	}
}
