// Package memorycache is an in-process LRU implementation of cache.Cache.
package memorycache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/asakaida/provgraph/pkg/cache"
)

// entryOverhead approximates the bookkeeping cost of one entry in bytes
const entryOverhead = 100

// entry represents a cache entry with value and metadata
type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
	size      int64 // Approximate memory size in bytes
}

// Cache implements an LRU cache bounded by approximate byte size, with TTL support.
type Cache struct {
	mu sync.Mutex

	items     map[string]*list.Element // key -> list element
	evictList *list.List               // front = most recent, back = least recent

	maxSize int64
	ttl     time.Duration
	now     func() time.Time

	currentSize int64

	metrics *cache.Metrics // nil when metrics are disabled
}

// Config holds configuration for the memory cache.
type Config struct {
	// MaxSizeBytes is the maximum total size of cached items in bytes.
	// When this limit is exceeded, least recently used items are evicted.
	MaxSizeBytes int64

	// DefaultTTL applies when Set is called with a zero TTL.
	DefaultTTL time.Duration

	// EnableMetrics enables collection of cache metrics.
	EnableMetrics bool
}

// New creates a new memory cache with the given configuration.
func New(config *Config) (*Cache, error) {
	c := &Cache{
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		maxSize:   config.MaxSizeBytes,
		ttl:       config.DefaultTTL,
		now:       time.Now,
	}
	if config.EnableMetrics {
		c.metrics = &cache.Metrics{}
	}
	return c, nil
}

var _ cache.Cache = (*Cache)(nil)

// Get retrieves a value from cache and marks it most recently used.
func (c *Cache) Get(ctx context.Context, key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		c.miss()
		return nil, false
	}

	ent := elem.Value.(*entry)
	if c.now().After(ent.expiresAt) {
		c.removeElement(elem)
		c.miss()
		return nil, false
	}

	c.evictList.MoveToFront(elem)
	if c.metrics != nil {
		c.metrics.Hits++
	}
	return ent.value, true
}

// Set stores a value in cache with the specified TTL.
// Values larger than the whole cache are not stored.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	size := entrySize(key, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.removeElement(elem)
	}
	if size > c.maxSize {
		return nil
	}

	ent := &entry{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(ttl),
		size:      size,
	}
	c.items[key] = c.evictList.PushFront(ent)
	c.currentSize += size
	if c.metrics != nil {
		c.metrics.KeysAdded++
		c.metrics.CostAdded += uint64(size)
	}

	for c.currentSize > c.maxSize {
		oldest := c.evictList.Back()
		if oldest == nil {
			break
		}
		if c.metrics != nil {
			c.metrics.KeysEvicted++
			c.metrics.CostEvicted += uint64(oldest.Value.(*entry).size)
		}
		c.removeElement(oldest)
	}
	return nil
}

// Delete removes a value from cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.removeElement(elem)
	}
	return nil
}

// Clear removes all entries from cache.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.evictList.Init()
	c.currentSize = 0
	return nil
}

// Close releases resources (no-op for memory cache).
func (c *Cache) Close() error {
	return nil
}

// Metrics returns a copy of the cache statistics.
func (c *Cache) Metrics() *cache.Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metrics == nil {
		return &cache.Metrics{}
	}
	m := *c.metrics
	return &m
}

// Len returns the current number of items in cache.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Size returns the current total size in bytes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

func (c *Cache) miss() {
	if c.metrics != nil {
		c.metrics.Misses++
	}
}

// removeElement removes an element from cache (must be called with lock held).
func (c *Cache) removeElement(elem *list.Element) {
	c.evictList.Remove(elem)
	ent := elem.Value.(*entry)
	delete(c.items, ent.key)
	c.currentSize -= ent.size
}

func entrySize(key string, value interface{}) int64 {
	size := int64(entryOverhead + len(key))
	if s, ok := value.(cache.Sized); ok {
		size += s.SizeBytes()
	}
	return size
}
