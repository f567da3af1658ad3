package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/asakaida/provgraph/pkg/cache"
)

// Collector collects and aggregates metrics in process.
type Collector struct {
	// API metrics
	apiRequests sync.Map // map[string]*uint64 - method -> count
	apiErrors   sync.Map // map[string]*uint64 - method -> error count
	apiCodes    sync.Map // map[string]*uint64 - status code -> error count
	apiDuration sync.Map // map[string]*durationValue - method -> total duration in seconds

	// Traversal metrics
	traversals    sync.Map // map[string]*uint64 - operation -> count
	traversalRows sync.Map // map[string]*uint64 - operation -> total rows

	// Cache reference (optional, for querying cache-specific metrics)
	cache cache.Cache
}

// durationValue holds duration with mutex for thread-safe updates.
type durationValue struct {
	mu           sync.Mutex
	totalSeconds float64
}

// CacheMetrics holds cache performance metrics.
type CacheMetrics struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	KeysCurrent int64
	MemoryBytes int64
	Evictions   uint64
}

// APIMetrics holds API request metrics.
type APIMetrics struct {
	RequestCounts        map[string]uint64
	ErrorCounts          map[string]uint64
	ErrorCodeCounts      map[string]uint64 // keyed by gRPC status code name
	TotalDurationSeconds map[string]float64
}

// TraversalMetrics holds per-operation traversal counts.
type TraversalMetrics struct {
	Calls map[string]uint64
	Rows  map[string]uint64
}

// sizedCache is implemented by caches that can report their occupancy
type sizedCache interface {
	Len() int
	Size() int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetCache sets the cache instance for collecting cache metrics.
func (c *Collector) SetCache(cache cache.Cache) {
	c.cache = cache
}

// RecordRequest records an API request.
func (c *Collector) RecordRequest(method string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.apiRequests, method), 1)
}

// RecordError records an API error and the status code it carried.
func (c *Collector) RecordError(method, code string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.apiErrors, method), 1)
	atomic.AddUint64(c.getOrCreateCounter(&c.apiCodes, code), 1)
}

// RecordDuration records the duration of an API call in seconds.
func (c *Collector) RecordDuration(method string, durationSeconds float64) {
	val, _ := c.apiDuration.LoadOrStore(method, &durationValue{})
	dv := val.(*durationValue)

	dv.mu.Lock()
	dv.totalSeconds += durationSeconds
	dv.mu.Unlock()
}

// ObserveTraversal records one traversal and the number of rows it returned.
// Cache hits are counted by the cache itself.
func (c *Collector) ObserveTraversal(operation string, rows int, cached bool) {
	atomic.AddUint64(c.getOrCreateCounter(&c.traversals, operation), 1)
	atomic.AddUint64(c.getOrCreateCounter(&c.traversalRows, operation), uint64(rows))
}

// GetCacheMetrics returns current cache metrics.
func (c *Collector) GetCacheMetrics() *CacheMetrics {
	if c.cache == nil {
		return &CacheMetrics{}
	}

	metrics := c.cache.Metrics()
	if metrics == nil {
		return &CacheMetrics{}
	}

	result := &CacheMetrics{
		Hits:      metrics.Hits,
		Misses:    metrics.Misses,
		HitRate:   metrics.HitRate(),
		Evictions: metrics.KeysEvicted,
	}
	if sc, ok := c.cache.(sizedCache); ok {
		result.KeysCurrent = int64(sc.Len())
		result.MemoryBytes = sc.Size()
	}
	return result
}

// GetAPIMetrics returns current API metrics.
func (c *Collector) GetAPIMetrics() *APIMetrics {
	result := &APIMetrics{
		RequestCounts:        loadCounters(&c.apiRequests),
		ErrorCounts:          loadCounters(&c.apiErrors),
		ErrorCodeCounts:      loadCounters(&c.apiCodes),
		TotalDurationSeconds: make(map[string]float64),
	}

	c.apiDuration.Range(func(key, value interface{}) bool {
		dv := value.(*durationValue)
		dv.mu.Lock()
		result.TotalDurationSeconds[key.(string)] = dv.totalSeconds
		dv.mu.Unlock()
		return true
	})
	return result
}

// GetTraversalMetrics returns current traversal metrics.
func (c *Collector) GetTraversalMetrics() *TraversalMetrics {
	return &TraversalMetrics{
		Calls: loadCounters(&c.traversals),
		Rows:  loadCounters(&c.traversalRows),
	}
}

// getOrCreateCounter gets or creates a counter for the given key.
func (c *Collector) getOrCreateCounter(m *sync.Map, key string) *uint64 {
	val, _ := m.LoadOrStore(key, new(uint64))
	return val.(*uint64)
}

func loadCounters(m *sync.Map) map[string]uint64 {
	out := make(map[string]uint64)
	m.Range(func(key, value interface{}) bool {
		out[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})
	return out
}
