// Package cache defines the read cache used for traversal results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"time"
)

// Cache is the interface for caching traversal results.
// It provides Get, Set, and Delete operations with TTL support.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns the value and true if found, or nil and false if not found.
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set stores a value in cache with TTL. A zero TTL uses the cache default.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries from cache.
	Clear(ctx context.Context) error

	// Close releases resources held by the cache.
	Close() error

	// Metrics returns cache statistics.
	Metrics() *Metrics
}

// Sized is implemented by values that can report their approximate memory footprint
type Sized interface {
	SizeBytes() int64
}

// Key derives a fixed-length cache key from an operation name and its arguments.
// Parts are length-prefixed so ("ab","c") and ("a","bc") differ.
func Key(operation string, parts ...string) string {
	h := sha256.New()
	writePart(h, operation)
	for _, p := range parts {
		writePart(h, p)
	}
	return operation + ":" + hex.EncodeToString(h.Sum(nil))
}

func writePart(h hash.Hash, s string) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

// Metrics holds cache performance statistics.
type Metrics struct {
	// Hits is the number of cache hits
	Hits uint64

	// Misses is the number of cache misses
	Misses uint64

	// KeysAdded is the number of keys added to cache
	KeysAdded uint64

	// KeysEvicted is the number of keys evicted from cache
	KeysEvicted uint64

	// CostAdded is the total cost of added entries
	CostAdded uint64

	// CostEvicted is the total cost of evicted entries
	CostEvicted uint64
}

// HitRate returns the cache hit rate (0.0 to 1.0).
func (m *Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0.0
	}
	return float64(m.Hits) / float64(total)
}
