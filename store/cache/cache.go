// Package cache provides the bounded value cache that sits in front of the
// value log.
package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCapacity is the number of values held when no capacity is given.
const DefaultCapacity = 200

// LoadFunc loads the value of key when it is not cached.
type LoadFunc[K comparable, V any] func(key K) (V, error)

// Cache is a fixed-capacity least-recently-used cache of deserialized values.
// It is safe for concurrent use. Evicted values are reloaded on demand, so the
// cache is never authoritative.
type Cache[K comparable, V any] struct {
	lru  *lru.Cache
	load LoadFunc[K, V]
}

// New creates a cache holding up to capacity values, which loads missing
// values with load.
func New[K comparable, V any](capacity int, load LoadFunc[K, V]) (*Cache[K, V], error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("cannot create value cache: %w", err)
	}
	return &Cache[K, V]{lru: c, load: load}, nil
}

// Get returns the cached value for key, loading and caching it on a miss.
// Errors from the loader are returned unchanged and nothing is cached.
func (c *Cache[K, V]) Get(key K) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v.(V), nil
	}
	v, err := c.load(key)
	if err != nil {
		return v, err
	}
	c.lru.Add(key, v)
	return v, nil
}

// Invalidate removes key from the cache if present.
func (c *Cache[K, V]) Invalidate(key K) {
	c.lru.Remove(key)
}

// Clear empties the cache.
func (c *Cache[K, V]) Clear() {
	c.lru.Purge()
}

// Len returns the number of cached values.
func (c *Cache[K, V]) Len() int {
	return c.lru.Len()
}
