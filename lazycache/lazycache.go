// Package lazycache provides a small get-or-load cache: a mapping from key
// to value, a loader invoked on miss, and an optional acceptance predicate
// deciding whether an already-cached value may satisfy a call or must be
// reloaded.
//
// Entries have no TTL and no size bound; they live until an explicit Purge.
// Storing the loader's zero/nil result is how negative caching works: a
// cache whose predicate is nil trusts cached absence, while a predicate
// like `func(v *T) bool { return v != nil }` makes every call for a
// still-absent key hit the loader again.
//
// Concurrent loads of the same key are coalesced: one goroutine runs the
// loader, the rest wait for its result. No lock is held across a load, and
// loader errors are never cached.
package lazycache

import (
	"context"
	"sync"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

type Cache[K comparable, V any] struct {
	name    string
	loader  Loader[K, V]
	accept  func(V) bool
	entries *expirable.LRU[K, V]
	loads   sync.Map
}

type load[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// New creates a cache. name labels this cache's metrics. accept may be nil,
// in which case every cached entry (including a cached absence) is trusted.
func New[K comparable, V any](name string, loader Loader[K, V], accept func(V) bool) *Cache[K, V] {
	if accept == nil {
		accept = func(V) bool { return true }
	}
	return &Cache[K, V]{
		name:   name,
		loader: loader,
		accept: accept,
		// capacity of zero means unlimited size, ttl of zero means unlimited duration
		entries: expirable.NewLRU[K, V](0, nil, 0),
	}
}

// Get returns the cached value for key, loading it if the key is uncached
// or the cached value is rejected by the acceptance predicate. The loaded
// value is cached even when it is the zero value ("confirmed absent").
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	if v, ok := c.entries.Get(key); ok && c.accept(v) {
		cacheHits.WithLabelValues(c.name).Inc()
		return v, nil
	}
	cacheMisses.WithLabelValues(c.name).Inc()

	// Coalesce concurrent loads of the same key
	ld := &load[V]{done: make(chan struct{})}
	val, loaded := c.loads.LoadOrStore(key, ld)
	if loaded {
		loadsCoalesced.WithLabelValues(c.name).Inc()
		pending := val.(*load[V])
		select {
		case <-pending.done:
			return pending.val, pending.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}

	ld.val, ld.err = c.loader(ctx, key)
	if ld.err == nil {
		c.entries.Add(key, ld.val)
	}

	// Cleanup the coalesce map, then release the waiters
	c.loads.Delete(key)
	close(ld.done)

	return ld.val, ld.err
}

// Set stores a value directly, bypassing the loader.
func (c *Cache[K, V]) Set(key K, val V) {
	c.entries.Add(key, val)
}

func (c *Cache[K, V]) Remove(key K) {
	c.entries.Remove(key)
}

func (c *Cache[K, V]) Len() int {
	return c.entries.Len()
}

// Purge drops every entry. Safe to call repeatedly; purging an empty cache
// is a no-op.
func (c *Cache[K, V]) Purge() {
	c.entries.Purge()
}
