package cache

import (
	"context"
	"fmt"
	"time"
)

// CacheKey generates cache keys with consistent prefixes
type CacheKey struct {
	Prefix string
	ID     string
}

// String returns the formatted cache key
func (ck CacheKey) String() string {
	return fmt.Sprintf("%s:%s", ck.Prefix, ck.ID)
}

// Through wraps a query function with a read-through cache. A hit returns
// the cached value verbatim. A miss runs the query synchronously, returns
// the fresh result, and persists it in the background so the caller never
// waits on the write.
func Through[V any](ctx context.Context, c *Cache[V], key string, ttl time.Duration, query func(context.Context) (V, error)) (V, error) {
	if cached, ok := c.Get(key); ok {
		return cached, nil
	}

	fresh, err := query(ctx)
	if err != nil {
		var zero V
		return zero, err
	}

	go c.Set(key, fresh, ttl)

	return fresh, nil
}

// CachedQuery binds a key-derivation function, a TTL and an underlying
// query into a reusable read-through lookup.
type CachedQuery[A comparable, V any] struct {
	cache *Cache[V]
	ttl   time.Duration
	keyFn func(A) string
	query func(context.Context, A) (V, error)
}

// NewCachedQuery creates a read-through wrapper around query
func NewCachedQuery[A comparable, V any](c *Cache[V], ttl time.Duration, keyFn func(A) string, query func(context.Context, A) (V, error)) *CachedQuery[A, V] {
	return &CachedQuery[A, V]{
		cache: c,
		ttl:   ttl,
		keyFn: keyFn,
		query: query,
	}
}

// Get resolves arg through the cache
func (q *CachedQuery[A, V]) Get(ctx context.Context, arg A) (V, error) {
	return Through(ctx, q.cache, q.keyFn(arg), q.ttl, func(ctx context.Context) (V, error) {
		return q.query(ctx, arg)
	})
}
