package cache

import (
	"encoding/json"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chainwatch/chainwatch/pkg/errors"
	"github.com/chainwatch/chainwatch/pkg/logging"
)

// Key namespaces used on the query path. The namespace is the part of the
// key before the first ':' and feeds the per-namespace stats view.
const (
	PrefixPrice    = "price"
	PrefixGas      = "gas"
	PrefixTx       = "tx"
	PrefixBalance  = "balance"
	PrefixContract = "contract"
)

// Entry is one cached value with its expiry bookkeeping
type Entry[V any] struct {
	Value     V         `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stats is a point-in-time summary of cache contents
type Stats struct {
	Total         int            `json:"total"`
	Active        int            `json:"active"`
	Expired       int            `json:"expired"`
	AvgValueBytes float64        `json:"avg_value_bytes"`
	OldestCreated *time.Time     `json:"oldest_created,omitempty"`
	NewestCreated *time.Time     `json:"newest_created,omitempty"`
	Namespaces    map[string]int `json:"namespaces"`
}

// Cache is an in-memory TTL cache over serializable payloads. Reads treat
// expired entries as absent and hand physical deletion to a background
// goroutine; a periodic Cleanup sweep removes whatever lazy expiry missed.
type Cache[V any] struct {
	mu         sync.RWMutex
	entries    map[string]*Entry[V]
	defaultTTL time.Duration
	now        func() time.Time
	logger     *logging.Logger
	hits       *prometheus.CounterVec
	misses     *prometheus.CounterVec
}

// New creates a cache with the given default TTL
func New[V any](defaultTTL time.Duration) *Cache[V] {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &Cache[V]{
		entries:    make(map[string]*Entry[V]),
		defaultTTL: defaultTTL,
		now:        time.Now,
		logger:     logging.GetLogger(),
	}
}

// Set upserts a value. A zero ttl uses the cache default. Updates refresh
// the expiry and UpdatedAt but keep the original CreatedAt.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		existing.Value = value
		existing.ExpiresAt = now.Add(ttl)
		existing.UpdatedAt = now
		return
	}

	c.entries[key] = &Entry[V]{
		Value:     value,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Get returns the value for key. Expired entries are reported as absent and
// scheduled for deletion without blocking the read.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.RLock()
	entry, ok := c.entries[key]
	if !ok {
		c.mu.RUnlock()
		c.recordMiss(key)
		return zero, false
	}
	// Set mutates entries in place under the write lock, so the fields must
	// be copied before the read lock is released
	value := entry.Value
	expiresAt := entry.ExpiresAt
	c.mu.RUnlock()

	if !expiresAt.After(c.now()) {
		go c.deleteIfExpired(key, expiresAt)
		c.recordMiss(key)
		return zero, false
	}

	c.recordHit(key)
	return value, true
}

// deleteIfExpired removes key only if it still carries the expiry observed
// by the reader, so a concurrent Set is never clobbered.
func (c *Cache[V]) deleteIfExpired(key string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok && entry.ExpiresAt.Equal(expiresAt) {
		delete(c.entries, key)
	}
}

// Invalidate removes key unconditionally
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidatePattern removes every entry whose full key matches the glob
// pattern ('*' any run, '?' one character) and returns the removed count.
// A malformed pattern is a configuration error and fails fast.
func (c *Cache[V]) InvalidatePattern(pattern string) (int, error) {
	// Validate before touching any entry so a bad pattern deletes nothing
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, errors.NewValidationError("malformed cache invalidation pattern").
			WithDetail("pattern", pattern).WithCause(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		matched, err := path.Match(pattern, key)
		if err != nil {
			return removed, errors.NewValidationError("malformed cache invalidation pattern").
				WithDetail("pattern", pattern).WithCause(err)
		}
		if matched {
			delete(c.entries, key)
			removed++
		}
	}

	return removed, nil
}

// Cleanup removes every expired entry and returns the removed count
func (c *Cache[V]) Cleanup() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if !entry.ExpiresAt.After(now) {
			delete(c.entries, key)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug("Cache cleanup removed expired entries", "removed", removed)
	}

	return removed
}

// Len returns the number of entries, expired or not
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats summarizes cache contents without mutating anything
func (c *Cache[V]) Stats() Stats {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{
		Total:      len(c.entries),
		Namespaces: make(map[string]int),
	}

	var totalBytes int
	for key, entry := range c.entries {
		if entry.ExpiresAt.After(now) {
			stats.Active++
		} else {
			stats.Expired++
		}

		if data, err := json.Marshal(entry.Value); err == nil {
			totalBytes += len(data)
		}

		namespace, _, _ := strings.Cut(key, ":")
		stats.Namespaces[namespace]++

		created := entry.CreatedAt
		if stats.OldestCreated == nil || created.Before(*stats.OldestCreated) {
			oldest := created
			stats.OldestCreated = &oldest
		}
		if stats.NewestCreated == nil || created.After(*stats.NewestCreated) {
			newest := created
			stats.NewestCreated = &newest
		}
	}

	if stats.Total > 0 {
		stats.AvgValueBytes = float64(totalBytes) / float64(stats.Total)
	}

	return stats
}

// WithClock overrides the cache's time source. Intended for tests.
func (c *Cache[V]) WithClock(now func() time.Time) *Cache[V] {
	c.now = now
	return c
}

// WithCounters attaches hit/miss counters labeled by key namespace
func (c *Cache[V]) WithCounters(hits, misses *prometheus.CounterVec) *Cache[V] {
	c.hits = hits
	c.misses = misses
	return c
}

func (c *Cache[V]) recordHit(key string) {
	if c.hits != nil {
		namespace, _, _ := strings.Cut(key, ":")
		c.hits.WithLabelValues(namespace).Inc()
	}
}

func (c *Cache[V]) recordMiss(key string) {
	if c.misses != nil {
		namespace, _, _ := strings.Cut(key, ":")
		c.misses.WithLabelValues(namespace).Inc()
	}
}
