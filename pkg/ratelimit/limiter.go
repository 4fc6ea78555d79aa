package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/chainwatch/chainwatch/pkg/errors"
	"github.com/chainwatch/chainwatch/pkg/logging"
)

// DefaultKey is the bucket used when callers don't supply a logical key.
const DefaultKey = "default"

// defaultBlockDuration is applied when an upstream rejection carries no
// retry-after hint.
const defaultBlockDuration = time.Minute

// Config holds the request budget for one upstream service.
// RequestsPerMinute and RequestsPerSecond are mutually exclusive; the window
// is 60s for per-minute budgets and 1s for per-second budgets.
type Config struct {
	RequestsPerMinute int
	RequestsPerSecond int
	MinDelay          time.Duration
}

// Stats is a point-in-time snapshot of one bucket
type Stats struct {
	Service      string        `json:"service"`
	Key          string        `json:"key"`
	RequestCount int           `json:"request_count"`
	MaxRequests  int           `json:"max_requests"`
	Window       time.Duration `json:"window"`
	WindowStart  time.Time     `json:"window_start"`
	LastRequest  time.Time     `json:"last_request"`
	Blocked      bool          `json:"blocked"`
	BlockUntil   time.Time     `json:"block_until,omitempty"`
}

// bucket holds the mutable rate-limit state for one (service, key) pair.
// Each bucket has its own mutex so callers on different keys never contend.
type bucket struct {
	mu          sync.Mutex
	lastRequest time.Time
	count       int
	windowStart time.Time
	blocked     bool
	blockUntil  time.Time
	// changed is closed and replaced whenever the bucket state moves in a
	// way that could shorten a waiter's sleep (reset, new block window).
	changed chan struct{}
}

// Limiter provides per-key admission control for one upstream service:
// a counted window, a minimum inter-request delay, and an explicit block
// state driven by upstream 429 responses.
type Limiter struct {
	service     string
	window      time.Duration
	maxRequests int
	minDelay    time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	now    func() time.Time
	logger *logging.Logger
}

// New creates a limiter for the given service
func New(service string, cfg Config) (*Limiter, error) {
	if cfg.RequestsPerMinute > 0 && cfg.RequestsPerSecond > 0 {
		return nil, errors.NewValidationError("requests per minute and per second are mutually exclusive")
	}

	l := &Limiter{
		service:  service,
		minDelay: cfg.MinDelay,
		buckets:  make(map[string]*bucket),
		now:      time.Now,
		logger:   logging.GetLogger(),
	}

	switch {
	case cfg.RequestsPerMinute > 0:
		l.window = time.Minute
		l.maxRequests = cfg.RequestsPerMinute
	case cfg.RequestsPerSecond > 0:
		l.window = time.Second
		l.maxRequests = cfg.RequestsPerSecond
	default:
		return nil, errors.NewValidationError("a request budget is required")
	}

	return l, nil
}

// Service returns the upstream service this limiter guards
func (l *Limiter) Service() string {
	return l.service
}

func (l *Limiter) bucket(key string) *bucket {
	if key == "" {
		key = DefaultKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			windowStart: l.now(),
			changed:     make(chan struct{}),
		}
		l.buckets[key] = b
	}
	return b
}

// allowLocked reports whether a request may proceed now, clearing expired
// block and window state on the way. Callers must hold b.mu.
func (l *Limiter) allowLocked(b *bucket, now time.Time) bool {
	if b.blocked {
		if now.Before(b.blockUntil) {
			return false
		}
		b.blocked = false
		b.blockUntil = time.Time{}
	}

	if now.Sub(b.windowStart) > l.window {
		b.windowStart = now
		b.count = 0
	}

	if b.count >= l.maxRequests {
		return false
	}

	if !b.lastRequest.IsZero() && now.Sub(b.lastRequest) < l.minDelay {
		return false
	}

	return true
}

// remainingWaitLocked computes the exact time until the bucket could admit a
// request, so waiters sleep once instead of polling. Callers must hold b.mu.
func (l *Limiter) remainingWaitLocked(b *bucket, now time.Time) time.Duration {
	if b.blocked {
		return b.blockUntil.Sub(now)
	}

	var wait time.Duration
	if b.count >= l.maxRequests {
		wait = b.windowStart.Add(l.window).Sub(now)
	}
	if !b.lastRequest.IsZero() {
		if d := b.lastRequest.Add(l.minDelay).Sub(now); d > wait {
			wait = d
		}
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

// Allow reports whether a request on key may proceed right now. It does not
// reserve the slot; callers that proceed must follow up with RecordRequest.
func (l *Limiter) Allow(key string) bool {
	b := l.bucket(key)

	b.mu.Lock()
	defer b.mu.Unlock()
	return l.allowLocked(b, l.now())
}

// WaitForSlot suspends the caller until a request on key would be admitted
// or ctx is cancelled. The wait duration is computed from bucket state, and
// the admission check is repeated after every wake-up because concurrent
// callers may have consumed the slot.
func (l *Limiter) WaitForSlot(ctx context.Context, key string) error {
	b := l.bucket(key)

	for {
		b.mu.Lock()
		now := l.now()
		if l.allowLocked(b, now) {
			b.mu.Unlock()
			return nil
		}
		wait := l.remainingWaitLocked(b, now)
		changed := b.changed
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// RecordRequest marks a request as sent on key
func (l *Limiter) RecordRequest(key string) {
	b := l.bucket(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	if now.Sub(b.windowStart) > l.window {
		b.windowStart = now
		b.count = 0
	}
	b.lastRequest = now
	b.count++
}

// RecordRateLimitError places the key's bucket into the blocked state after
// an upstream 429. A zero retryAfter falls back to the default block window.
func (l *Limiter) RecordRateLimitError(key string, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = defaultBlockDuration
	}

	b := l.bucket(key)

	b.mu.Lock()
	b.blocked = true
	b.blockUntil = l.now().Add(retryAfter)
	l.notifyLocked(b)
	b.mu.Unlock()

	l.logger.Warn("Upstream rate limit hit, blocking bucket",
		"upstream", l.service,
		"limit_key", key,
		"block_for", retryAfter.String(),
	)
}

// notifyLocked wakes all waiters so they recompute their sleep
func (l *Limiter) notifyLocked(b *bucket) {
	close(b.changed)
	b.changed = make(chan struct{})
}

// Stats returns a snapshot of the bucket for key
func (l *Limiter) Stats(key string) Stats {
	if key == "" {
		key = DefaultKey
	}
	b := l.bucket(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Service:      l.service,
		Key:          key,
		RequestCount: b.count,
		MaxRequests:  l.maxRequests,
		Window:       l.window,
		WindowStart:  b.windowStart,
		LastRequest:  b.lastRequest,
		Blocked:      b.blocked,
		BlockUntil:   b.blockUntil,
	}
}

// Keys returns the keys with live buckets
func (l *Limiter) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, len(l.buckets))
	for key := range l.buckets {
		keys = append(keys, key)
	}
	return keys
}

// Reset clears the bucket for key back to a fresh window
func (l *Limiter) Reset(key string) {
	if key == "" {
		key = DefaultKey
	}
	b := l.bucket(key)

	b.mu.Lock()
	b.lastRequest = time.Time{}
	b.count = 0
	b.windowStart = l.now()
	b.blocked = false
	b.blockUntil = time.Time{}
	l.notifyLocked(b)
	b.mu.Unlock()
}

// ResetAll clears every bucket
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	keys := make([]string, 0, len(l.buckets))
	for key := range l.buckets {
		keys = append(keys, key)
	}
	l.mu.Unlock()

	for _, key := range keys {
		l.Reset(key)
	}
}

// WithClock overrides the limiter's time source. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}
