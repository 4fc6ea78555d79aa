package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/chainwatch/pkg/errors"
	"github.com/chainwatch/chainwatch/pkg/ratelimit"
)

func newTestLimiter(t *testing.T, cfg ratelimit.Config) *ratelimit.Limiter {
	t.Helper()
	l, err := ratelimit.New("upstream", cfg)
	require.NoError(t, err)
	return l
}

func TestFetcherSuccess(t *testing.T) {
	limiter := newTestLimiter(t, ratelimit.Config{RequestsPerSecond: 100})
	f := NewFetcher(limiter, nil, RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond})

	calls := 0
	err := f.Do(context.Background(), "key", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// The successful request was recorded against the bucket
	assert.Equal(t, 1, limiter.Stats("key").RequestCount)
}

func TestFetcherRetriesRateLimit(t *testing.T) {
	limiter := newTestLimiter(t, ratelimit.Config{RequestsPerSecond: 100})
	f := NewFetcher(limiter, nil, RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond})

	calls := 0
	err := f.Do(context.Background(), "key", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.NewRateLimitError("upstream", 20*time.Millisecond)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestFetcherBlocksBucketOnRateLimit(t *testing.T) {
	limiter := newTestLimiter(t, ratelimit.Config{RequestsPerSecond: 100})
	f := NewFetcher(limiter, nil, RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond})

	err := f.Do(context.Background(), "key", func(ctx context.Context) error {
		return errors.NewRateLimitError("upstream", time.Hour)
	})

	assert.Error(t, err)
	assert.True(t, limiter.Stats("key").Blocked)
}

func TestFetcherBreakerRejectionNotRetried(t *testing.T) {
	limiter := newTestLimiter(t, ratelimit.Config{RequestsPerSecond: 100})
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		Name: "upstream",
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})
	// Trip the breaker before fetching
	_ = breaker.Execute(context.Background(), failing)

	f := NewFetcher(limiter, breaker, RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond})

	calls := 0
	err := f.Do(context.Background(), "key", func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.True(t, IsCircuitBreakerError(err))
	assert.Equal(t, 0, calls)
}

func TestFetchGeneric(t *testing.T) {
	limiter := newTestLimiter(t, ratelimit.Config{RequestsPerSecond: 100})
	f := NewFetcher(limiter, nil, RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond})

	price, err := Fetch(context.Background(), f, "price:eth", func(ctx context.Context) (float64, error) {
		return 1234.56, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1234.56, price)
}
