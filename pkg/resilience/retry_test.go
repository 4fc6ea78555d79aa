package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/chainwatch/pkg/errors"
)

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond})

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustsBudget(t *testing.T) {
	r := NewRetrier(RetryConfig{
		MaxRetries:        2,
		InitialDelay:      time.Millisecond,
		BackoffMultiplier: 2.0,
	})

	calls := 0
	wantErr := errors.NewTimeoutError("fetch")
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	})

	// MaxRetries retries after the first attempt
	assert.Equal(t, 3, calls)
	assert.Equal(t, wantErr, err)
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond})

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.NewExternalError("upstream", "temporary failure")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond})

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.NewValidationError("bad input")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryStopsOnBreakerRejection(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond})

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return &CircuitBreakerError{Name: "svc", State: StateOpen}
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryContextCancellation(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxRetries: 10, InitialDelay: 50 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := r.Execute(ctx, func(ctx context.Context) error {
		calls++
		return errors.NewTimeoutError("fetch")
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestRetryOnRetryCallback(t *testing.T) {
	var attempts []int
	r := NewRetrier(RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
		},
	})

	_ = r.Execute(context.Background(), func(ctx context.Context) error {
		return errors.NewTimeoutError("fetch")
	})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestCalculateDelayBackoff(t *testing.T) {
	r := NewRetrier(RetryConfig{
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	})

	assert.Equal(t, 100*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 400*time.Millisecond, r.calculateDelay(3))
	// Capped at MaxDelay
	assert.Equal(t, time.Second, r.calculateDelay(10))
}

func TestExecuteWithResult(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond})

	calls := 0
	result, err := ExecuteWithResult(context.Background(), r, func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.NewTimeoutError("fetch")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestRateLimitErrorIsRetryable(t *testing.T) {
	assert.True(t, DefaultRetryableErrors(errors.NewRateLimitError("coingecko", time.Second)))
	assert.True(t, DefaultRetryableErrors(errors.NewTimeoutError("fetch")))
	assert.False(t, DefaultRetryableErrors(errors.NewNotFoundError("metric")))
	assert.False(t, DefaultRetryableErrors(nil))
}
