package resilience

import (
	"context"
	"time"

	"github.com/chainwatch/chainwatch/pkg/errors"
	"github.com/chainwatch/chainwatch/pkg/logging"
	"github.com/chainwatch/chainwatch/pkg/metrics"
	"github.com/chainwatch/chainwatch/pkg/ratelimit"
)

// Fetcher composes the rate limiter, circuit breaker and retrier for one
// upstream service. Every attempt waits for an admission slot before the
// call goes out; a rate-limited response feeds the upstream's cool-off hint
// back into the limiter and re-enters the retry loop.
type Fetcher struct {
	limiter *ratelimit.Limiter
	breaker *CircuitBreaker
	retrier *Retrier
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// NewFetcher creates a fetcher for the limiter's service
func NewFetcher(limiter *ratelimit.Limiter, breaker *CircuitBreaker, retryConfig RetryConfig) *Fetcher {
	return &Fetcher{
		limiter: limiter,
		breaker: breaker,
		retrier: NewRetrier(retryConfig),
		logger:  logging.GetLogger(),
	}
}

// WithMetrics attaches fetch/wait/block instrumentation
func (f *Fetcher) WithMetrics(m *metrics.Metrics) *Fetcher {
	f.metrics = m
	return f
}

// Service returns the upstream service this fetcher calls
func (f *Fetcher) Service() string {
	return f.limiter.Service()
}

// Do executes fn against the upstream under the given rate-limit key.
// Rate-limit exhaustion is waited out, upstream 429s block the key's bucket
// and are retried with backoff, and the last error propagates once retries
// are spent.
func (f *Fetcher) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	service := f.limiter.Service()

	return f.retrier.Execute(ctx, func(ctx context.Context) error {
		waitStart := time.Now()
		if err := f.limiter.WaitForSlot(ctx, key); err != nil {
			return err
		}
		if f.metrics != nil {
			f.metrics.RateLimitWaits.WithLabelValues(service).Observe(time.Since(waitStart).Seconds())
		}

		f.limiter.RecordRequest(key)

		callStart := time.Now()
		err := f.call(ctx, fn)
		elapsed := time.Since(callStart)

		if err == nil {
			if f.metrics != nil {
				f.metrics.ObserveFetch(service, "ok", elapsed)
			}
			return nil
		}

		if rlErr, ok := errors.AsRateLimit(err); ok {
			f.limiter.RecordRateLimitError(key, rlErr.RetryAfter)
			if f.metrics != nil {
				f.metrics.RateLimitBlocks.WithLabelValues(service).Inc()
			}
		}

		if f.metrics != nil {
			f.metrics.ObserveFetch(service, "error", elapsed)
			f.metrics.RetryAttempts.WithLabelValues(service).Inc()
		}

		f.logger.LogFetchEvent(ctx, "fetch_failed", service, key, logging.Fields{
			"error": err.Error(),
		})

		return err
	})
}

func (f *Fetcher) call(ctx context.Context, fn func(context.Context) error) error {
	if f.breaker == nil {
		return fn(ctx)
	}
	return f.breaker.Execute(ctx, fn)
}

// Fetch executes fn through the fetcher and returns its result
func Fetch[T any](ctx context.Context, f *Fetcher, key string, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := f.Do(ctx, key, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}
