// Package resilience provides retry logic, circuit breaking, and the
// rate-limited fetch composition used for every outbound call chainwatch
// makes to an upstream API.
//
// This package implements the following patterns:
//
// # Retry with Exponential Backoff
//
// The retry mechanism automatically retries failed operations with
// exponential backoff and jitter to avoid thundering herd problems.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return riskyOperation(ctx)
//	})
//
// # Circuit Breaker Pattern
//
// The circuit breaker pattern prevents cascading failures by monitoring
// the failure rate of external service calls and temporarily blocking
// requests when the failure rate exceeds a threshold. Breakers live in a
// Registry keyed by service name; the health monitor reads breaker state
// through the registry to derive component health.
//
//	registry := resilience.NewRegistry(resilience.CircuitBreakerConfig{
//		MaxRequests: 3,
//		Interval:    time.Minute,
//		Timeout:     30 * time.Second,
//	})
//	cb := registry.Get("etherscan")
//
// # Rate-Limited Fetch
//
// Fetcher chains admission control, circuit breaking and retries for one
// upstream. A rate-limited response blocks the limiter bucket using the
// upstream's retry-after hint and re-enters the retry loop; once retries
// are exhausted the last error reaches the caller.
//
//	fetcher := resilience.NewFetcher(limiter, registry.Get("etherscan"), retryConfig)
//	price, err := resilience.Fetch(ctx, fetcher, "price:ETH", func(ctx context.Context) (float64, error) {
//		return client.TokenPrice(ctx, "ETH")
//	})
//
// The package is designed to be thread-safe and can handle high-concurrency
// scenarios typical of request fan-out against quota-limited APIs.
package resilience
