package health

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chainwatch/chainwatch/pkg/resilience"
)

// RPCChecker probes a blockchain JSON-RPC endpoint. Reachability is binary:
// a well-formed response means healthy, anything else means down.
type RPCChecker struct {
	name     string
	endpoint string
	client   *http.Client
}

// NewRPCChecker creates a checker for the given JSON-RPC endpoint
func NewRPCChecker(name, endpoint string, timeout time.Duration) *RPCChecker {
	return &RPCChecker{
		name:     name,
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the component name
func (rc *RPCChecker) Name() string {
	return rc.name
}

// Check probes the endpoint with an eth_blockNumber call
func (rc *RPCChecker) Check(ctx context.Context) Record {
	start := time.Now()
	record := Record{LastCheck: start}

	payload := []byte(`{"jsonrpc":"2.0","method":"eth_blockNumber","params":[],"id":1}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rc.endpoint, bytes.NewReader(payload))
	if err != nil {
		record.Status = StatusDown
		record.Metadata = map[string]string{"error": err.Error()}
		return record
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := rc.client.Do(req)
	elapsed := time.Since(start)
	record.ResponseTime = &elapsed

	if err != nil {
		record.Status = StatusDown
		record.Metadata = map[string]string{"error": err.Error()}
		return record
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		record.Status = StatusHealthy
	} else {
		record.Status = StatusDown
		record.Metadata = map[string]string{
			"status_code": fmt.Sprintf("%d", resp.StatusCode),
		}
	}

	return record
}

// Pinger is the round-trip probe a storage backend exposes
type Pinger interface {
	Health(ctx context.Context) error
}

// StorageChecker measures a storage backend's round-trip latency. Latency
// below the ceiling is healthy, above it degraded; a failed round trip is
// down.
type StorageChecker struct {
	name    string
	pinger  Pinger
	ceiling time.Duration
}

// NewStorageChecker creates a checker for a storage backend
func NewStorageChecker(name string, pinger Pinger, ceiling time.Duration) *StorageChecker {
	return &StorageChecker{
		name:    name,
		pinger:  pinger,
		ceiling: ceiling,
	}
}

// Name returns the component name
func (sc *StorageChecker) Name() string {
	return sc.name
}

// Check performs one round trip against the backend
func (sc *StorageChecker) Check(ctx context.Context) Record {
	start := time.Now()
	record := Record{LastCheck: start}

	err := sc.pinger.Health(ctx)
	elapsed := time.Since(start)
	record.ResponseTime = &elapsed

	if err != nil {
		record.Status = StatusDown
		record.Metadata = map[string]string{"error": err.Error()}
		return record
	}

	if elapsed < sc.ceiling {
		record.Status = StatusHealthy
	} else {
		record.Status = StatusDegraded
		record.Metadata = map[string]string{
			"latency_ceiling": sc.ceiling.String(),
		}
	}

	return record
}

// BreakerChecker derives a proxied API's health from its circuit breaker:
// open maps to down, half-open to degraded, closed to healthy. The checker
// only reads breaker state; it never resets counters.
type BreakerChecker struct {
	service  string
	registry *resilience.Registry
}

// NewBreakerChecker creates a checker for the named upstream service
func NewBreakerChecker(registry *resilience.Registry, service string) *BreakerChecker {
	return &BreakerChecker{
		service:  service,
		registry: registry,
	}
}

// Name returns the component name
func (bc *BreakerChecker) Name() string {
	return "api:" + bc.service
}

// Check folds breaker state and counters into a health record
func (bc *BreakerChecker) Check(ctx context.Context) Record {
	record := Record{LastCheck: time.Now()}

	state := bc.registry.State(bc.service)
	switch state {
	case resilience.StateOpen:
		record.Status = StatusDown
	case resilience.StateHalfOpen:
		record.Status = StatusDegraded
	default:
		record.Status = StatusHealthy
	}

	counters := bc.registry.Counters(bc.service)
	total := counters.TotalRequests
	if total == 0 {
		total = 1
	}
	record.ErrorRate = float64(counters.Failures) / float64(total)

	record.Metadata = map[string]string{
		"breaker_state": state.String(),
		"failures":      fmt.Sprintf("%d", counters.Failures),
		"requests":      fmt.Sprintf("%d", counters.TotalRequests),
	}

	return record
}
