package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/chainwatch/pkg/errors"
	"github.com/chainwatch/chainwatch/pkg/resilience"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*Record)}
}

func (s *memStore) Upsert(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Component] = record
	return nil
}

func (s *memStore) get(component string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[component]
}

type staticChecker struct {
	name   string
	status Status
}

func (c staticChecker) Name() string { return c.name }

func (c staticChecker) Check(ctx context.Context) Record {
	return Record{Status: c.status, LastCheck: time.Now()}
}

type panicChecker struct{}

func (panicChecker) Name() string { return "panicky" }

func (panicChecker) Check(ctx context.Context) Record {
	panic("probe exploded")
}

func TestRunChecksUpsertsRecords(t *testing.T) {
	store := newMemStore()
	m := NewMonitor(store)
	m.Register(staticChecker{name: "db", status: StatusHealthy})
	m.Register(staticChecker{name: "rpc", status: StatusDegraded})

	require.NoError(t, m.RunChecks(context.Background()))

	assert.Equal(t, StatusHealthy, store.get("db").Status)
	assert.Equal(t, StatusDegraded, store.get("rpc").Status)
}

func TestRunChecksIsolatesPanics(t *testing.T) {
	store := newMemStore()
	m := NewMonitor(store)
	m.Register(panicChecker{})
	m.Register(staticChecker{name: "db", status: StatusHealthy})

	require.NoError(t, m.RunChecks(context.Background()))

	// The panicking probe did not prevent the healthy one
	assert.NotNil(t, store.get("db"))
	assert.Nil(t, store.get("panicky"))
}

func TestRPCCheckerHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewRPCChecker("chain_rpc", server.URL, time.Second)
	record := checker.Check(context.Background())

	assert.Equal(t, StatusHealthy, record.Status)
	require.NotNil(t, record.ResponseTime)
}

func TestRPCCheckerDownOnErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	checker := NewRPCChecker("chain_rpc", server.URL, time.Second)
	record := checker.Check(context.Background())

	assert.Equal(t, StatusDown, record.Status)
	assert.Equal(t, "502", record.Metadata["status_code"])
}

func TestRPCCheckerDownOnUnreachable(t *testing.T) {
	checker := NewRPCChecker("chain_rpc", "http://127.0.0.1:1", 100*time.Millisecond)
	record := checker.Check(context.Background())

	assert.Equal(t, StatusDown, record.Status)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Health(ctx context.Context) error { return f(ctx) }

func TestStorageCheckerStatuses(t *testing.T) {
	healthy := NewStorageChecker("db", pingFunc(func(ctx context.Context) error {
		return nil
	}), time.Second)
	assert.Equal(t, StatusHealthy, healthy.Check(context.Background()).Status)

	slow := NewStorageChecker("db", pingFunc(func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	}), time.Millisecond)
	assert.Equal(t, StatusDegraded, slow.Check(context.Background()).Status)

	down := NewStorageChecker("db", pingFunc(func(ctx context.Context) error {
		return errors.NewInternalError("connection refused")
	}), time.Second)
	record := down.Check(context.Background())
	assert.Equal(t, StatusDown, record.Status)
	assert.NotEmpty(t, record.Metadata["error"])
}

func TestBreakerCheckerMapsStates(t *testing.T) {
	registry := resilience.NewRegistry(resilience.CircuitBreakerConfig{
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})

	checker := NewBreakerChecker(registry, "coingecko")
	assert.Equal(t, "api:coingecko", checker.Name())

	// Closed maps to healthy
	record := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, record.Status)

	// One failure trips the breaker; open maps to down
	_ = registry.Get("coingecko").Execute(context.Background(), func(ctx context.Context) error {
		return errors.NewExternalError("coingecko", "boom")
	})
	record = checker.Check(context.Background())
	assert.Equal(t, StatusDown, record.Status)
	assert.Equal(t, "open", record.Metadata["breaker_state"])
}

func TestBreakerCheckerErrorRate(t *testing.T) {
	registry := resilience.NewRegistry(resilience.CircuitBreakerConfig{
		ReadyToTrip: func(counts resilience.Counts) bool { return false },
	})

	cb := registry.Get("etherscan")
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.NewExternalError("etherscan", "boom")
	})

	checker := NewBreakerChecker(registry, "etherscan")
	record := checker.Check(context.Background())

	assert.InDelta(t, 0.5, record.ErrorRate, 0.001)
}

func TestGaugeValue(t *testing.T) {
	assert.Equal(t, 1.0, StatusHealthy.gaugeValue())
	assert.Equal(t, 0.5, StatusDegraded.gaugeValue())
	assert.Equal(t, 0.0, StatusDown.gaugeValue())
}
