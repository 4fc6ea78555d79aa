package alerting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/chainwatch/pkg/errors"
)

type memConfigStore struct {
	configs []Config
	err     error
}

func (s *memConfigStore) ListEnabled(ctx context.Context) ([]Config, error) {
	return s.configs, s.err
}

type memMetricStore struct {
	latest map[string]*Metric
	series map[string][]Metric
}

func newMemMetricStore() *memMetricStore {
	return &memMetricStore{
		latest: make(map[string]*Metric),
		series: make(map[string][]Metric),
	}
}

func (s *memMetricStore) Latest(ctx context.Context, name string) (*Metric, error) {
	m, ok := s.latest[name]
	if !ok {
		return nil, errors.NewNotFoundError("metric")
	}
	return m, nil
}

func (s *memMetricStore) Range(ctx context.Context, name string, from, to time.Time) ([]Metric, error) {
	var out []Metric
	for _, m := range s.series[name] {
		if !m.Timestamp.Before(from) && !m.Timestamp.After(to) {
			out = append(out, m)
		}
	}
	return out, nil
}

type memAlertStore struct {
	mu       sync.Mutex
	inserted []*Alert
	latest   map[string]*Alert
}

func newMemAlertStore() *memAlertStore {
	return &memAlertStore{latest: make(map[string]*Alert)}
}

func (s *memAlertStore) Insert(ctx context.Context, alert *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, alert)
	s.latest[alert.ConfigID] = alert
	return nil
}

func (s *memAlertStore) LatestTriggered(ctx context.Context, configID string) (*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if alert, ok := s.latest[configID]; ok {
		return alert, nil
	}
	return nil, errors.NewNotFoundError("alert")
}

func (s *memAlertStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

type memDispatcher struct {
	mu   sync.Mutex
	sent []*Alert
}

func (d *memDispatcher) Send(alert *Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, alert)
}

func (d *memDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func gasConfig(threshold float64) Config {
	return Config{
		ID:   "cfg-1",
		Name: "High gas price",
		Condition: Condition{
			Metric:    "gas_price_gwei",
			Operator:  OpGreater,
			Threshold: threshold,
		},
		Severity: SeverityWarning,
		Cooldown: 10 * time.Minute,
		Enabled:  true,
	}
}

func newTestEngine(configs *memConfigStore, metrics *memMetricStore, alerts *memAlertStore, dispatcher *memDispatcher) *Engine {
	return NewEngine(configs, metrics, alerts, dispatcher)
}

func TestEvaluateTriggersAlert(t *testing.T) {
	metrics := newMemMetricStore()
	metrics.latest["gas_price_gwei"] = &Metric{Name: "gas_price_gwei", Value: 150, Timestamp: time.Now()}
	alerts := newMemAlertStore()
	dispatcher := &memDispatcher{}

	e := newTestEngine(&memConfigStore{configs: []Config{gasConfig(100)}}, metrics, alerts, dispatcher)

	require.NoError(t, e.Evaluate(context.Background()))

	require.Equal(t, 1, alerts.count())
	alert := alerts.inserted[0]
	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, "cfg-1", alert.ConfigID)
	assert.Equal(t, StatusTriggered, alert.Status)
	assert.Equal(t, SeverityWarning, alert.Severity)
	assert.Contains(t, alert.Message, "gas_price_gwei")
	assert.Equal(t, 1, dispatcher.count())
}

func TestEvaluateBelowThreshold(t *testing.T) {
	metrics := newMemMetricStore()
	metrics.latest["gas_price_gwei"] = &Metric{Name: "gas_price_gwei", Value: 50, Timestamp: time.Now()}
	alerts := newMemAlertStore()
	dispatcher := &memDispatcher{}

	e := newTestEngine(&memConfigStore{configs: []Config{gasConfig(100)}}, metrics, alerts, dispatcher)

	require.NoError(t, e.Evaluate(context.Background()))
	assert.Equal(t, 0, alerts.count())
	assert.Equal(t, 0, dispatcher.count())
}

func TestEvaluateAbsentMetricSkips(t *testing.T) {
	alerts := newMemAlertStore()
	dispatcher := &memDispatcher{}

	e := newTestEngine(&memConfigStore{configs: []Config{gasConfig(100)}}, newMemMetricStore(), alerts, dispatcher)

	require.NoError(t, e.Evaluate(context.Background()))
	assert.Equal(t, 0, alerts.count())
}

func TestEvaluateCooldownSuppresses(t *testing.T) {
	now := time.Now()
	metrics := newMemMetricStore()
	metrics.latest["gas_price_gwei"] = &Metric{Name: "gas_price_gwei", Value: 150, Timestamp: now}
	alerts := newMemAlertStore()
	dispatcher := &memDispatcher{}

	e := newTestEngine(&memConfigStore{configs: []Config{gasConfig(100)}}, metrics, alerts, dispatcher)

	require.NoError(t, e.Evaluate(context.Background()))
	require.Equal(t, 1, alerts.count())

	// Second pass inside the cooldown triggers nothing
	require.NoError(t, e.Evaluate(context.Background()))
	assert.Equal(t, 1, alerts.count())

	// Past the cooldown it fires again
	e.WithClock(func() time.Time { return now.Add(11 * time.Minute) })
	require.NoError(t, e.Evaluate(context.Background()))
	assert.Equal(t, 2, alerts.count())
}

func TestEvaluateCooldownSurvivesResolution(t *testing.T) {
	now := time.Now()
	metrics := newMemMetricStore()
	metrics.latest["gas_price_gwei"] = &Metric{Name: "gas_price_gwei", Value: 150, Timestamp: now}
	alerts := newMemAlertStore()
	dispatcher := &memDispatcher{}

	e := newTestEngine(&memConfigStore{configs: []Config{gasConfig(100)}}, metrics, alerts, dispatcher)
	e.WithClock(func() time.Time { return now })

	require.NoError(t, e.Evaluate(context.Background()))
	require.Equal(t, 1, alerts.count())

	// An operator resolves the alert right away
	resolvedAt := now
	alerts.inserted[0].Status = StatusResolved
	alerts.inserted[0].ResolvedAt = &resolvedAt

	// Still inside the cooldown, resolution does not re-arm the config
	e.WithClock(func() time.Time { return now.Add(time.Minute) })
	require.NoError(t, e.Evaluate(context.Background()))
	assert.Equal(t, 1, alerts.count())

	// Past the cooldown it fires again
	e.WithClock(func() time.Time { return now.Add(11 * time.Minute) })
	require.NoError(t, e.Evaluate(context.Background()))
	assert.Equal(t, 2, alerts.count())
}

func TestEvaluateDurationWindowAllMustSatisfy(t *testing.T) {
	now := time.Now()
	cfg := gasConfig(100)
	cfg.Condition.Duration = 5 * time.Minute

	metrics := newMemMetricStore()
	metrics.latest["gas_price_gwei"] = &Metric{Name: "gas_price_gwei", Value: 150, Timestamp: now}
	metrics.series["gas_price_gwei"] = []Metric{
		{Name: "gas_price_gwei", Value: 120, Timestamp: now.Add(-4 * time.Minute)},
		{Name: "gas_price_gwei", Value: 80, Timestamp: now.Add(-2 * time.Minute)}, // dip
		{Name: "gas_price_gwei", Value: 150, Timestamp: now},
	}

	alerts := newMemAlertStore()
	dispatcher := &memDispatcher{}
	e := newTestEngine(&memConfigStore{configs: []Config{cfg}}, metrics, alerts, dispatcher)
	e.WithClock(func() time.Time { return now })

	// The dip inside the window cancels the trigger
	require.NoError(t, e.Evaluate(context.Background()))
	assert.Equal(t, 0, alerts.count())

	// Sustained breach fires
	metrics.series["gas_price_gwei"][1].Value = 130
	require.NoError(t, e.Evaluate(context.Background()))
	assert.Equal(t, 1, alerts.count())
}

func TestEvaluateMultipleConfigsIndependent(t *testing.T) {
	now := time.Now()
	metrics := newMemMetricStore()
	metrics.latest["gas_price_gwei"] = &Metric{Name: "gas_price_gwei", Value: 150, Timestamp: now}

	second := Config{
		ID:   "cfg-2",
		Name: "Gas spike",
		Condition: Condition{
			Metric:    "gas_price_gwei",
			Operator:  OpGreater,
			Threshold: 100,
		},
		Severity: SeverityCritical,
		Enabled:  true,
	}

	alerts := newMemAlertStore()
	dispatcher := &memDispatcher{}
	e := newTestEngine(&memConfigStore{configs: []Config{second, gasConfig(100)}}, metrics, alerts, dispatcher)

	require.NoError(t, e.Evaluate(context.Background()))
	// Both configs fire independently
	assert.Equal(t, 2, alerts.count())
}

func TestEvaluateConfigStoreFailure(t *testing.T) {
	e := newTestEngine(
		&memConfigStore{err: errors.NewInternalError("db down")},
		newMemMetricStore(), newMemAlertStore(), &memDispatcher{},
	)

	assert.Error(t, e.Evaluate(context.Background()))
}
