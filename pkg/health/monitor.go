package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainwatch/chainwatch/pkg/logging"
	"github.com/chainwatch/chainwatch/pkg/metrics"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// gaugeValue maps a status onto the component health gauge
func (s Status) gaugeValue() float64 {
	switch s {
	case StatusHealthy:
		return 1
	case StatusDegraded:
		return 0.5
	default:
		return 0
	}
}

// Record is the per-component health row upserted on every tick
type Record struct {
	Component    string            `json:"component" db:"component"`
	Status       Status            `json:"status" db:"status"`
	LastCheck    time.Time         `json:"last_check" db:"last_check"`
	ResponseTime *time.Duration    `json:"response_time,omitempty" db:"response_time"`
	ErrorRate    float64           `json:"error_rate" db:"error_rate"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Checker probes one component
type Checker interface {
	Name() string
	Check(ctx context.Context) Record
}

// RecordStore persists health records. The monitor is the only writer.
type RecordStore interface {
	Upsert(ctx context.Context, record *Record) error
}

// Monitor runs all registered checkers on each tick and upserts one record
// per component. A failing probe is logged and never prevents the other
// probes in the same tick.
type Monitor struct {
	checkers []Checker
	store    RecordStore
	metrics  *metrics.Metrics
	logger   *logging.Logger
	mu       sync.RWMutex
}

// NewMonitor creates a health monitor writing to store
func NewMonitor(store RecordStore) *Monitor {
	return &Monitor{
		store:  store,
		logger: logging.GetLogger(),
	}
}

// WithMetrics attaches the component health gauge
func (m *Monitor) WithMetrics(mx *metrics.Metrics) *Monitor {
	m.metrics = mx
	return m
}

// Register adds a checker
func (m *Monitor) Register(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// RunChecks probes every registered component once
func (m *Monitor) RunChecks(ctx context.Context) error {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	for _, checker := range checkers {
		m.runOne(ctx, checker)
	}

	return nil
}

// runOne isolates a single probe so a panic or error cannot abort the
// sibling probes in the same tick
func (m *Monitor) runOne(ctx context.Context, checker Checker) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Health check panicked",
				"component", checker.Name(),
				"panic", fmt.Sprintf("%v", r),
			)
		}
	}()

	record := checker.Check(ctx)
	record.Component = checker.Name()
	if record.LastCheck.IsZero() {
		record.LastCheck = time.Now()
	}

	if m.metrics != nil {
		m.metrics.ObserveHealth(record.Component, record.Status.gaugeValue())
	}

	if err := m.store.Upsert(ctx, &record); err != nil {
		m.logger.WithComponent(record.Component).WithError(err).
			Error("Failed to persist health record")
		return
	}

	m.logger.LogHealthEvent(ctx, record.Component, string(record.Status), nil)
}
