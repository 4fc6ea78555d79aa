package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chainwatch/chainwatch/pkg/errors"
	"github.com/chainwatch/chainwatch/pkg/logging"
	"github.com/chainwatch/chainwatch/pkg/metrics"
)

// MetricStore is the read side of the metric time series
type MetricStore interface {
	Latest(ctx context.Context, name string) (*Metric, error)
	Range(ctx context.Context, name string, from, to time.Time) ([]Metric, error)
}

// AlertStore persists triggered alerts. The engine is the only writer of
// triggered rows; resolution happens elsewhere.
type AlertStore interface {
	Insert(ctx context.Context, alert *Alert) error
	LatestTriggered(ctx context.Context, configID string) (*Alert, error)
}

// ConfigStore supplies the enabled alert configurations
type ConfigStore interface {
	ListEnabled(ctx context.Context) ([]Config, error)
}

// Dispatcher hands a triggered alert off for delivery. Send is
// fire-and-forget; queueing and retries belong to the dispatcher.
type Dispatcher interface {
	Send(alert *Alert)
}

// Engine evaluates every enabled alert configuration against the metric
// time series on each tick. Configs are evaluated independently; a failure
// on one is logged and never blocks the others.
type Engine struct {
	configs    ConfigStore
	metricRepo MetricStore
	alerts     AlertStore
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *logging.Logger
	now        func() time.Time
}

// NewEngine creates an alert engine
func NewEngine(configs ConfigStore, metricRepo MetricStore, alerts AlertStore, dispatcher Dispatcher) *Engine {
	return &Engine{
		configs:    configs,
		metricRepo: metricRepo,
		alerts:     alerts,
		dispatcher: dispatcher,
		logger:     logging.GetLogger(),
		now:        time.Now,
	}
}

// WithMetrics attaches trigger instrumentation
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

// WithClock overrides the engine's time source. Intended for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Evaluate runs one evaluation pass over all enabled configurations
func (e *Engine) Evaluate(ctx context.Context) error {
	configs, err := e.configs.ListEnabled(ctx)
	if err != nil {
		return errors.NewInternalError("failed to load alert configurations").WithCause(err)
	}

	for _, cfg := range configs {
		e.evaluateOne(ctx, cfg)
	}

	return nil
}

// evaluateOne isolates a single config so a panic or store error cannot
// abort the sibling evaluations in the same tick
func (e *Engine) evaluateOne(ctx context.Context, cfg Config) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Alert evaluation panicked",
				"config_id", cfg.ID,
				"panic", fmt.Sprintf("%v", r),
			)
		}
	}()

	triggered, err := e.shouldTrigger(ctx, cfg)
	if err != nil {
		e.logger.WithError(err).WithFields(logging.Fields{
			"config_id": cfg.ID,
			"config":    cfg.Name,
		}).Error("Failed to evaluate alert configuration")
		return
	}
	if triggered == nil {
		return
	}

	if err := e.alerts.Insert(ctx, triggered); err != nil {
		e.logger.WithError(err).WithFields(logging.Fields{
			"config_id": cfg.ID,
		}).Error("Failed to persist triggered alert")
		return
	}

	if e.metrics != nil {
		e.metrics.AlertsTriggered.WithLabelValues(string(triggered.Severity)).Inc()
	}

	e.logger.LogAlertEvent(ctx, "alert_triggered", cfg.ID, triggered.ID, logging.Fields{
		"severity": triggered.Severity,
		"metric":   cfg.Condition.Metric,
	})

	// Delivery is the dispatcher's problem; the engine never waits on it
	e.dispatcher.Send(triggered)
}

// shouldTrigger decides whether cfg fires now, returning the alert to
// insert or nil when the condition is not met or suppressed.
func (e *Engine) shouldTrigger(ctx context.Context, cfg Config) (*Alert, error) {
	now := e.now()

	// Cooldown against the most recent trigger for this config; resolving
	// the alert does not reset the window
	last, err := e.alerts.LatestTriggered(ctx, cfg.ID)
	if err != nil && !errors.IsNotFound(err) {
		return nil, err
	}
	if last != nil && now.Sub(last.TriggeredAt) < cfg.Cooldown {
		return nil, nil
	}

	// Absence of the metric suppresses evaluation entirely
	sample, err := e.metricRepo.Latest(ctx, cfg.Condition.Metric)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	if !cfg.Condition.Operator.Evaluate(sample.Value, cfg.Condition.Threshold) {
		return nil, nil
	}

	// Sustained conditions require every sample in the trailing window to
	// satisfy the comparison; one dip cancels the trigger
	if cfg.Condition.Duration > 0 {
		window, err := e.metricRepo.Range(ctx, cfg.Condition.Metric, now.Add(-cfg.Condition.Duration), now)
		if err != nil {
			return nil, err
		}
		for _, m := range window {
			if !cfg.Condition.Operator.Evaluate(m.Value, cfg.Condition.Threshold) {
				return nil, nil
			}
		}
	}

	return &Alert{
		ID:          uuid.New().String(),
		ConfigID:    cfg.ID,
		Title:       cfg.Name,
		Message: fmt.Sprintf("%s is %.4f (%s %.4f)",
			cfg.Condition.Metric, sample.Value, cfg.Condition.Operator, cfg.Condition.Threshold),
		Severity:    cfg.Severity,
		Status:      StatusTriggered,
		TriggeredAt: now,
		Metadata: map[string]string{
			"metric":    cfg.Condition.Metric,
			"value":     fmt.Sprintf("%g", sample.Value),
			"threshold": fmt.Sprintf("%g", cfg.Condition.Threshold),
		},
	}, nil
}
