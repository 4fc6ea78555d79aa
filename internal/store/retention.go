package store

import (
	"context"
	"time"

	"github.com/chainwatch/chainwatch/pkg/config"
	"github.com/chainwatch/chainwatch/pkg/logging"
	"github.com/chainwatch/chainwatch/pkg/metrics"
)

// Retention deletes rows past their retention window. Each sweep is
// independent and idempotent; a failure in one never aborts the others.
type Retention struct {
	metrics *MetricRepository
	alerts  *AlertRepository
	audit   *AuditRepository
	cfg     config.RetentionConfig
	instr   *metrics.Metrics
	logger  *logging.Logger
}

// NewRetention creates a retention sweeper over the three aged tables
func NewRetention(metricRepo *MetricRepository, alertRepo *AlertRepository, auditRepo *AuditRepository, cfg config.RetentionConfig) *Retention {
	return &Retention{
		metrics: metricRepo,
		alerts:  alertRepo,
		audit:   auditRepo,
		cfg:     cfg,
		logger:  logging.GetLogger(),
	}
}

// WithMetrics attaches deletion instrumentation
func (rt *Retention) WithMetrics(m *metrics.Metrics) *Retention {
	rt.instr = m
	return rt
}

// Sweep runs all three retention passes once
func (rt *Retention) Sweep(ctx context.Context) error {
	now := time.Now()

	rt.sweepOne(ctx, "metrics", func() (int64, error) {
		return rt.metrics.DeleteOlderThan(ctx, now.Add(-rt.cfg.MetricMaxAge))
	})
	rt.sweepOne(ctx, "alerts", func() (int64, error) {
		return rt.alerts.DeleteResolvedBefore(ctx, now.Add(-rt.cfg.ResolvedMaxAge))
	})
	rt.sweepOne(ctx, "audit_log", func() (int64, error) {
		return rt.audit.DeleteOlderThan(ctx, now.Add(-rt.cfg.AuditMaxAge))
	})

	return nil
}

func (rt *Retention) sweepOne(ctx context.Context, table string, del func() (int64, error)) {
	deleted, err := del()
	if err != nil {
		rt.logger.WithError(err).WithFields(logging.Fields{
			"table": table,
		}).Error("Retention sweep failed")
		return
	}

	if rt.instr != nil {
		rt.instr.RetentionDeleted.WithLabelValues(table).Add(float64(deleted))
	}

	if deleted > 0 {
		rt.logger.Info("Retention sweep removed rows",
			"table", table,
			"deleted", deleted,
		)
	}
}
