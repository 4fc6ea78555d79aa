package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chainwatch/chainwatch/pkg/alerting"
	"github.com/chainwatch/chainwatch/pkg/errors"
	"github.com/chainwatch/chainwatch/pkg/health"
)

// MetricRepository handles metric time series operations
type MetricRepository struct {
	db *DB
}

// NewMetricRepository creates a new metric repository
func NewMetricRepository(db *DB) *MetricRepository {
	return &MetricRepository{db: db}
}

// Insert appends one sample to the time series
func (r *MetricRepository) Insert(ctx context.Context, metric *alerting.Metric) error {
	query := `INSERT INTO metrics (name, value, timestamp) VALUES ($1, $2, $3)`

	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query, metric.Name, metric.Value, metric.Timestamp)
	if err != nil {
		return errors.NewInternalError("failed to insert metric").WithCause(err)
	}

	return nil
}

// Latest returns the most recent sample for a metric
func (r *MetricRepository) Latest(ctx context.Context, name string) (*alerting.Metric, error) {
	var metric alerting.Metric
	query := `SELECT name, value, timestamp FROM metrics WHERE name = $1 ORDER BY timestamp DESC LIMIT 1`

	err := r.db.GetContext(ctx, &metric, query, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("metric")
		}
		return nil, errors.NewInternalError("failed to get latest metric").WithCause(err)
	}

	return &metric, nil
}

// Range returns all samples for a metric within [from, to]
func (r *MetricRepository) Range(ctx context.Context, name string, from, to time.Time) ([]alerting.Metric, error) {
	var metrics []alerting.Metric
	query := `
		SELECT name, value, timestamp FROM metrics
		WHERE name = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC`

	err := r.db.SelectContext(ctx, &metrics, query, name, from, to)
	if err != nil {
		return nil, errors.NewInternalError("failed to get metric range").WithCause(err)
	}

	return metrics, nil
}

// DeleteOlderThan removes samples older than cutoff and reports how many
func (r *MetricRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM metrics WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, errors.NewInternalError("failed to delete old metrics").WithCause(err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternalError("failed to get rows affected").WithCause(err)
	}

	return deleted, nil
}

// alertRow is the database shape of an alert; metadata travels as JSONB
type alertRow struct {
	ID                string     `db:"id"`
	ConfigID          string     `db:"config_id"`
	Title             string     `db:"title"`
	Message           string     `db:"message"`
	Severity          string     `db:"severity"`
	Status            string     `db:"status"`
	TriggeredAt       time.Time  `db:"triggered_at"`
	ResolvedAt        *time.Time `db:"resolved_at"`
	Metadata          []byte     `db:"metadata"`
	NotificationsSent bool       `db:"notifications_sent"`
}

func (row *alertRow) toAlert() (*alerting.Alert, error) {
	alert := &alerting.Alert{
		ID:                row.ID,
		ConfigID:          row.ConfigID,
		Title:             row.Title,
		Message:           row.Message,
		Severity:          alerting.Severity(row.Severity),
		Status:            alerting.AlertStatus(row.Status),
		TriggeredAt:       row.TriggeredAt,
		ResolvedAt:        row.ResolvedAt,
		NotificationsSent: row.NotificationsSent,
	}

	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &alert.Metadata); err != nil {
			return nil, errors.NewInternalError("failed to decode alert metadata").WithCause(err)
		}
	}

	return alert, nil
}

// AlertRepository handles alert database operations
type AlertRepository struct {
	db *DB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Insert creates a new alert row
func (r *AlertRepository) Insert(ctx context.Context, alert *alerting.Alert) error {
	query := `
		INSERT INTO alerts (id, config_id, title, message, severity, status, triggered_at, resolved_at, metadata, notifications_sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}

	metadata, err := json.Marshal(alert.Metadata)
	if err != nil {
		return errors.NewInternalError("failed to encode alert metadata").WithCause(err)
	}

	_, err = r.db.ExecContext(ctx, query,
		alert.ID, alert.ConfigID, alert.Title, alert.Message,
		string(alert.Severity), string(alert.Status),
		alert.TriggeredAt, alert.ResolvedAt, metadata, alert.NotificationsSent,
	)
	if err != nil {
		return errors.NewInternalError("failed to insert alert").WithCause(err)
	}

	return nil
}

// LatestTriggered returns the most recent alert created for a config,
// whatever its current status. The cooldown gate keys off trigger time, so
// resolving an alert must not reset it.
func (r *AlertRepository) LatestTriggered(ctx context.Context, configID string) (*alerting.Alert, error) {
	var row alertRow
	query := `
		SELECT id, config_id, title, message, severity, status, triggered_at, resolved_at, metadata, notifications_sent
		FROM alerts WHERE config_id = $1
		ORDER BY triggered_at DESC LIMIT 1`

	err := r.db.GetContext(ctx, &row, query, configID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("alert")
		}
		return nil, errors.NewInternalError("failed to get latest triggered alert").WithCause(err)
	}

	return row.toAlert()
}

// Resolve transitions a triggered alert to resolved
func (r *AlertRepository) Resolve(ctx context.Context, id string) error {
	query := `
		UPDATE alerts SET status = 'resolved', resolved_at = NOW()
		WHERE id = $1 AND status = 'triggered'`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return errors.NewInternalError("failed to resolve alert").WithCause(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternalError("failed to get rows affected").WithCause(err)
	}

	if rowsAffected == 0 {
		return errors.NewNotFoundError("alert")
	}

	return nil
}

// ResolveWithAudit resolves an alert and records the audit entry in the
// same transaction, so a resolved alert always leaves a trail
func (r *AlertRepository) ResolveWithAudit(ctx context.Context, id, actor string) error {
	return r.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE alerts SET status = 'resolved', resolved_at = NOW()
			WHERE id = $1 AND status = 'triggered'`, id)
		if err != nil {
			return errors.NewInternalError("failed to resolve alert").WithCause(err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return errors.NewInternalError("failed to get rows affected").WithCause(err)
		}
		if rowsAffected == 0 {
			return errors.NewNotFoundError("alert")
		}

		return insertAudit(ctx, tx, &AuditEntry{
			Action:  "alert_resolved",
			Actor:   actor,
			Details: fmt.Sprintf("alert %s resolved", id),
		})
	})
}

// MarkNotified records that notifications for an alert went out
func (r *AlertRepository) MarkNotified(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE alerts SET notifications_sent = TRUE WHERE id = $1`, id)
	if err != nil {
		return errors.NewInternalError("failed to mark alert notified").WithCause(err)
	}
	return nil
}

// List returns alerts ordered by trigger time, newest first
func (r *AlertRepository) List(ctx context.Context, status string, limit int) ([]*alerting.Alert, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []alertRow
	var err error

	if status != "" {
		query := `
			SELECT id, config_id, title, message, severity, status, triggered_at, resolved_at, metadata, notifications_sent
			FROM alerts WHERE status = $1 ORDER BY triggered_at DESC LIMIT $2`
		err = r.db.SelectContext(ctx, &rows, query, status, limit)
	} else {
		query := `
			SELECT id, config_id, title, message, severity, status, triggered_at, resolved_at, metadata, notifications_sent
			FROM alerts ORDER BY triggered_at DESC LIMIT $1`
		err = r.db.SelectContext(ctx, &rows, query, limit)
	}

	if err != nil {
		return nil, errors.NewInternalError("failed to list alerts").WithCause(err)
	}

	alerts := make([]*alerting.Alert, 0, len(rows))
	for i := range rows {
		alert, err := rows[i].toAlert()
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, nil
}

// DeleteResolvedBefore removes resolved alerts older than cutoff
func (r *AlertRepository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM alerts WHERE status = 'resolved' AND resolved_at < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, errors.NewInternalError("failed to delete resolved alerts").WithCause(err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternalError("failed to get rows affected").WithCause(err)
	}

	return deleted, nil
}

// ConfigRepository handles alert configuration operations
type ConfigRepository struct {
	db *DB
}

// NewConfigRepository creates a new alert config repository
func NewConfigRepository(db *DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// configRow is the database shape of an alert configuration
type configRow struct {
	ID        string  `db:"id"`
	Name      string  `db:"name"`
	Metric    string  `db:"metric"`
	Operator  string  `db:"operator"`
	Threshold float64 `db:"threshold"`
	Duration  int64   `db:"duration_seconds"`
	Severity  string  `db:"severity"`
	Cooldown  int64   `db:"cooldown_seconds"`
	Enabled   bool    `db:"enabled"`
}

// ListEnabled returns all enabled alert configurations. Rows carrying an
// unknown operator are rejected rather than silently skipped.
func (r *ConfigRepository) ListEnabled(ctx context.Context) ([]alerting.Config, error) {
	var rows []configRow
	query := `
		SELECT id, name, metric, operator, threshold, duration_seconds, severity, cooldown_seconds, enabled
		FROM alert_configs WHERE enabled = TRUE ORDER BY name`

	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.NewInternalError("failed to list alert configs").WithCause(err)
	}

	configs := make([]alerting.Config, 0, len(rows))
	for _, row := range rows {
		op, err := alerting.ParseOperator(row.Operator)
		if err != nil {
			return nil, err
		}

		configs = append(configs, alerting.Config{
			ID:   row.ID,
			Name: row.Name,
			Condition: alerting.Condition{
				Metric:    row.Metric,
				Operator:  op,
				Threshold: row.Threshold,
				Duration:  time.Duration(row.Duration) * time.Second,
			},
			Severity: alerting.Severity(row.Severity),
			Cooldown: time.Duration(row.Cooldown) * time.Second,
			Enabled:  row.Enabled,
		})
	}

	return configs, nil
}

// Upsert creates or updates an alert configuration
func (r *ConfigRepository) Upsert(ctx context.Context, cfg *alerting.Config) error {
	query := `
		INSERT INTO alert_configs (id, name, metric, operator, threshold, duration_seconds, severity, cooldown_seconds, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			metric = EXCLUDED.metric,
			operator = EXCLUDED.operator,
			threshold = EXCLUDED.threshold,
			duration_seconds = EXCLUDED.duration_seconds,
			severity = EXCLUDED.severity,
			cooldown_seconds = EXCLUDED.cooldown_seconds,
			enabled = EXCLUDED.enabled`

	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	_, err := r.db.ExecContext(ctx, query,
		cfg.ID, cfg.Name, cfg.Condition.Metric, cfg.Condition.Operator.String(),
		cfg.Condition.Threshold, int64(cfg.Condition.Duration/time.Second),
		string(cfg.Severity), int64(cfg.Cooldown/time.Second), cfg.Enabled,
	)
	if err != nil {
		return errors.NewInternalError("failed to upsert alert config").WithCause(err)
	}

	return nil
}

// healthRow is the database shape of a component health record
type healthRow struct {
	Component    string         `db:"component"`
	Status       string         `db:"status"`
	LastCheck    time.Time      `db:"last_check"`
	ResponseTime *int64         `db:"response_time_ms"`
	ErrorRate    float64        `db:"error_rate"`
	Metadata     []byte         `db:"metadata"`
}

func (row *healthRow) toRecord() (*health.Record, error) {
	record := &health.Record{
		Component: row.Component,
		Status:    health.Status(row.Status),
		LastCheck: row.LastCheck,
		ErrorRate: row.ErrorRate,
	}

	if row.ResponseTime != nil {
		d := time.Duration(*row.ResponseTime) * time.Millisecond
		record.ResponseTime = &d
	}

	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &record.Metadata); err != nil {
			return nil, errors.NewInternalError("failed to decode health metadata").WithCause(err)
		}
	}

	return record, nil
}

// HealthRepository handles component health operations
type HealthRepository struct {
	db *DB
}

// NewHealthRepository creates a new health repository
func NewHealthRepository(db *DB) *HealthRepository {
	return &HealthRepository{db: db}
}

// Upsert writes the current health record for a component
func (r *HealthRepository) Upsert(ctx context.Context, record *health.Record) error {
	query := `
		INSERT INTO component_health (component, status, last_check, response_time_ms, error_rate, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (component) DO UPDATE SET
			status = EXCLUDED.status,
			last_check = EXCLUDED.last_check,
			response_time_ms = EXCLUDED.response_time_ms,
			error_rate = EXCLUDED.error_rate,
			metadata = EXCLUDED.metadata`

	var responseMs *int64
	if record.ResponseTime != nil {
		ms := record.ResponseTime.Milliseconds()
		responseMs = &ms
	}

	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return errors.NewInternalError("failed to encode health metadata").WithCause(err)
	}

	_, err = r.db.ExecContext(ctx, query,
		record.Component, string(record.Status), record.LastCheck,
		responseMs, record.ErrorRate, metadata,
	)
	if err != nil {
		return errors.NewInternalError("failed to upsert health record").WithCause(err)
	}

	return nil
}

// Get returns the current health record for a component
func (r *HealthRepository) Get(ctx context.Context, component string) (*health.Record, error) {
	var row healthRow
	query := `
		SELECT component, status, last_check, response_time_ms, error_rate, metadata
		FROM component_health WHERE component = $1`

	err := r.db.GetContext(ctx, &row, query, component)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("component health")
		}
		return nil, errors.NewInternalError("failed to get health record").WithCause(err)
	}

	return row.toRecord()
}

// List returns all component health records
func (r *HealthRepository) List(ctx context.Context) ([]*health.Record, error) {
	var rows []healthRow
	query := `
		SELECT component, status, last_check, response_time_ms, error_rate, metadata
		FROM component_health ORDER BY component`

	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.NewInternalError("failed to list health records").WithCause(err)
	}

	records := make([]*health.Record, 0, len(rows))
	for i := range rows {
		record, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

// AuditEntry is one row in the append-only audit log
type AuditEntry struct {
	ID        string    `json:"id" db:"id"`
	Action    string    `json:"action" db:"action"`
	Actor     string    `json:"actor" db:"actor"`
	Details   string    `json:"details,omitempty" db:"details"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AuditRepository handles audit log operations
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert appends one audit entry
func (r *AuditRepository) Insert(ctx context.Context, entry *AuditEntry) error {
	return insertAudit(ctx, r.db, entry)
}

// insertAudit writes one audit row through ext, which may be a transaction
func insertAudit(ctx context.Context, ext sqlx.ExtContext, entry *AuditEntry) error {
	query := `INSERT INTO audit_log (id, action, actor, details, created_at) VALUES ($1, $2, $3, $4, $5)`

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := ext.ExecContext(ctx, query, entry.ID, entry.Action, entry.Actor, entry.Details, entry.CreatedAt)
	if err != nil {
		return errors.NewInternalError("failed to insert audit entry").WithCause(err)
	}

	return nil
}

// DeleteOlderThan removes audit entries older than cutoff
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, errors.NewInternalError("failed to delete old audit entries").WithCause(err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternalError("failed to get rows affected").WithCause(err)
	}

	return deleted, nil
}
