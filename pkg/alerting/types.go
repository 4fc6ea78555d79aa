package alerting

import (
	"time"

	"github.com/chainwatch/chainwatch/pkg/errors"
)

// Severity represents alert severity levels
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertStatus is the lifecycle state of an alert
type AlertStatus string

const (
	StatusTriggered AlertStatus = "triggered"
	StatusResolved  AlertStatus = "resolved"
)

// Operator is the closed set of threshold comparisons a condition may use
type Operator int

const (
	OpGreater Operator = iota
	OpLess
	OpGreaterEq
	OpLessEq
	OpEqual
)

// ParseOperator converts the stored operator symbol, rejecting unknown ones
func ParseOperator(s string) (Operator, error) {
	switch s {
	case ">":
		return OpGreater, nil
	case "<":
		return OpLess, nil
	case ">=":
		return OpGreaterEq, nil
	case "<=":
		return OpLessEq, nil
	case "==":
		return OpEqual, nil
	default:
		return 0, errors.NewValidationError("unknown comparison operator").WithDetail("operator", s)
	}
}

func (o Operator) String() string {
	switch o {
	case OpGreater:
		return ">"
	case OpLess:
		return "<"
	case OpGreaterEq:
		return ">="
	case OpLessEq:
		return "<="
	case OpEqual:
		return "=="
	default:
		return "?"
	}
}

// Evaluate applies the comparison to a sample value
func (o Operator) Evaluate(value, threshold float64) bool {
	switch o {
	case OpGreater:
		return value > threshold
	case OpLess:
		return value < threshold
	case OpGreaterEq:
		return value >= threshold
	case OpLessEq:
		return value <= threshold
	case OpEqual:
		return value == threshold
	default:
		return false
	}
}

// Condition describes when a config should fire. A nonzero Duration demands
// the comparison hold for every sample in the trailing window, not just the
// latest one.
type Condition struct {
	Metric    string        `json:"metric"`
	Operator  Operator      `json:"operator"`
	Threshold float64       `json:"threshold"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Config is one operator-defined alert rule
type Config struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Condition Condition     `json:"condition"`
	Severity  Severity      `json:"severity"`
	Cooldown  time.Duration `json:"cooldown"`
	Enabled   bool          `json:"enabled"`
}

// Metric is one sample in the append-only time series
type Metric struct {
	Name      string    `json:"name" db:"name"`
	Value     float64   `json:"value" db:"value"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Alert is one triggered alert row. It is inserted on trigger and later
// transitioned to resolved by an external process.
type Alert struct {
	ID                string            `json:"id" db:"id"`
	ConfigID          string            `json:"config_id" db:"config_id"`
	Title             string            `json:"title" db:"title"`
	Message           string            `json:"message" db:"message"`
	Severity          Severity          `json:"severity" db:"severity"`
	Status            AlertStatus       `json:"status" db:"status"`
	TriggeredAt       time.Time         `json:"triggered_at" db:"triggered_at"`
	ResolvedAt        *time.Time        `json:"resolved_at,omitempty" db:"resolved_at"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	NotificationsSent bool              `json:"notifications_sent" db:"notifications_sent"`
}
