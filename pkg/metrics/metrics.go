package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Outbound fetch metrics
	FetchesTotal    *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	RetryAttempts   *prometheus.CounterVec
	RateLimitWaits  *prometheus.HistogramVec
	RateLimitBlocks *prometheus.CounterVec

	// Cache metrics
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheEvictions *prometheus.CounterVec
	CacheEntries   prometheus.Gauge

	// Health and alerting metrics
	ComponentHealth  *prometheus.GaugeVec
	AlertsTriggered  *prometheus.CounterVec
	RetentionDeleted *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "chainwatch",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		FetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "fetches_total",
				Help:      "Total number of outbound fetches",
			},
			[]string{"service", "status"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Outbound fetch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		RetryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"service"},
		),
		RateLimitWaits: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "rate_limit_wait_seconds",
				Help:      "Time spent waiting for a rate limit slot",
				Buckets:   []float64{.005, .05, .25, 1, 2.5, 10, 30, 60},
			},
			[]string{"service"},
		),
		RateLimitBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "rate_limit_blocks_total",
				Help:      "Total number of upstream rate limit rejections recorded",
			},
			[]string{"service"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"namespace"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"namespace"},
		),
		CacheEvictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "cache_evictions_total",
				Help:      "Total number of cache entries removed",
			},
			[]string{"reason"},
		),
		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "cache_entries",
				Help:      "Current number of cache entries",
			},
		),
		ComponentHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "component_health",
				Help:      "Component health status (1 healthy, 0.5 degraded, 0 down)",
			},
			[]string{"component"},
		),
		AlertsTriggered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "alerts_triggered_total",
				Help:      "Total number of alerts triggered",
			},
			[]string{"severity"},
		),
		RetentionDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "retention_deleted_total",
				Help:      "Total number of rows removed by retention sweeps",
			},
			[]string{"table"},
		),
	}

	prometheus.MustRegister(
		m.FetchesTotal,
		m.FetchDuration,
		m.RetryAttempts,
		m.RateLimitWaits,
		m.RateLimitBlocks,
		m.CacheHits,
		m.CacheMisses,
		m.CacheEvictions,
		m.CacheEntries,
		m.ComponentHealth,
		m.AlertsTriggered,
		m.RetentionDeleted,
	)

	return m
}

// ObserveFetch records one outbound fetch
func (m *Metrics) ObserveFetch(service, status string, duration time.Duration) {
	if m.FetchesTotal == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(service, status).Inc()
	m.FetchDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// ObserveHealth records a component health status as a gauge value
func (m *Metrics) ObserveHealth(component string, value float64) {
	if m.ComponentHealth == nil {
		return
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// Handler returns a Gin handler that serves the Prometheus metrics endpoint
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
