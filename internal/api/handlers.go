package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chainwatch/chainwatch/internal/cache"
	"github.com/chainwatch/chainwatch/internal/store"
	"github.com/chainwatch/chainwatch/pkg/alerting"
	"github.com/chainwatch/chainwatch/pkg/logging"
	"github.com/chainwatch/chainwatch/pkg/ratelimit"
	"github.com/chainwatch/chainwatch/pkg/resilience"
)

// AlertStore is the alert surface the API exposes
type AlertStore interface {
	List(ctx context.Context, status string, limit int) ([]*alerting.Alert, error)
	ResolveWithAudit(ctx context.Context, id, actor string) error
}

// AuditWriter records operator actions taken through the API
type AuditWriter interface {
	Insert(ctx context.Context, entry *store.AuditEntry) error
}

// actorFrom identifies who performed an operator action. Callers may name
// themselves via the X-Actor header.
func actorFrom(c *gin.Context) string {
	if actor := c.GetHeader("X-Actor"); actor != "" {
		return actor
	}
	return "api"
}

// recordAudit writes an operator action to the audit log. Failures are
// logged; they never fail a request that already succeeded.
func recordAudit(c *gin.Context, audit AuditWriter, action, details string) {
	if audit == nil {
		return
	}

	entry := &store.AuditEntry{Action: action, Actor: actorFrom(c), Details: details}
	if err := audit.Insert(c.Request.Context(), entry); err != nil {
		logging.GetLogger().WithError(err).Warn("Failed to record audit entry")
	}
}

// AlertHandler serves alert queries
type AlertHandler struct {
	alerts AlertStore
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(alerts AlertStore) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

// ListAlerts returns alerts, optionally filtered by status
func (h *AlertHandler) ListAlerts(c *gin.Context) {
	status := c.Query("status")
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			BadRequestResponse(c, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	alerts, err := h.alerts.List(c.Request.Context(), status, limit)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, alerts)
}

// ResolveAlert transitions a triggered alert to resolved
func (h *AlertHandler) ResolveAlert(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequestResponse(c, "alert id is required")
		return
	}

	if err := h.alerts.ResolveWithAudit(c.Request.Context(), id, actorFrom(c)); err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, map[string]string{"id": id, "status": "resolved"})
}

// HealthRecordHandler serves persisted component health
type HealthRecordHandler struct {
	records *store.HealthRepository
}

// NewHealthRecordHandler creates a new component health handler
func NewHealthRecordHandler(records *store.HealthRepository) *HealthRecordHandler {
	return &HealthRecordHandler{records: records}
}

// ListComponents returns the latest health record for every component
func (h *HealthRecordHandler) ListComponents(c *gin.Context) {
	records, err := h.records.List(c.Request.Context())
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, records)
}

// CacheHandler serves cache introspection and invalidation
type CacheHandler struct {
	cache *cache.Cache[json.RawMessage]
	audit AuditWriter
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(c *cache.Cache[json.RawMessage], audit AuditWriter) *CacheHandler {
	return &CacheHandler{cache: c, audit: audit}
}

// Stats returns the cache summary
func (h *CacheHandler) Stats(c *gin.Context) {
	SuccessResponse(c, h.cache.Stats())
}

// Invalidate removes entries matching the given glob pattern
func (h *CacheHandler) Invalidate(c *gin.Context) {
	var req struct {
		Pattern string `json:"pattern" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "pattern is required")
		return
	}

	removed, err := h.cache.InvalidatePattern(req.Pattern)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	recordAudit(c, h.audit, "cache_invalidate", fmt.Sprintf("pattern %q removed %d entries", req.Pattern, removed))

	SuccessResponse(c, map[string]interface{}{
		"pattern": req.Pattern,
		"removed": removed,
	})
}

// RateLimitHandler serves rate limiter introspection
type RateLimitHandler struct {
	limiters *ratelimit.Set
	breakers *resilience.Registry
	audit    AuditWriter
}

// NewRateLimitHandler creates a new rate limit handler
func NewRateLimitHandler(limiters *ratelimit.Set, breakers *resilience.Registry, audit AuditWriter) *RateLimitHandler {
	return &RateLimitHandler{
		limiters: limiters,
		breakers: breakers,
		audit:    audit,
	}
}

// ServiceStats returns all bucket snapshots for one upstream service
func (h *RateLimitHandler) ServiceStats(c *gin.Context) {
	service := c.Param("service")

	limiter, err := h.limiters.Get(service)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	keys := limiter.Keys()
	if len(keys) == 0 {
		keys = []string{ratelimit.DefaultKey}
	}

	stats := make([]ratelimit.Stats, 0, len(keys))
	for _, key := range keys {
		stats = append(stats, limiter.Stats(key))
	}

	SuccessResponse(c, map[string]interface{}{
		"service":       service,
		"buckets":       stats,
		"breaker_state": h.breakers.State(service).String(),
	})
}

// ResetService clears all buckets for one upstream service
func (h *RateLimitHandler) ResetService(c *gin.Context) {
	service := c.Param("service")

	limiter, err := h.limiters.Get(service)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	limiter.ResetAll()

	recordAudit(c, h.audit, "ratelimit_reset", fmt.Sprintf("all buckets reset for %s", service))

	SuccessResponse(c, map[string]string{"service": service, "status": "reset"})
}

// ListServices returns all configured upstream services with breaker state
func (h *RateLimitHandler) ListServices(c *gin.Context) {
	services := h.limiters.Services()

	out := make([]map[string]interface{}, 0, len(services))
	for _, service := range services {
		out = append(out, map[string]interface{}{
			"service":       service,
			"breaker_state": h.breakers.State(service).String(),
			"counters":      h.breakers.Counters(service),
		})
	}

	SuccessResponse(c, out)
}
