package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/chainwatch/internal/cache"
	"github.com/chainwatch/chainwatch/internal/store"
	"github.com/chainwatch/chainwatch/pkg/alerting"
	"github.com/chainwatch/chainwatch/pkg/ratelimit"
	"github.com/chainwatch/chainwatch/pkg/resilience"
)

type memAuditWriter struct {
	entries []*store.AuditEntry
}

func (w *memAuditWriter) Insert(ctx context.Context, entry *store.AuditEntry) error {
	w.entries = append(w.entries, entry)
	return nil
}

type memAlertStore struct {
	resolved []string
	actors   []string
}

func (s *memAlertStore) List(ctx context.Context, status string, limit int) ([]*alerting.Alert, error) {
	return nil, nil
}

func (s *memAlertStore) ResolveWithAudit(ctx context.Context, id, actor string) error {
	s.resolved = append(s.resolved, id)
	s.actors = append(s.actors, actor)
	return nil
}

func TestResolveAlertRecordsActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	alerts := &memAlertStore{}
	router := gin.New()
	router.POST("/alerts/:id/resolve", NewAlertHandler(alerts).ResolveAlert)

	req := httptest.NewRequest(http.MethodPost, "/alerts/a-1/resolve", nil)
	req.Header.Set("X-Actor", "oncall")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, alerts.resolved, 1)
	assert.Equal(t, "a-1", alerts.resolved[0])
	assert.Equal(t, "oncall", alerts.actors[0])
}

func TestCacheInvalidateAudited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := cache.New[json.RawMessage](time.Minute)
	c.Set("price:eth", json.RawMessage(`"1234.5"`), 0)
	audit := &memAuditWriter{}
	router := gin.New()
	router.POST("/cache/invalidate", NewCacheHandler(c, audit).Invalidate)

	body, err := json.Marshal(map[string]string{"pattern": "price:*"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/cache/invalidate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, c.Len())
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "cache_invalidate", audit.entries[0].Action)
	assert.Equal(t, "api", audit.entries[0].Actor)
	assert.Contains(t, audit.entries[0].Details, "price:*")
}

func TestRateLimitResetAudited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiters := ratelimit.NewSet()
	_, err := limiters.Add("coingecko", ratelimit.Config{RequestsPerMinute: 30})
	require.NoError(t, err)
	breakers := resilience.NewRegistry(resilience.DefaultCircuitBreakerConfig(""))
	audit := &memAuditWriter{}
	router := gin.New()
	router.POST("/ratelimit/:service/reset", NewRateLimitHandler(limiters, breakers, audit).ResetService)

	req := httptest.NewRequest(http.MethodPost, "/ratelimit/coingecko/reset", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "ratelimit_reset", audit.entries[0].Action)
}
