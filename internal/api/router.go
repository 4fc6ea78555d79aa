package api

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/chainwatch/chainwatch/internal/cache"
	"github.com/chainwatch/chainwatch/internal/store"
	"github.com/chainwatch/chainwatch/pkg/config"
	"github.com/chainwatch/chainwatch/pkg/metrics"
	"github.com/chainwatch/chainwatch/pkg/ratelimit"
	"github.com/chainwatch/chainwatch/pkg/resilience"
)

// Dependencies holds everything the router exposes over HTTP
type Dependencies struct {
	DB       *store.DB
	Redis    *store.RedisClient
	Alerts   AlertStore
	Health   *store.HealthRepository
	Cache    *cache.Cache[json.RawMessage]
	Limiters *ratelimit.Set
	Breakers *resilience.Registry
	Audit    AuditWriter
}

// NewRouter creates and configures the API router
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware())
	router.Use(RecoveryMiddleware())

	healthHandler := NewHealthHandler(deps.DB, deps.Redis)
	router.GET("/health", gin.WrapH(healthHandler))
	router.GET("/ready", gin.WrapH(healthHandler))

	router.GET("/metrics", metrics.Handler())

	alertHandler := NewAlertHandler(deps.Alerts)
	componentHandler := NewHealthRecordHandler(deps.Health)
	cacheHandler := NewCacheHandler(deps.Cache, deps.Audit)
	rateLimitHandler := NewRateLimitHandler(deps.Limiters, deps.Breakers, deps.Audit)

	v1 := router.Group("/api/v1")
	{
		alerts := v1.Group("/alerts")
		{
			alerts.GET("", alertHandler.ListAlerts)
			alerts.POST("/:id/resolve", alertHandler.ResolveAlert)
		}

		v1.GET("/components", componentHandler.ListComponents)

		cacheGroup := v1.Group("/cache")
		{
			cacheGroup.GET("/stats", cacheHandler.Stats)
			cacheGroup.POST("/invalidate", cacheHandler.Invalidate)
		}

		ratelimits := v1.Group("/ratelimit")
		{
			ratelimits.GET("", rateLimitHandler.ListServices)
			ratelimits.GET("/:service/stats", rateLimitHandler.ServiceStats)
			ratelimits.POST("/:service/reset", rateLimitHandler.ResetService)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		NotFoundResponse(c, "Endpoint not found")
	})

	return router
}
