package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chainwatch/chainwatch/internal/api"
	"github.com/chainwatch/chainwatch/internal/cache"
	"github.com/chainwatch/chainwatch/internal/collect"
	"github.com/chainwatch/chainwatch/internal/notify"
	"github.com/chainwatch/chainwatch/internal/store"
	"github.com/chainwatch/chainwatch/pkg/alerting"
	"github.com/chainwatch/chainwatch/pkg/config"
	"github.com/chainwatch/chainwatch/pkg/health"
	"github.com/chainwatch/chainwatch/pkg/logging"
	"github.com/chainwatch/chainwatch/pkg/metrics"
	"github.com/chainwatch/chainwatch/pkg/ratelimit"
	"github.com/chainwatch/chainwatch/pkg/resilience"
	"github.com/chainwatch/chainwatch/pkg/scheduler"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "chainwatch",
		Version:     "1.0.0",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	if cfg.Database.AutoMigrate {
		migrator, err := store.NewMigrator(&cfg.Database, cfg.Database.MigrationsPath)
		if err != nil {
			log.Fatalf("Failed to initialize migrator: %v", err)
		}
		if err := migrator.Up(); err != nil {
			migrator.Close()
			log.Fatalf("Failed to apply migrations: %v", err)
		}
		migrator.Close()
		logger.Info("Database schema is up to date")
	}

	db, err := store.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.Health(ctx); err != nil {
		log.Fatalf("Database health check failed: %v", err)
	}
	cancel()

	logger.Info("Database connection established")

	redis, err := store.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := redis.Health(ctx); err != nil {
		log.Fatalf("Redis health check failed: %v", err)
	}
	cancel()

	logger.Info("Redis connection established")

	instr := metrics.NewMetrics(metrics.DefaultConfig())

	// Repositories
	metricRepo := store.NewMetricRepository(db)
	alertRepo := store.NewAlertRepository(db)
	configRepo := store.NewConfigRepository(db)
	healthRepo := store.NewHealthRepository(db)
	auditRepo := store.NewAuditRepository(db)

	breakers := resilience.NewRegistry(resilience.DefaultCircuitBreakerConfig(""))

	// Per-upstream rate limiters and fetchers carrying each service's retry
	// budget and backoff curve
	limiters := ratelimit.NewSet()
	fetchers := make(map[string]*resilience.Fetcher, 3)
	for service, svcCfg := range map[string]config.ServiceLimitConfig{
		"coingecko": cfg.Services.CoinGecko,
		"etherscan": cfg.Services.Etherscan,
		"chain_rpc": cfg.Services.ChainRPC,
	} {
		limiter, err := limiters.Add(service, ratelimit.Config{
			RequestsPerMinute: svcCfg.RequestsPerMinute,
			RequestsPerSecond: svcCfg.RequestsPerSecond,
			MinDelay:          svcCfg.MinDelay,
		})
		if err != nil {
			log.Fatalf("Failed to configure rate limiter for %s: %v", service, err)
		}

		retryCfg := resilience.DefaultRetryConfig()
		retryCfg.MaxRetries = svcCfg.MaxRetries
		retryCfg.BackoffMultiplier = svcCfg.BackoffMultiplier

		fetchers[service] = resilience.NewFetcher(limiter, breakers.Get(service), retryCfg).WithMetrics(instr)
	}

	// Query cache shared by the fetch path and the API
	queryCache := cache.New[json.RawMessage](cfg.Cache.DefaultTTL).
		WithCounters(instr.CacheHits, instr.CacheMisses)

	// Notification dispatcher draining the Redis queue
	dispatcher := notify.NewDispatcher(redis, alertRepo, cfg.Notify)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	dispatcher.Start(rootCtx)
	defer dispatcher.Stop()

	// Health monitor folding breaker state and storage probes
	monitor := health.NewMonitor(healthRepo).WithMetrics(instr)
	monitor.Register(health.NewRPCChecker("chain_rpc", cfg.Monitor.RPCEndpoint, cfg.Monitor.RPCTimeout))
	monitor.Register(health.NewStorageChecker("database", db, cfg.Monitor.StorageLatencyCeiling))
	monitor.Register(health.NewStorageChecker("redis", redis, cfg.Monitor.StorageLatencyCeiling))
	for _, service := range limiters.Services() {
		monitor.Register(health.NewBreakerChecker(breakers, service))
	}

	collector := collect.New(
		fetchers["coingecko"], fetchers["etherscan"], fetchers["chain_rpc"],
		metricRepo, cfg.Collector, cfg.Monitor.RPCEndpoint,
	)

	engine := alerting.NewEngine(configRepo, metricRepo, alertRepo, dispatcher).WithMetrics(instr)

	retention := store.NewRetention(metricRepo, alertRepo, auditRepo, cfg.Retention).WithMetrics(instr)

	// Periodic work
	sched := scheduler.New()
	mustAdd(sched, scheduler.Task{
		Name:     "health_checks",
		Interval: cfg.Monitor.HealthInterval,
		Run:      monitor.RunChecks,
	})
	mustAdd(sched, scheduler.Task{
		Name:     "metric_collection",
		Interval: cfg.Collector.Interval,
		Run:      collector.Run,
	})
	mustAdd(sched, scheduler.Task{
		Name:     "alert_evaluation",
		Interval: cfg.Alerting.EvaluateInterval,
		Run:      engine.Evaluate,
	})
	mustAdd(sched, scheduler.Task{
		Name:     "retention_sweep",
		Interval: cfg.Retention.SweepInterval,
		Jitter:   time.Minute,
		Run:      retention.Sweep,
	})
	mustAdd(sched, scheduler.Task{
		Name:     "cache_cleanup",
		Interval: cfg.Cache.CleanupInterval,
		Run: func(ctx context.Context) error {
			removed := queryCache.Cleanup()
			if removed > 0 {
				instr.CacheEvictions.WithLabelValues("expired").Add(float64(removed))
			}
			instr.CacheEntries.Set(float64(queryCache.Len()))
			return nil
		},
	})

	if err := sched.Start(rootCtx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	router := api.NewRouter(cfg, api.Dependencies{
		DB:       db,
		Redis:    redis,
		Alerts:   alertRepo,
		Health:   healthRepo,
		Cache:    queryCache,
		Limiters: limiters,
		Breakers: breakers,
		Audit:    auditRepo,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	rootCancel()

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

func mustAdd(s *scheduler.Scheduler, task scheduler.Task) {
	if err := s.Add(task); err != nil {
		log.Fatalf("Failed to register task %s: %v", task.Name, err)
	}
}
