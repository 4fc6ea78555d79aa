package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Logging   LoggingConfig   `json:"logging"`
	Services  ServicesConfig  `json:"services"`
	Monitor   MonitorConfig   `json:"monitor"`
	Alerting  AlertingConfig  `json:"alerting"`
	Retention RetentionConfig `json:"retention"`
	Notify    NotifyConfig    `json:"notify"`
	Cache     CacheConfig     `json:"cache"`
	Collector CollectorConfig `json:"collector"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	AutoMigrate     bool          `json:"auto_migrate"`
	MigrationsPath  string        `json:"migrations_path"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// ServiceLimitConfig holds the rate-limit and retry settings for one upstream.
// RequestsPerMinute and RequestsPerSecond are mutually exclusive.
type ServiceLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute"`
	RequestsPerSecond int           `json:"requests_per_second"`
	MinDelay          time.Duration `json:"min_delay"`
	MaxRetries        int           `json:"max_retries"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// ServicesConfig holds per-upstream limits
type ServicesConfig struct {
	CoinGecko ServiceLimitConfig `json:"coingecko"`
	Etherscan ServiceLimitConfig `json:"etherscan"`
	ChainRPC  ServiceLimitConfig `json:"chain_rpc"`
}

// MonitorConfig contains health monitoring configuration
type MonitorConfig struct {
	HealthInterval        time.Duration `json:"health_interval"`
	RPCEndpoint           string        `json:"rpc_endpoint"`
	RPCTimeout            time.Duration `json:"rpc_timeout"`
	StorageLatencyCeiling time.Duration `json:"storage_latency_ceiling"`
}

// AlertingConfig contains alert evaluation configuration
type AlertingConfig struct {
	EvaluateInterval time.Duration `json:"evaluate_interval"`
}

// RetentionConfig contains retention sweep configuration
type RetentionConfig struct {
	SweepInterval  time.Duration `json:"sweep_interval"`
	MetricMaxAge   time.Duration `json:"metric_max_age"`
	AuditMaxAge    time.Duration `json:"audit_max_age"`
	ResolvedMaxAge time.Duration `json:"resolved_max_age"`
}

// NotifyConfig contains notification dispatcher configuration
type NotifyConfig struct {
	QueueKey        string        `json:"queue_key"`
	WebhookURL      string        `json:"webhook_url"`
	SlackWebhookURL string        `json:"slack_webhook_url"`
	SendTimeout     time.Duration `json:"send_timeout"`
}

// CollectorConfig contains upstream metric collection configuration
type CollectorConfig struct {
	Interval     time.Duration `json:"interval"`
	Timeout      time.Duration `json:"timeout"`
	CoinGeckoURL string        `json:"coingecko_url"`
	EtherscanURL string        `json:"etherscan_url"`
	EtherscanKey string        `json:"etherscan_key"`
	Assets       []string      `json:"assets"`
}

// CacheConfig contains query cache configuration
type CacheConfig struct {
	DefaultTTL      time.Duration `json:"default_ttl"`
	PriceTTL        time.Duration `json:"price_ttl"`
	GasTTL          time.Duration `json:"gas_ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "chainwatch"),
			User:            getEnvString("DB_USER", "chainwatch"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
			MigrationsPath:  getEnvString("DB_MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Services: ServicesConfig{
			CoinGecko: ServiceLimitConfig{
				RequestsPerMinute: getEnvInt("COINGECKO_REQUESTS_PER_MINUTE", 30),
				MinDelay:          getEnvDuration("COINGECKO_MIN_DELAY", 2*time.Second),
				MaxRetries:        getEnvInt("COINGECKO_MAX_RETRIES", 3),
				BackoffMultiplier: getEnvFloat("COINGECKO_BACKOFF_MULTIPLIER", 2.0),
			},
			Etherscan: ServiceLimitConfig{
				RequestsPerSecond: getEnvInt("ETHERSCAN_REQUESTS_PER_SECOND", 5),
				MinDelay:          getEnvDuration("ETHERSCAN_MIN_DELAY", 200*time.Millisecond),
				MaxRetries:        getEnvInt("ETHERSCAN_MAX_RETRIES", 3),
				BackoffMultiplier: getEnvFloat("ETHERSCAN_BACKOFF_MULTIPLIER", 2.0),
			},
			ChainRPC: ServiceLimitConfig{
				RequestsPerSecond: getEnvInt("CHAIN_RPC_REQUESTS_PER_SECOND", 10),
				MinDelay:          getEnvDuration("CHAIN_RPC_MIN_DELAY", 50*time.Millisecond),
				MaxRetries:        getEnvInt("CHAIN_RPC_MAX_RETRIES", 2),
				BackoffMultiplier: getEnvFloat("CHAIN_RPC_BACKOFF_MULTIPLIER", 1.5),
			},
		},
		Monitor: MonitorConfig{
			HealthInterval:        getEnvDuration("HEALTH_CHECK_INTERVAL", time.Minute),
			RPCEndpoint:           getEnvString("CHAIN_RPC_ENDPOINT", "http://localhost:8545"),
			RPCTimeout:            getEnvDuration("CHAIN_RPC_TIMEOUT", 5*time.Second),
			StorageLatencyCeiling: getEnvDuration("STORAGE_LATENCY_CEILING", 250*time.Millisecond),
		},
		Alerting: AlertingConfig{
			EvaluateInterval: getEnvDuration("ALERT_EVALUATE_INTERVAL", 30*time.Second),
		},
		Retention: RetentionConfig{
			SweepInterval:  getEnvDuration("RETENTION_SWEEP_INTERVAL", 24*time.Hour),
			MetricMaxAge:   getEnvDuration("RETENTION_METRIC_MAX_AGE", 7*24*time.Hour),
			AuditMaxAge:    getEnvDuration("RETENTION_AUDIT_MAX_AGE", 30*24*time.Hour),
			ResolvedMaxAge: getEnvDuration("RETENTION_RESOLVED_MAX_AGE", 7*24*time.Hour),
		},
		Notify: NotifyConfig{
			QueueKey:        getEnvString("NOTIFY_QUEUE_KEY", "chainwatch:notifications"),
			WebhookURL:      getEnvString("NOTIFY_WEBHOOK_URL", ""),
			SlackWebhookURL: getEnvString("NOTIFY_SLACK_WEBHOOK_URL", ""),
			SendTimeout:     getEnvDuration("NOTIFY_SEND_TIMEOUT", 10*time.Second),
		},
		Cache: CacheConfig{
			DefaultTTL:      getEnvDuration("CACHE_DEFAULT_TTL", 5*time.Minute),
			PriceTTL:        getEnvDuration("CACHE_PRICE_TTL", time.Minute),
			GasTTL:          getEnvDuration("CACHE_GAS_TTL", 30*time.Second),
			CleanupInterval: getEnvDuration("CACHE_CLEANUP_INTERVAL", time.Hour),
		},
		Collector: CollectorConfig{
			Interval:     getEnvDuration("COLLECT_INTERVAL", time.Minute),
			Timeout:      getEnvDuration("COLLECT_TIMEOUT", 10*time.Second),
			CoinGeckoURL: getEnvString("COINGECKO_URL", "https://api.coingecko.com/api/v3"),
			EtherscanURL: getEnvString("ETHERSCAN_URL", "https://api.etherscan.io/api"),
			EtherscanKey: getEnvString("ETHERSCAN_API_KEY", ""),
			Assets:       splitList(getEnvString("COLLECT_ASSETS", "ethereum")),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	for name, svc := range map[string]ServiceLimitConfig{
		"coingecko": c.Services.CoinGecko,
		"etherscan": c.Services.Etherscan,
		"chain_rpc": c.Services.ChainRPC,
	} {
		if svc.RequestsPerMinute > 0 && svc.RequestsPerSecond > 0 {
			return fmt.Errorf("service %s: requests_per_minute and requests_per_second are mutually exclusive", name)
		}
		if svc.RequestsPerMinute <= 0 && svc.RequestsPerSecond <= 0 {
			return fmt.Errorf("service %s: a request budget is required", name)
		}
		if svc.BackoffMultiplier < 1 {
			return fmt.Errorf("service %s: backoff multiplier must be >= 1", name)
		}
	}

	if c.Retention.MetricMaxAge <= 0 || c.Retention.AuditMaxAge <= 0 || c.Retention.ResolvedMaxAge <= 0 {
		return fmt.Errorf("retention windows must be positive")
	}

	return nil
}

// DatabaseURL returns the database connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList parses a comma-separated env value, dropping empty elements
func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
