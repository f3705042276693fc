package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/og/pkg/observability"
	"github.com/platinummonkey/og/pkg/storage"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Observability configuration
	Observability ObservabilityConfig

	// Groups configuration
	Groups GroupsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// GroupsConfig holds settings for the group engine itself
type GroupsConfig struct {
	// SettingsPath is the og.settings YAML file. Empty keeps settings in memory.
	SettingsPath string
	// WatchSettings reloads the file when it changes on disk
	WatchSettings bool
	// PurgeSchedule is a cron spec for the orphan purge. Empty disables it.
	PurgeSchedule string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Observability: loadObservabilityConfig(),
		Groups:        loadGroupsConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("OG_HOST", "0.0.0.0"),
		Port:            getEnv("OG_PORT", "8080"),
		ReadTimeout:     getEnvDuration("OG_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("OG_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("OG_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("OG_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("OG_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if driver := getEnv("OG_DATABASE_DRIVER", ""); driver != "" {
		cfg.Driver = driver
	}
	if dbURL := getEnv("OG_DATABASE_URL", ""); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if maxConns := getEnvInt("OG_DATABASE_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("OG_DATABASE_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("OG_DATABASE_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}

	// Redis config
	if redisURL := getEnv("OG_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("OG_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("OG_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("OG_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("OG_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	cfg.CacheEnabled = getEnvBool("OG_CACHE_ENABLED", cfg.CacheEnabled)
	if ttl := getEnvDuration("OG_SNAPSHOT_TTL", 0); ttl > 0 {
		cfg.CacheTTL["snapshot"] = ttl
	}
	if ttl := getEnvDuration("OG_ROLE_CACHE_TTL", 0); ttl > 0 {
		cfg.CacheTTL["role"] = ttl
	}
	if size := getEnvInt("OG_ROLE_CACHE_SIZE", 0); size > 0 {
		cfg.RoleCacheSize = size
	}

	return cfg
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("OG_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("OG_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("OG_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OG_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OG_OTEL_SERVICE_NAME", "og"),
		OTelServiceVersion: getEnv("OG_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("OG_OTEL_INSECURE", true),
	}
}

func loadGroupsConfig() GroupsConfig {
	return GroupsConfig{
		SettingsPath:  getEnv("OG_SETTINGS_PATH", "og.settings.yaml"),
		WatchSettings: getEnvBool("OG_WATCH_SETTINGS", true),
		PurgeSchedule: getEnv("OG_PURGE_SCHEDULE", "@hourly"),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Driver {
	case storage.DriverPostgres, storage.DriverSQLite:
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Storage.Driver)
	}
	if c.Storage.DatabaseURL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Groups.PurgeSchedule != "" {
		if _, err := cron.ParseStandard(c.Groups.PurgeSchedule); err != nil {
			return fmt.Errorf("invalid purge schedule %q: %w", c.Groups.PurgeSchedule, err)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
