package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Cache         CacheConfig         `yaml:"cache"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Sweeper       SweeperConfig       `yaml:"sweeper"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds Redis configuration. Redis backs the tenant cache and
// the rate limiter; both fail open, so Redis may be disabled entirely.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// CacheConfig tunes the tenant and tier caches.
type CacheConfig struct {
	TenantTTL     time.Duration `yaml:"tenant_ttl"`
	TierCacheSize int           `yaml:"tier_cache_size"`
	TierCacheTTL  time.Duration `yaml:"tier_cache_ttl"`
}

// RateLimitConfig tunes the coupon redemption rate limit.
type RateLimitConfig struct {
	RedemptionPerWindow int           `yaml:"redemption_per_window"`
	RedemptionWindow    time.Duration `yaml:"redemption_window"`
}

// SweeperConfig holds cron schedules for the background sweeper binary.
type SweeperConfig struct {
	InvitationSchedule   string `yaml:"invitation_schedule"`
	CouponSchedule       string `yaml:"coupon_schedule"`
	SubscriptionSchedule string `yaml:"subscription_schedule"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Enabled: true,
			URL:     "redis://localhost:6379/0",
		},
		Cache: CacheConfig{
			TenantTTL:     5 * time.Minute,
			TierCacheSize: 1024,
			TierCacheTTL:  time.Minute,
		},
		RateLimit: RateLimitConfig{
			RedemptionPerWindow: 10,
			RedemptionWindow:    time.Minute,
		},
		Sweeper: SweeperConfig{
			InvitationSchedule:   "@every 1h",
			CouponSchedule:       "@every 1h",
			SubscriptionSchedule: "@every 15m",
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// SAASCORE_* environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("SAASCORE_HOST", c.Server.Host)
	c.Server.Port = getEnv("SAASCORE_PORT", c.Server.Port)
	c.Server.HealthPort = getEnv("SAASCORE_HEALTH_PORT", c.Server.HealthPort)
	c.Server.ReadTimeout = getEnvDuration("SAASCORE_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("SAASCORE_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("SAASCORE_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SAASCORE_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Database.URL = getEnv("SAASCORE_POSTGRES_URL", c.Database.URL)
	c.Database.MaxOpenConns = getEnvInt("SAASCORE_POSTGRES_MAX_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("SAASCORE_POSTGRES_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getEnvDuration("SAASCORE_POSTGRES_CONN_LIFETIME", c.Database.ConnMaxLifetime)

	c.Redis.Enabled = getEnvBool("SAASCORE_REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.URL = getEnv("SAASCORE_REDIS_URL", c.Redis.URL)

	c.Cache.TenantTTL = getEnvDuration("SAASCORE_TENANT_CACHE_TTL", c.Cache.TenantTTL)
	c.Cache.TierCacheSize = getEnvInt("SAASCORE_TIER_CACHE_SIZE", c.Cache.TierCacheSize)
	c.Cache.TierCacheTTL = getEnvDuration("SAASCORE_TIER_CACHE_TTL", c.Cache.TierCacheTTL)

	c.RateLimit.RedemptionPerWindow = getEnvInt("SAASCORE_REDEMPTION_LIMIT", c.RateLimit.RedemptionPerWindow)
	c.RateLimit.RedemptionWindow = getEnvDuration("SAASCORE_REDEMPTION_WINDOW", c.RateLimit.RedemptionWindow)

	c.Sweeper.InvitationSchedule = getEnv("SAASCORE_SWEEP_INVITATIONS", c.Sweeper.InvitationSchedule)
	c.Sweeper.CouponSchedule = getEnv("SAASCORE_SWEEP_COUPONS", c.Sweeper.CouponSchedule)
	c.Sweeper.SubscriptionSchedule = getEnv("SAASCORE_SWEEP_SUBSCRIPTIONS", c.Sweeper.SubscriptionSchedule)

	c.Observability.LogLevel = getEnv("SAASCORE_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("SAASCORE_METRICS_ENABLED", c.Observability.MetricsEnabled)
}

// Validate checks if the configuration is valid.
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
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required when redis is enabled")
	}
	if c.RateLimit.RedemptionPerWindow < 1 {
		return fmt.Errorf("redemption rate limit must be at least 1")
	}
	return nil
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
