package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the memestream server
type Config struct {
	Port string

	// Record store
	DatabaseURL string

	// Chain oracle
	RPCURL          string
	OracleTimeout   time.Duration
	OracleRPS       float64
	FreshnessWindow time.Duration

	// Sessions
	JWTSecret  string
	SessionTTL time.Duration

	// Broadcast; empty disables cross-instance fan-out
	RedisURL string

	// Charts
	ChartBucket time.Duration

	// Per-client API rate limit
	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel       string
	MetricsEnabled bool
}

// Load reads configuration from environment variables and validates it
func Load() (Config, error) {
	cfg := Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RPCURL:      getEnv("RPC_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.SessionTTL, err = parseDurationEnv("SESSION_TTL", time.Hour); err != nil {
		return cfg, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}
	if cfg.FreshnessWindow, err = parseDurationEnv("FRESHNESS_WINDOW", 180*time.Second); err != nil {
		return cfg, fmt.Errorf("invalid FRESHNESS_WINDOW: %w", err)
	}
	if cfg.OracleTimeout, err = parseDurationEnv("ORACLE_TIMEOUT", 10*time.Second); err != nil {
		return cfg, fmt.Errorf("invalid ORACLE_TIMEOUT: %w", err)
	}
	if cfg.ChartBucket, err = parseDurationEnv("CHART_BUCKET", 5*time.Minute); err != nil {
		return cfg, fmt.Errorf("invalid CHART_BUCKET: %w", err)
	}
	if cfg.OracleRPS, err = parseFloatEnv("ORACLE_RPS", 5); err != nil {
		return cfg, fmt.Errorf("invalid ORACLE_RPS: %w", err)
	}
	if cfg.RateLimitRPS, err = parseFloatEnv("RATE_LIMIT_RPS", 2); err != nil {
		return cfg, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}
	if cfg.RateLimitBurst, err = parseIntEnv("RATE_LIMIT_BURST", 20); err != nil {
		return cfg, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}
	if cfg.MetricsEnabled, err = parseBoolEnv("METRICS_ENABLED", true); err != nil {
		return cfg, fmt.Errorf("invalid METRICS_ENABLED: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks that the configuration is valid
func (c Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.FreshnessWindow <= 0 {
		return fmt.Errorf("FRESHNESS_WINDOW must be positive")
	}
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT must be positive")
	}
	if c.ChartBucket < time.Second {
		return fmt.Errorf("CHART_BUCKET must be at least 1s")
	}
	if c.OracleRPS <= 0 || c.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1")
	}

	validLogLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be one of: trace, debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(str)
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.ParseFloat(str, 64)
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.ParseBool(str)
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(str)
}
