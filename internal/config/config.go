// Package config provides configuration loading for the fullsend services.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration shared by the fullsend services. Each
// service reads the subset it needs.
type Config struct {
	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Store configuration
	StoreType string // "memory" or "redis"
	RunTTL    time.Duration

	// Executor configuration
	SchedulerMode      string // "trigger", "interval", or "continuous"
	ScanInterval       time.Duration
	ContinuousInterval time.Duration
	ContinuousBatch    int
	ToolTimeout        time.Duration
	MaxAttempts        int
	RetryBackoff       time.Duration

	// Monitor configuration
	AlertCooldown   time.Duration
	CheckInterval   time.Duration
	SummaryInterval time.Duration

	// Dashboard configuration
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Tracing
	OTLPEndpoint   string
	TracingEnabled bool

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment (plus an optional .env
// file) with sensible defaults.
func Load() *Config {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	return &Config{
		// Redis
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		// Store
		StoreType: getEnv("FULLSEND_STORE", "redis"), // "memory" or "redis"
		RunTTL:    getDuration("RUN_TTL", 30*24*time.Hour),

		// Executor
		SchedulerMode:      getEnv("SCHEDULER_MODE", "trigger"),
		ScanInterval:       getDuration("SCAN_INTERVAL", 60*time.Second),
		ContinuousInterval: getDuration("CONTINUOUS_INTERVAL", 10*time.Second),
		ContinuousBatch:    getInt("CONTINUOUS_BATCH", 3),
		ToolTimeout:        getDuration("TOOL_TIMEOUT", 300*time.Second),
		MaxAttempts:        getInt("TOOL_MAX_ATTEMPTS", 3),
		RetryBackoff:       getDuration("TOOL_RETRY_BACKOFF", time.Second),

		// Monitor
		AlertCooldown:   getDuration("ALERT_COOLDOWN", 300*time.Second),
		CheckInterval:   getDuration("THRESHOLD_CHECK_INTERVAL", 60*time.Second),
		SummaryInterval: getDuration("SUMMARY_INTERVAL", time.Hour),

		// Dashboard
		Port:          getEnv("PORT", "8080"),
		ReadTimeout:   getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  getDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownGrace: getDuration("SHUTDOWN_GRACE", 10*time.Second),

		// Rate limiting
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 50.0),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 100),

		// Tracing
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled: getBool("TRACING_ENABLED", false),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// Logger builds the process logger from the configured level and format.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
