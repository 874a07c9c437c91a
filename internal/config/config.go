// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Import    ImportConfig
	Valuation ValuationConfig
	Rate      RateLimitConfig
	Security  SecurityConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 5m, imports run inline)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"5m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for estimate requests (default: 30s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate applies pending migrations when the server starts (default: false)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"false"`
}

// ImportConfig holds market feed import settings.
type ImportConfig struct {
	// BatchSize is the number of listings persisted per flush (default: 5000)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"5000"`

	// MaxConcurrent is the number of import runs allowed at once (default: 1)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"1"`

	// AcquireTimeout is how long to wait for an import slot (default: 30s)
	AcquireTimeout time.Duration `env:"IMPORT_ACQUIRE_TIMEOUT" default:"30s"`

	// MaxUploadSize is the largest feed accepted over HTTP in bytes (default: 100MB)
	MaxUploadSize int64 `env:"IMPORT_MAX_UPLOAD_SIZE" default:"104857600"`

	// FetchRetries is the number of attempts for URL feeds (default: 3)
	FetchRetries int `env:"IMPORT_FETCH_RETRIES" default:"3"`

	// FetchBackoff is the initial delay between URL fetch attempts (default: 1s)
	FetchBackoff time.Duration `env:"IMPORT_FETCH_BACKOFF" default:"1s"`
}

// ValuationConfig selects the valuation policies and their constants.
type ValuationConfig struct {
	// Filter is the outlier policy: trim or stddev (default: trim)
	Filter string `env:"VALUATION_FILTER" default:"trim"`

	// Estimator is the price model: adjusted_mean or regression (default: adjusted_mean)
	Estimator string `env:"VALUATION_ESTIMATOR" default:"adjusted_mean"`

	// Ranking orders the returned comparables: price or distance (default: price)
	Ranking string `env:"VALUATION_RANKING" default:"price"`

	// TrimFraction is the share of comparables dropped from each price extreme (default: 0.05)
	TrimFraction float64 `env:"OUTLIER_TRIM_PCT" default:"0.05"`

	// StdDevMultiple is the band half-width for the stddev filter (default: 2)
	StdDevMultiple float64 `env:"OUTLIER_STDDEV_MULTIPLE" default:"2"`

	// DepreciationPer10k is dollars per 10,000 miles off the median (default: 300)
	DepreciationPer10k int `env:"DEPRECIATION_PER_10K" default:"300"`

	// Statuses restricts comparables to these listing statuses; empty means all
	Statuses []string `env:"VALUATION_STATUSES"`
}

// RateLimitConfig holds rate limiting settings for the JSON API.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the per-IP limit for /api routes (default: 120)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"120"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
