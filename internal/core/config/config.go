package config

import (
	"time"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	redisclient "github.com/vietddude/cryptopipe/internal/infra/redis"
	"github.com/vietddude/cryptopipe/internal/infra/storage/clickhouse"
	"github.com/vietddude/cryptopipe/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Logging    LoggingConfig      `yaml:"logging"`
	Provider   ProviderConfig     `yaml:"provider"`
	Extraction ExtractionConfig   `yaml:"extraction"`
	Breaker    BreakerConfig      `yaml:"breaker"`
	Storage    StorageConfig      `yaml:"storage"`
	Database   postgres.Config    `yaml:"database"`
	ClickHouse clickhouse.Config  `yaml:"clickhouse"`
	Redis      redisclient.Config `yaml:"redis"`
}

// ServerConfig holds the health/metrics HTTP server settings. Port 0 disables it.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ProviderConfig describes the upstream market data API.
type ProviderConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	APIKeyHeader string        `yaml:"api_key_header"`
	VsCurrency   string        `yaml:"vs_currency"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ExtractionConfig holds the window, pacing and retry settings of a run.
type ExtractionConfig struct {
	FromDate string `yaml:"from_date"` // YYYY-MM-DD
	ToDate   string `yaml:"to_date"`   // YYYY-MM-DD

	// Seconds between request starts. Pointers distinguish an explicit 0 from unset.
	RateLimitDelay     *float64 `yaml:"rate_limit_delay"`
	MaxRetries         *int     `yaml:"max_retries"`
	RetryBackoffFactor float64  `yaml:"retry_backoff_factor"`
	BaseDelay          *float64 `yaml:"base_delay"`  // seconds
	MaxBackoff         float64  `yaml:"max_backoff"` // seconds, 0 = uncapped

	MaxWindowDays *int           `yaml:"max_window_days"` // 0 = uncapped
	DefaultDays   int            `yaml:"default_days"`    // window length when dates are omitted
	Assets        []domain.Asset `yaml:"assets"`
}

// BreakerConfig configures the upstream circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// StorageConfig selects the store backend: postgres, clickhouse or memory.
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

const (
	StorageDriverPostgres   = "postgres"
	StorageDriverClickHouse = "clickhouse"
	StorageDriverMemory     = "memory"
)
