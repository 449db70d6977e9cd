package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/cryptopipe/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, expanding environment variables first,
// and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if c.Provider.APIKeyHeader == "" {
		c.Provider.APIKeyHeader = "x-cg-api-key"
	}
	if c.Provider.VsCurrency == "" {
		c.Provider.VsCurrency = "usd"
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = 30 * time.Second
	}
	if c.Provider.APIKey == "" {
		c.Provider.APIKey = os.Getenv("COINGECKO_API_KEY")
	}

	e := &c.Extraction
	if e.RateLimitDelay == nil {
		d := 2.0
		e.RateLimitDelay = &d
	}
	if e.MaxRetries == nil {
		n := 3
		e.MaxRetries = &n
	}
	if e.RetryBackoffFactor == 0 {
		e.RetryBackoffFactor = 1.5
	}
	if e.BaseDelay == nil {
		d := 1.0
		e.BaseDelay = &d
	}
	if e.MaxWindowDays == nil {
		n := domain.DefaultMaxWindowDays
		e.MaxWindowDays = &n
	}
	if e.DefaultDays == 0 {
		e.DefaultDays = 30
	}
	if len(e.Assets) == 0 {
		e.Assets = append([]domain.Asset(nil), domain.DefaultAssets...)
	}

	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.Cooldown == 0 {
		c.Breaker.Cooldown = time.Minute
	}

	if c.Storage.Driver == "" {
		switch {
		case c.Database.URL != "":
			c.Storage.Driver = StorageDriverPostgres
		case c.ClickHouse.DSN != "":
			c.Storage.Driver = StorageDriverClickHouse
		default:
			c.Storage.Driver = StorageDriverMemory
		}
	}
}

// Validate reports setup errors that must abort a run before any asset is attempted.
func (c *AppConfig) Validate() error {
	e := c.Extraction
	if *e.RateLimitDelay < 0 {
		return fmt.Errorf("%w: rate_limit_delay must be >= 0", domain.ErrValidation)
	}
	if *e.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0", domain.ErrValidation)
	}
	if e.RetryBackoffFactor <= 1 {
		return fmt.Errorf("%w: retry_backoff_factor must be > 1", domain.ErrValidation)
	}
	if *e.BaseDelay < 0 {
		return fmt.Errorf("%w: base_delay must be >= 0", domain.ErrValidation)
	}
	if e.MaxBackoff < 0 {
		return fmt.Errorf("%w: max_backoff must be >= 0", domain.ErrValidation)
	}
	if *e.MaxWindowDays < 0 {
		return fmt.Errorf("%w: max_window_days must be >= 0", domain.ErrValidation)
	}
	if c.Breaker.FailureThreshold < 0 || c.Breaker.Cooldown < 0 {
		return fmt.Errorf("%w: breaker settings must be >= 0", domain.ErrValidation)
	}
	if err := domain.ValidateAssets(e.Assets); err != nil {
		return err
	}
	if _, err := c.Window(time.Now()); err != nil {
		return err
	}

	switch c.Storage.Driver {
	case StorageDriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("%w: database.url is required for the postgres driver", domain.ErrValidation)
		}
	case StorageDriverClickHouse:
		if c.ClickHouse.DSN == "" {
			return fmt.Errorf("%w: clickhouse.dsn is required for the clickhouse driver", domain.ErrValidation)
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("%w: unknown storage driver %q", domain.ErrValidation, c.Storage.Driver)
	}
	return nil
}

// Window resolves the configured dates. A missing to_date means today and
// a missing from_date means default_days before to_date.
func (c *AppConfig) Window(now time.Time) (domain.ExtractionWindow, error) {
	e := c.Extraction
	to := domain.TruncateDay(now)
	if e.ToDate != "" {
		t, err := time.Parse(domain.DateLayout, e.ToDate)
		if err != nil {
			return domain.ExtractionWindow{}, fmt.Errorf("%w: to_date %q: %v", domain.ErrValidation, e.ToDate, err)
		}
		to = t
	}

	from := to.AddDate(0, 0, -(e.DefaultDays - 1))
	if e.FromDate != "" {
		f, err := time.Parse(domain.DateLayout, e.FromDate)
		if err != nil {
			return domain.ExtractionWindow{}, fmt.Errorf("%w: from_date %q: %v", domain.ErrValidation, e.FromDate, err)
		}
		from = f
	}

	return domain.ExtractionWindow{From: from, To: to}, nil
}

// RateLimitInterval converts rate_limit_delay to a duration.
func (e ExtractionConfig) RateLimitInterval() time.Duration {
	return seconds(*e.RateLimitDelay)
}

// BaseDelayDuration converts base_delay to a duration.
func (e ExtractionConfig) BaseDelayDuration() time.Duration {
	return seconds(*e.BaseDelay)
}

// MaxBackoffDuration converts max_backoff to a duration.
func (e ExtractionConfig) MaxBackoffDuration() time.Duration {
	return seconds(e.MaxBackoff)
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
