// Package control builds the pipeline from configuration and exposes the
// operations the CLI drives.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/cryptopipe/internal/core/config"
	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/extraction/health"
	"github.com/vietddude/cryptopipe/internal/extraction/orchestrator"
	"github.com/vietddude/cryptopipe/internal/extraction/recovery"
	"github.com/vietddude/cryptopipe/internal/infra/coingecko"
	redisclient "github.com/vietddude/cryptopipe/internal/infra/redis"
	"github.com/vietddude/cryptopipe/internal/infra/rpc"
	"github.com/vietddude/cryptopipe/internal/infra/rpc/provider"
	"github.com/vietddude/cryptopipe/internal/infra/rpc/routing"
	"github.com/vietddude/cryptopipe/internal/infra/storage"
	"github.com/vietddude/cryptopipe/internal/infra/storage/clickhouse"
	"github.com/vietddude/cryptopipe/internal/infra/storage/memory"
	"github.com/vietddude/cryptopipe/internal/infra/storage/postgres"
)

// ErrDrainLocked is returned when another process holds the drain lock.
var ErrDrainLocked = errors.New("another retry-failed drain is in progress")

const (
	drainLockName = "drain"
	drainLockTTL  = 2 * time.Minute
	stopTimeout   = 10 * time.Second
)

// App holds every component of a configured pipeline.
type App struct {
	cfg *config.AppConfig
	log *slog.Logger

	store    *storage.Manager
	rpc      *rpc.Client
	gecko    *coingecko.Client
	orch     *orchestrator.Orchestrator
	failed   storage.FailedWindowRepository
	recovery *recovery.Handler

	db    *postgres.DB
	ch    *clickhouse.Conn
	redis *redisclient.Client

	healthMon    *health.Monitor
	healthServer *health.Server

	cancelBackground context.CancelFunc
}

// Option customises New.
type Option func(*options)

type options struct {
	log         *slog.Logger
	providerOpt provider.Option
	now         func() time.Time
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithProviderOption passes an option to the HTTP provider, e.g. a test transport.
func WithProviderOption(opt provider.Option) Option {
	return func(o *options) { o.providerOpt = opt }
}

// WithClock overrides the time source used for windows and audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New validates cfg and builds the pipeline. Storage is connected and
// migrated here.
func New(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*App, error) {
	o := options{log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: o.log}
	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancelBackground = cancel

	// 1. Storage
	backend, mem, err := a.openStorage(ctx, bgCtx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = storage.NewManager(backend, o.log)

	// 2. Failed window queue
	if cfg.Redis.URL != "" {
		a.redis, err = redisclient.NewClient(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		a.failed = redisclient.NewFailedWindowRepo(a.redis)
		a.log.Info("Using Redis failed window queue")
	} else {
		if mem == nil {
			mem = memory.NewMemoryStorage()
		}
		a.failed = memory.NewFailedWindowRepo(mem)
		a.log.Debug("Using in-process failed window queue")
	}
	a.recovery = recovery.NewHandler(a.failed, nil, o.log)
	a.recovery.SetClock(o.now)

	// 3. Upstream
	providerOpts := []provider.Option{}
	if cfg.Provider.APIKey != "" {
		providerOpts = append(providerOpts, provider.WithAPIKey(cfg.Provider.APIKeyHeader, cfg.Provider.APIKey))
	}
	if o.providerOpt != nil {
		providerOpts = append(providerOpts, o.providerOpt)
	}
	p := rpc.NewHTTPProvider("coingecko", cfg.Provider.BaseURL, cfg.Provider.Timeout, providerOpts...)

	var breaker *routing.Breaker
	if cfg.Breaker.FailureThreshold > 0 {
		breaker = rpc.NewBreaker("coingecko", rpc.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown,
		}, routing.WithBreakerLogger(o.log))
	}

	a.rpc = rpc.NewClient(p, rpc.NewGovernor(cfg.Extraction.RateLimitInterval()), breaker, RetryPolicy(cfg.Extraction))
	a.rpc.SetLogger(o.log)

	a.gecko = coingecko.NewClient(a.rpc,
		coingecko.WithVsCurrency(cfg.Provider.VsCurrency),
		coingecko.WithMaxWindowDays(*cfg.Extraction.MaxWindowDays),
		coingecko.WithClock(o.now),
		coingecko.WithLogger(o.log),
	)

	// 4. Orchestration
	a.orch = orchestrator.New(a.gecko, a.store,
		orchestrator.WithLogger(o.log),
		orchestrator.WithClock(o.now),
		orchestrator.WithRecovery(a.recovery),
	)

	// 5. Health
	a.healthMon = health.NewMonitor(p, breaker, a.store, a.failed)
	a.healthMon.SetGovernor(a.rpc.Governor())
	if cfg.Server.Port > 0 {
		a.healthServer = health.NewServer(a.healthMon, cfg.Server.Port)
	}

	return a, nil
}

// RetryPolicy converts the extraction settings to the client's retry policy.
func RetryPolicy(e config.ExtractionConfig) routing.RetryPolicy {
	return routing.RetryPolicy{
		MaxRetries:    *e.MaxRetries,
		BaseDelay:     e.BaseDelayDuration(),
		BackoffFactor: e.RetryBackoffFactor,
		MaxDelay:      e.MaxBackoffDuration(),
	}
}

func (a *App) openStorage(ctx, bgCtx context.Context) (storage.Backend, *memory.MemoryStorage, error) {
	switch a.cfg.Storage.Driver {
	case config.StorageDriverPostgres:
		db, err := postgres.NewDB(ctx, a.cfg.Database)
		if err != nil {
			return storage.Backend{}, nil, fmt.Errorf("failed to init db: %w", err)
		}
		a.db = db
		if err := postgres.Migrate(ctx, db); err != nil {
			return storage.Backend{}, nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		db.StartMetricsCollector(bgCtx)
		a.log.Info("Using PostgreSQL storage", "driver", a.cfg.Database.Driver)
		return postgres.NewBackend(db), nil, nil

	case config.StorageDriverClickHouse:
		conn, err := clickhouse.NewConn(ctx, a.cfg.ClickHouse.DSN)
		if err != nil {
			return storage.Backend{}, nil, fmt.Errorf("failed to init clickhouse: %w", err)
		}
		a.ch = conn
		if err := clickhouse.EnsureSchema(ctx, conn); err != nil {
			return storage.Backend{}, nil, fmt.Errorf("failed to create clickhouse schema: %w", err)
		}
		a.log.Info("Using ClickHouse storage")
		return clickhouse.NewBackend(conn), nil, nil

	default:
		mem := memory.NewMemoryStorage()
		a.log.Info("Using Memory storage")
		return mem.Backend(), mem, nil
	}
}

// Window resolves the configured extraction window.
func (a *App) Window(now time.Time) (domain.ExtractionWindow, error) {
	return a.cfg.Window(now)
}

// Assets returns the configured asset list.
func (a *App) Assets() []domain.Asset {
	return a.cfg.Extraction.Assets
}

// Run extracts window for assets. The health server, when configured, is up
// for the duration of the run.
func (a *App) Run(ctx context.Context, assets []domain.Asset, window domain.ExtractionWindow) (*orchestrator.Summary, error) {
	stop := a.startHealthServer()
	defer stop()

	return a.orch.Run(ctx, assets, window)
}

// UpdateAsset runs a single asset.
func (a *App) UpdateAsset(ctx context.Context, asset domain.Asset, window domain.ExtractionWindow) (*orchestrator.Summary, error) {
	return a.orch.UpdateAsset(ctx, asset, window)
}

// RetryFailed drains the failed window queue. With Redis configured only
// one process drains at a time.
func (a *App) RetryFailed(ctx context.Context, opts recovery.DrainOptions) (recovery.DrainResult, error) {
	if a.redis != nil {
		ok, err := a.redis.AcquireLock(ctx, drainLockName, drainLockTTL)
		if err != nil {
			return recovery.DrainResult{}, fmt.Errorf("failed to acquire drain lock: %w", err)
		}
		if !ok {
			return recovery.DrainResult{}, ErrDrainLocked
		}
		defer func() {
			if err := a.redis.ReleaseLock(context.WithoutCancel(ctx), drainLockName); err != nil {
				a.log.Warn("Failed to release drain lock", "error", err)
			}
		}()

		lockCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go a.keepLock(lockCtx)
	}

	return a.orch.RetryFailed(ctx, opts)
}

func (a *App) keepLock(ctx context.Context) {
	ticker := time.NewTicker(drainLockTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.redis.RefreshLock(ctx, drainLockName, drainLockTTL); err != nil && ctx.Err() == nil {
				a.log.Warn("Failed to refresh drain lock", "error", err)
			}
		}
	}
}

// PendingFailures lists the queued windows.
func (a *App) PendingFailures(ctx context.Context) ([]*domain.FailedWindow, error) {
	return a.recovery.Pending(ctx)
}

// Status returns per-asset stats for the given ids, or all assets.
func (a *App) Status(ctx context.Context, assetIDs ...string) (*domain.StoreStats, error) {
	return a.store.Stats(ctx, assetIDs...)
}

// Logs returns the newest audit entries and the aggregate stats.
func (a *App) Logs(ctx context.Context, limit int) ([]domain.ExtractionLogEntry, *domain.ExtractionStats, error) {
	entries, err := a.store.RecentLogs(ctx, limit)
	if err != nil {
		return nil, nil, err
	}
	stats, err := a.store.ExtractionStats(ctx)
	if err != nil {
		return nil, nil, err
	}
	return entries, stats, nil
}

// Query returns the stored points of one asset between two dates.
func (a *App) Query(ctx context.Context, assetID string, from, to time.Time) ([]domain.MarketDataPoint, error) {
	return a.store.QueryRange(ctx, assetID, from, to)
}

// Purge deletes every stored row of one asset.
func (a *App) Purge(ctx context.Context, assetID string) (int64, error) {
	return a.store.DeleteAsset(ctx, assetID)
}

// Ping checks the upstream.
func (a *App) Ping(ctx context.Context) (string, error) {
	return a.gecko.Ping(ctx)
}

// Health returns the current health report.
func (a *App) Health(ctx context.Context) *health.HealthReport {
	return a.healthMon.CheckHealth(ctx)
}

// Maintain runs the backend's maintenance statement: VACUUM on Postgres,
// OPTIMIZE FINAL on ClickHouse. It is a no-op in memory.
func (a *App) Maintain(ctx context.Context) error {
	switch {
	case a.db != nil:
		return a.db.Vacuum(ctx)
	case a.ch != nil:
		return clickhouse.Optimize(ctx, a.ch)
	default:
		return nil
	}
}

func (a *App) startHealthServer() func() {
	if a.healthServer == nil {
		return func() {}
	}
	go func() {
		if err := a.healthServer.Start(); err != nil {
			a.log.Error("Health server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := a.healthServer.Stop(ctx); err != nil {
			a.log.Error("Error stopping health server", "error", err)
		}
	}
}

// Close releases every connection.
func (a *App) Close() error {
	if a.cancelBackground != nil {
		a.cancelBackground()
	}

	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	} else {
		if a.db != nil {
			errs = append(errs, a.db.Close())
		}
		if a.ch != nil {
			errs = append(errs, a.ch.Close())
		}
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
