package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/extraction/metrics"
)

// Manager is the single entry point to persisted data. Writes are serialised
// so only one upsert, purge or audit insert is in flight at a time.
type Manager struct {
	data    MarketDataRepository
	logs    ExtractionLogRepository
	closeFn func() error
	pingFn  func(ctx context.Context) error
	writeMu sync.Mutex
	log     *slog.Logger
}

// NewManager wraps a backend. The logger may be nil.
func NewManager(b Backend, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		data:    b.MarketData,
		logs:    b.Logs,
		closeFn: b.Close,
		pingFn:  b.Ping,
		log:     log,
	}
}

// Upsert inserts points, keeping rows that already exist. Returns the number
// of rows that were new.
func (m *Manager) Upsert(ctx context.Context, points []domain.MarketDataPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	n, err := m.data.Upsert(ctx, points)
	if err != nil {
		return 0, persistenceErr("upsert market data", err)
	}
	return n, nil
}

// AppendLog writes an audit entry. A failure is logged and returned; the
// caller decides whether it matters.
func (m *Manager) AppendLog(ctx context.Context, entry *domain.ExtractionLogEntry) error {
	m.writeMu.Lock()
	err := m.logs.Append(ctx, entry)
	m.writeMu.Unlock()

	if err != nil {
		metrics.AuditWriteFailures.Inc()
		m.log.Error("audit log write failed",
			"asset", entry.AssetID,
			"status", entry.Status,
			"error", err,
		)
		return persistenceErr("append extraction log", err)
	}
	return nil
}

// QueryRange returns one asset's points whose date is in [from, to].
func (m *Manager) QueryRange(ctx context.Context, assetID string, from, to time.Time) ([]domain.MarketDataPoint, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: range end %s before start %s", domain.ErrValidation,
			to.Format(domain.DateLayout), from.Format(domain.DateLayout))
	}
	points, err := m.data.QueryRange(ctx, assetID, from, to)
	if err != nil {
		return nil, persistenceErr("query range", err)
	}
	return points, nil
}

func (m *Manager) Stats(ctx context.Context, assetIDs ...string) (*domain.StoreStats, error) {
	stats, err := m.data.Stats(ctx, assetIDs...)
	if err != nil {
		return nil, persistenceErr("stats", err)
	}
	return stats, nil
}

func (m *Manager) ExtractionStats(ctx context.Context) (*domain.ExtractionStats, error) {
	stats, err := m.logs.Stats(ctx)
	if err != nil {
		return nil, persistenceErr("extraction stats", err)
	}
	return stats, nil
}

func (m *Manager) RecentLogs(ctx context.Context, limit int) ([]domain.ExtractionLogEntry, error) {
	entries, err := m.logs.Recent(ctx, limit)
	if err != nil {
		return nil, persistenceErr("recent logs", err)
	}
	return entries, nil
}

// DeleteAsset purges the stored rows of one asset. The audit log is kept.
func (m *Manager) DeleteAsset(ctx context.Context, assetID string) (int64, error) {
	if assetID == "" {
		return 0, fmt.Errorf("%w: asset id is required", domain.ErrValidation)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	n, err := m.data.DeleteAsset(ctx, assetID)
	if err != nil {
		return 0, persistenceErr("delete asset", err)
	}
	m.log.Info("Purged asset data", "asset", assetID, "rows", n)
	return n, nil
}

// Ping checks backend connectivity. Backends without a ping are always healthy.
func (m *Manager) Ping(ctx context.Context) error {
	if m.pingFn == nil {
		return nil
	}
	return m.pingFn(ctx)
}

func (m *Manager) Close() error {
	if m.closeFn == nil {
		return nil
	}
	return m.closeFn()
}

// persistenceErr makes sure err matches ErrPersistence unless it is a cancellation.
func persistenceErr(op string, err error) error {
	if domain.IsCancellation(err) || errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}
