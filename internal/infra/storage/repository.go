package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/cryptopipe/internal/core/domain"
)

var (
	// ErrNotFound is returned when a lookup matches nothing
	ErrNotFound = errors.New("not found")

	// ErrQueueEmpty is returned by FailedWindowRepository.GetNext on an empty queue
	ErrQueueEmpty = errors.New("failed window queue empty")
)

// MarketDataRepository handles market_data storage operations
type MarketDataRepository interface {
	// Upsert inserts points in one transaction. A row that already exists
	// for the same (asset_id, timestamp_ms) is kept untouched. Returns the
	// number of rows actually inserted.
	Upsert(ctx context.Context, points []domain.MarketDataPoint) (int, error)

	// QueryRange returns the points of one asset whose date lies in
	// [from, to], ordered by timestamp ascending.
	QueryRange(ctx context.Context, assetID string, from, to time.Time) ([]domain.MarketDataPoint, error)

	// Stats returns per-asset row counts and date bounds. No ids means all assets.
	Stats(ctx context.Context, assetIDs ...string) (*domain.StoreStats, error)

	// DeleteAsset removes every row of one asset and returns the count removed.
	DeleteAsset(ctx context.Context, assetID string) (int64, error)
}

// ExtractionLogRepository handles the append-only extraction_log table
type ExtractionLogRepository interface {
	// Append inserts an entry and assigns its ID.
	Append(ctx context.Context, entry *domain.ExtractionLogEntry) error

	// Recent returns the newest entries first.
	Recent(ctx context.Context, limit int) ([]domain.ExtractionLogEntry, error)

	// Stats aggregates the whole log.
	Stats(ctx context.Context) (*domain.ExtractionStats, error)
}

// FailedWindowRepository queues windows that failed with a retryable error
type FailedWindowRepository interface {
	// Add queues a failed window.
	Add(ctx context.Context, fw *domain.FailedWindow) error

	// GetNext returns the pending window with the fewest retries, or ErrQueueEmpty.
	GetNext(ctx context.Context) (*domain.FailedWindow, error)

	// IncrementRetry bumps the retry count of a queued window.
	IncrementRetry(ctx context.Context, id string) error

	// MarkResolved removes a window from the queue.
	MarkResolved(ctx context.Context, id string) error

	// GetAll lists every queued window.
	GetAll(ctx context.Context) ([]*domain.FailedWindow, error)

	// Count returns the queue length.
	Count(ctx context.Context) (int, error)
}

// Backend bundles the repositories of one storage driver.
type Backend struct {
	MarketData MarketDataRepository
	Logs       ExtractionLogRepository

	// Close releases the backend's connections. May be nil.
	Close func() error

	// Ping checks connectivity. May be nil.
	Ping func(ctx context.Context) error
}
