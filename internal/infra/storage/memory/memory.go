package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/infra/storage"
)

// MemoryStorage holds every table in process memory. It backs tests and the
// "memory" storage driver.
type MemoryStorage struct {
	points map[domain.PointKey]domain.MarketDataPoint
	logs   []domain.ExtractionLogEntry
	failed map[string]*domain.FailedWindow
	nextID int64
	now    func() time.Time
	mu     sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		points: make(map[domain.PointKey]domain.MarketDataPoint),
		failed: make(map[string]*domain.FailedWindow),
		now:    time.Now,
	}
}

// Backend returns the storage.Backend view of the store.
func (s *MemoryStorage) Backend() storage.Backend {
	return storage.Backend{
		MarketData: NewMarketDataRepo(s),
		Logs:       NewExtractionLogRepo(s),
	}
}

// -----------------------------------------------------------------------------
// Market Data Repository
// -----------------------------------------------------------------------------

type MarketDataRepo struct {
	store *MemoryStorage
}

func NewMarketDataRepo(store *MemoryStorage) *MarketDataRepo {
	return &MarketDataRepo{store: store}
}

var _ storage.MarketDataRepository = (*MarketDataRepo)(nil)

func (r *MarketDataRepo) Upsert(ctx context.Context, points []domain.MarketDataPoint) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	inserted := 0
	for _, p := range points {
		if _, ok := r.store.points[p.Key()]; ok {
			continue
		}
		r.store.points[p.Key()] = p
		inserted++
	}
	return inserted, nil
}

func (r *MarketDataRepo) QueryRange(ctx context.Context, assetID string, from, to time.Time) ([]domain.MarketDataPoint, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	from, to = domain.TruncateDay(from), domain.TruncateDay(to)
	out := []domain.MarketDataPoint{}
	for _, p := range r.store.points {
		if p.AssetID != assetID || p.Date.Before(from) || p.Date.After(to) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimestampMs < out[j].TimestampMs })
	return out, nil
}

func (r *MarketDataRepo) Stats(ctx context.Context, assetIDs ...string) (*domain.StoreStats, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	want := make(map[string]bool, len(assetIDs))
	for _, id := range assetIDs {
		want[id] = true
	}

	byAsset := make(map[string]*domain.AssetStats)
	for _, p := range r.store.points {
		if len(want) > 0 && !want[p.AssetID] {
			continue
		}
		a, ok := byAsset[p.AssetID]
		if !ok {
			a = &domain.AssetStats{AssetID: p.AssetID, Symbol: p.Symbol, FirstDate: p.Date, LastDate: p.Date}
			byAsset[p.AssetID] = a
		}
		a.Records++
		if p.Date.Before(a.FirstDate) {
			a.FirstDate = p.Date
		}
		if p.Date.After(a.LastDate) {
			a.LastDate = p.Date
		}
	}

	stats := &domain.StoreStats{Assets: make([]domain.AssetStats, 0, len(byAsset))}
	for _, a := range byAsset {
		stats.Assets = append(stats.Assets, *a)
		stats.TotalRecords += a.Records
	}
	sort.Slice(stats.Assets, func(i, j int) bool { return stats.Assets[i].AssetID < stats.Assets[j].AssetID })
	return stats, nil
}

func (r *MarketDataRepo) DeleteAsset(ctx context.Context, assetID string) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var n int64
	for k := range r.store.points {
		if k.AssetID == assetID {
			delete(r.store.points, k)
			n++
		}
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Extraction Log Repository
// -----------------------------------------------------------------------------

type ExtractionLogRepo struct {
	store *MemoryStorage
}

func NewExtractionLogRepo(store *MemoryStorage) *ExtractionLogRepo {
	return &ExtractionLogRepo{store: store}
}

var _ storage.ExtractionLogRepository = (*ExtractionLogRepo)(nil)

func (r *ExtractionLogRepo) Append(ctx context.Context, entry *domain.ExtractionLogEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.nextID++
	entry.ID = r.store.nextID
	entry.LoggedAt = r.store.now().UTC()
	r.store.logs = append(r.store.logs, *entry)
	return nil
}

func (r *ExtractionLogRepo) Recent(ctx context.Context, limit int) ([]domain.ExtractionLogEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	out := make([]domain.ExtractionLogEntry, 0, min(limit, len(r.store.logs)))
	for i := len(r.store.logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.store.logs[i])
	}
	return out, nil
}

// Entries returns every log entry in insertion order.
func (r *ExtractionLogRepo) Entries() []domain.ExtractionLogEntry {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return append([]domain.ExtractionLogEntry(nil), r.store.logs...)
}

func (r *ExtractionLogRepo) Stats(ctx context.Context) (*domain.ExtractionStats, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stats := &domain.ExtractionStats{}
	var totalDuration float64
	for _, e := range r.store.logs {
		stats.TotalExtractions++
		stats.TotalRecords += int64(e.RecordsInserted)
		totalDuration += e.DurationSeconds
		switch e.Status {
		case domain.StatusSuccess:
			stats.Successful++
		case domain.StatusPartial:
			stats.Partial++
		case domain.StatusFailed:
			stats.Failed++
		}
		if !stats.LastExtraction.Valid || e.LoggedAt.After(stats.LastExtraction.Time) {
			stats.LastExtraction.SetValid(e.LoggedAt)
		}
	}
	if stats.TotalExtractions > 0 {
		stats.AvgDurationSeconds = totalDuration / float64(stats.TotalExtractions)
	}
	return stats, nil
}

// -----------------------------------------------------------------------------
// Failed Window Repository
// -----------------------------------------------------------------------------

type FailedWindowRepo struct {
	store *MemoryStorage
}

func NewFailedWindowRepo(store *MemoryStorage) *FailedWindowRepo {
	return &FailedWindowRepo{store: store}
}

var _ storage.FailedWindowRepository = (*FailedWindowRepo)(nil)

func (r *FailedWindowRepo) Add(ctx context.Context, fw *domain.FailedWindow) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if fw.ID == "" {
		fw.ID = uuid.NewString()
	}
	if fw.FailedAt.IsZero() {
		fw.FailedAt = r.store.now().UTC()
	}
	cp := *fw
	r.store.failed[fw.ID] = &cp
	return nil
}

func (r *FailedWindowRepo) GetNext(ctx context.Context) (*domain.FailedWindow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var next *domain.FailedWindow
	for _, fw := range r.store.failed {
		if next == nil || fw.RetryCount < next.RetryCount ||
			(fw.RetryCount == next.RetryCount && fw.FailedAt.Before(next.FailedAt)) {
			next = fw
		}
	}
	if next == nil {
		return nil, storage.ErrQueueEmpty
	}
	cp := *next
	return &cp, nil
}

func (r *FailedWindowRepo) IncrementRetry(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	fw, ok := r.store.failed[id]
	if !ok {
		return storage.ErrNotFound
	}
	fw.RetryCount++
	fw.LastAttempt = r.store.now().UTC()
	return nil
}

func (r *FailedWindowRepo) MarkResolved(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.failed, id)
	return nil
}

func (r *FailedWindowRepo) GetAll(ctx context.Context) ([]*domain.FailedWindow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*domain.FailedWindow, 0, len(r.store.failed))
	for _, fw := range r.store.failed {
		cp := *fw
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.Before(out[j].FailedAt) })
	return out, nil
}

func (r *FailedWindowRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.failed), nil
}
