package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/infra/storage"
)

// MarketDataStore implements storage.MarketDataRepository using ClickHouse.
type MarketDataStore struct {
	conn *Conn
	mu   sync.Mutex
}

func NewMarketDataStore(conn *Conn) *MarketDataStore {
	return &MarketDataStore{conn: conn}
}

var _ storage.MarketDataRepository = (*MarketDataStore)(nil)

// Upsert sends the points not yet stored as one batch. Keys already present,
// or repeated inside points, are skipped.
func (s *MarketDataStore) Upsert(ctx context.Context, points []domain.MarketDataPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	// The existence check and the insert must not interleave with another writer.
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.existingKeys(ctx, points)
	if err != nil {
		return 0, err
	}

	fresh := make([]domain.MarketDataPoint, 0, len(points))
	for _, p := range points {
		if _, ok := existing[p.Key()]; ok {
			continue
		}
		existing[p.Key()] = struct{}{}
		fresh = append(fresh, p)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO market_data (
			asset_id, symbol, timestamp_ms, date, price, market_cap, volume_24h, extracted_at
		)
	`)
	if err != nil {
		return 0, wrapErr("prepare batch", err)
	}

	for _, p := range fresh {
		err = batch.Append(
			p.AssetID, p.Symbol, p.TimestampMs, domain.TruncateDay(p.Date),
			p.Price, p.MarketCap, p.Volume24h, p.ExtractedAt.UTC(),
		)
		if err != nil {
			_ = batch.Abort()
			return 0, wrapErr("append to batch", err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, wrapErr("send batch", err)
	}
	return len(fresh), nil
}

// existingKeys loads the stored keys overlapping the timestamp span of points.
func (s *MarketDataStore) existingKeys(ctx context.Context, points []domain.MarketDataPoint) (map[domain.PointKey]struct{}, error) {
	type span struct{ min, max int64 }
	spans := make(map[string]span)
	for _, p := range points {
		sp, ok := spans[p.AssetID]
		if !ok {
			spans[p.AssetID] = span{p.TimestampMs, p.TimestampMs}
			continue
		}
		sp.min = min(sp.min, p.TimestampMs)
		sp.max = max(sp.max, p.TimestampMs)
		spans[p.AssetID] = sp
	}

	keys := make(map[domain.PointKey]struct{})
	for assetID, sp := range spans {
		rows, err := s.conn.Query(ctx, `
			SELECT timestamp_ms FROM market_data
			WHERE asset_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		`, assetID, sp.min, sp.max)
		if err != nil {
			return nil, wrapErr("check exists", err)
		}
		for rows.Next() {
			var ts int64
			if err := rows.Scan(&ts); err != nil {
				rows.Close()
				return nil, wrapErr("scan key", err)
			}
			keys[domain.PointKey{AssetID: assetID, TimestampMs: ts}] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, wrapErr("iterate keys", err)
		}
	}
	return keys, nil
}

// QueryRange retrieves points of one asset with date in [from, to], ordered by timestamp ASC.
func (s *MarketDataStore) QueryRange(ctx context.Context, assetID string, from, to time.Time) ([]domain.MarketDataPoint, error) {
	query := `
		SELECT asset_id, symbol, timestamp_ms, date, price, market_cap, volume_24h, extracted_at
		FROM market_data FINAL
		WHERE asset_id = ? AND date >= ? AND date <= ?
		ORDER BY timestamp_ms ASC
	`
	rows, err := s.conn.Query(ctx, query, assetID, domain.TruncateDay(from), domain.TruncateDay(to))
	if err != nil {
		return nil, wrapErr("query range", err)
	}
	defer rows.Close()

	return scanMarketData(rows)
}

func (s *MarketDataStore) Stats(ctx context.Context, assetIDs ...string) (*domain.StoreStats, error) {
	query := `
		SELECT asset_id, any(symbol), count(), min(date), max(date)
		FROM market_data FINAL
	`
	var args []any
	if len(assetIDs) > 0 {
		query += " WHERE has(?, asset_id)"
		args = append(args, assetIDs)
	}
	query += " GROUP BY asset_id ORDER BY asset_id"

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("stats", err)
	}
	defer rows.Close()

	stats := &domain.StoreStats{Assets: []domain.AssetStats{}}
	for rows.Next() {
		var (
			a     domain.AssetStats
			count uint64
		)
		if err := rows.Scan(&a.AssetID, &a.Symbol, &count, &a.FirstDate, &a.LastDate); err != nil {
			return nil, wrapErr("scan stats", err)
		}
		a.Records = int64(count)
		a.FirstDate = domain.TruncateDay(a.FirstDate)
		a.LastDate = domain.TruncateDay(a.LastDate)
		stats.Assets = append(stats.Assets, a)
		stats.TotalRecords += a.Records
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate stats", err)
	}
	return stats, nil
}

// DeleteAsset runs a synchronous mutation removing every row of assetID.
func (s *MarketDataStore) DeleteAsset(ctx context.Context, assetID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count() FROM market_data FINAL WHERE asset_id = ?`, assetID).Scan(&count)
	if err != nil {
		return 0, wrapErr("count asset", err)
	}
	if count == 0 {
		return 0, nil
	}

	syncCtx := clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"mutations_sync": 1,
	}))
	if err := s.conn.Exec(syncCtx, `ALTER TABLE market_data DELETE WHERE asset_id = ?`, assetID); err != nil {
		return 0, wrapErr("delete asset", err)
	}
	return int64(count), nil
}

func scanMarketData(rows chRows) ([]domain.MarketDataPoint, error) {
	points := []domain.MarketDataPoint{}

	for rows.Next() {
		var p domain.MarketDataPoint
		err := rows.Scan(
			&p.AssetID, &p.Symbol, &p.TimestampMs, &p.Date,
			&p.Price, &p.MarketCap, &p.Volume24h, &p.ExtractedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan market data row: %w", err)
		}
		p.Date = domain.TruncateDay(p.Date)
		p.ExtractedAt = p.ExtractedAt.UTC()
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate market data rows: %w", err)
	}
	return points, nil
}
