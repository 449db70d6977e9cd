package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/vietddude/cryptopipe/internal/core/domain"
)

type MarketDataRepo struct {
	db *DB
}

func NewMarketDataRepo(db *DB) *MarketDataRepo {
	return &MarketDataRepo{db: db}
}

type marketDataRow struct {
	AssetID     string          `db:"asset_id"`
	Symbol      string          `db:"symbol"`
	TimestampMs int64           `db:"timestamp_ms"`
	Date        time.Time       `db:"date"`
	Price       decimal.Decimal `db:"price"`
	MarketCap   decimal.Decimal `db:"market_cap"`
	Volume24h   decimal.Decimal `db:"volume_24h"`
	ExtractedAt time.Time       `db:"extracted_at"`
}

func (r marketDataRow) toDomain() domain.MarketDataPoint {
	return domain.MarketDataPoint{
		AssetID:     r.AssetID,
		Symbol:      r.Symbol,
		TimestampMs: r.TimestampMs,
		Date:        domain.TruncateDay(r.Date),
		Price:       r.Price,
		MarketCap:   r.MarketCap,
		Volume24h:   r.Volume24h,
		ExtractedAt: r.ExtractedAt.UTC(),
	}
}

const insertMarketData = `
	INSERT INTO market_data (asset_id, symbol, timestamp_ms, date, price, market_cap, volume_24h, extracted_at)
	VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8)
	ON CONFLICT (asset_id, timestamp_ms) DO NOTHING
`

// Upsert writes all points in a single transaction. Existing rows win.
func (r *MarketDataRepo) Upsert(ctx context.Context, points []domain.MarketDataPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, wrapErr("begin upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertMarketData)
	if err != nil {
		return 0, wrapErr("prepare upsert", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, p := range points {
		res, err := stmt.ExecContext(ctx,
			p.AssetID,
			p.Symbol,
			p.TimestampMs,
			p.Date.Format(domain.DateLayout),
			p.Price,
			p.MarketCap,
			p.Volume24h,
			p.ExtractedAt,
		)
		if err != nil {
			return 0, wrapErr(fmt.Sprintf("insert %s@%d", p.AssetID, p.TimestampMs), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, wrapErr("rows affected", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapErr("commit upsert", err)
	}
	return inserted, nil
}

func (r *MarketDataRepo) QueryRange(ctx context.Context, assetID string, from, to time.Time) ([]domain.MarketDataPoint, error) {
	query := `
		SELECT asset_id, symbol, timestamp_ms, date, price, market_cap, volume_24h, extracted_at
		FROM market_data
		WHERE asset_id = $1 AND date BETWEEN $2::date AND $3::date
		ORDER BY timestamp_ms ASC
	`
	var rows []marketDataRow
	err := r.db.SelectContext(ctx, &rows, query,
		assetID, from.Format(domain.DateLayout), to.Format(domain.DateLayout))
	if err != nil {
		return nil, wrapErr("query range", err)
	}

	points := make([]domain.MarketDataPoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, row.toDomain())
	}
	return points, nil
}

func (r *MarketDataRepo) Stats(ctx context.Context, assetIDs ...string) (*domain.StoreStats, error) {
	var (
		rows []domain.AssetStats
		err  error
	)
	base := `
		SELECT asset_id, MIN(symbol) AS symbol, COUNT(*) AS records,
		       MIN(date) AS first_date, MAX(date) AS last_date
		FROM market_data
	`
	if len(assetIDs) == 0 {
		err = r.db.SelectContext(ctx, &rows, base+" GROUP BY asset_id ORDER BY asset_id")
	} else {
		err = r.db.SelectContext(ctx, &rows,
			base+" WHERE asset_id = ANY($1) GROUP BY asset_id ORDER BY asset_id",
			pq.Array(assetIDs))
	}
	if err != nil {
		return nil, wrapErr("stats", err)
	}

	stats := &domain.StoreStats{Assets: rows}
	for i := range stats.Assets {
		stats.Assets[i].FirstDate = domain.TruncateDay(stats.Assets[i].FirstDate)
		stats.Assets[i].LastDate = domain.TruncateDay(stats.Assets[i].LastDate)
		stats.TotalRecords += stats.Assets[i].Records
	}
	return stats, nil
}

func (r *MarketDataRepo) DeleteAsset(ctx context.Context, assetID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM market_data WHERE asset_id = $1`, assetID)
	if err != nil {
		return 0, wrapErr("delete asset", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("rows affected", err)
	}
	return n, nil
}
