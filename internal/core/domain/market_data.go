package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketDataPoint is one provider sample. (AssetID, TimestampMs) is unique.
type MarketDataPoint struct {
	AssetID     string          `json:"asset_id"`
	Symbol      string          `json:"symbol"`
	TimestampMs int64           `json:"timestamp_ms"`
	Date        time.Time       `json:"date"`
	Price       decimal.Decimal `json:"price"`
	MarketCap   decimal.Decimal `json:"market_cap"`
	Volume24h   decimal.Decimal `json:"volume_24h"`
	ExtractedAt time.Time       `json:"extracted_at"`
}

// PointKey is the natural key of a MarketDataPoint.
type PointKey struct {
	AssetID     string
	TimestampMs int64
}

// Key returns the natural key.
func (p MarketDataPoint) Key() PointKey {
	return PointKey{AssetID: p.AssetID, TimestampMs: p.TimestampMs}
}

// DateFromMillis derives the UTC calendar date of a millisecond timestamp.
func DateFromMillis(ms int64) time.Time {
	return TruncateDay(time.UnixMilli(ms))
}

// AssetStats summarises the stored rows of one asset.
type AssetStats struct {
	AssetID   string    `db:"asset_id"   json:"asset_id"`
	Symbol    string    `db:"symbol"     json:"symbol"`
	Records   int64     `db:"records"    json:"records"`
	FirstDate time.Time `db:"first_date" json:"first_date"`
	LastDate  time.Time `db:"last_date"  json:"last_date"`
}

// StoreStats is the result of a stats query over the data table.
type StoreStats struct {
	Assets       []AssetStats `json:"assets"`
	TotalRecords int64        `json:"total_records"`
}
