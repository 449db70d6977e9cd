package domain

import (
	"time"

	"github.com/guregu/null/v6"
)

// ExtractionStatus is the outcome recorded for one asset in one run.
type ExtractionStatus string

const (
	StatusSuccess ExtractionStatus = "success"
	StatusPartial ExtractionStatus = "partial"
	StatusFailed  ExtractionStatus = "failed"
)

// ExtractionLogEntry is an append-only audit record.
type ExtractionLogEntry struct {
	ID              int64            `json:"id"`
	RunID           string           `json:"run_id"`
	AssetID         string           `json:"asset_id"`
	FromDate        time.Time        `json:"from_date"`
	ToDate          time.Time        `json:"to_date"`
	RecordsInserted int              `json:"records_inserted"`
	DurationSeconds float64          `json:"duration_seconds"`
	Status          ExtractionStatus `json:"status"`
	ErrorMessage    null.String      `json:"error_message"`
	LoggedAt        time.Time        `json:"logged_at"`
}

// ExtractionStats aggregates the audit log.
type ExtractionStats struct {
	TotalExtractions   int64     `db:"total_extractions"    json:"total_extractions"`
	TotalRecords       int64     `db:"total_records"        json:"total_records"`
	AvgDurationSeconds float64   `db:"avg_duration_seconds" json:"avg_duration_seconds"`
	Successful         int64     `db:"successful"           json:"successful"`
	Partial            int64     `db:"partial"              json:"partial"`
	Failed             int64     `db:"failed"               json:"failed"`
	LastExtraction     null.Time `db:"last_extraction"      json:"last_extraction"`
}
