package postgres

import (
	"context"
	"time"

	"github.com/guregu/null/v6"

	"github.com/vietddude/cryptopipe/internal/core/domain"
)

type ExtractionLogRepo struct {
	db *DB
}

func NewExtractionLogRepo(db *DB) *ExtractionLogRepo {
	return &ExtractionLogRepo{db: db}
}

type extractionLogRow struct {
	ID              int64       `db:"id"`
	RunID           null.String `db:"run_id"`
	AssetID         string      `db:"asset_id"`
	FromDate        time.Time   `db:"from_date"`
	ToDate          time.Time   `db:"to_date"`
	RecordsInserted int         `db:"records_inserted"`
	DurationSeconds float64     `db:"duration_seconds"`
	Status          string      `db:"status"`
	ErrorMessage    null.String `db:"error_message"`
	LoggedAt        time.Time   `db:"logged_at"`
}

func (r extractionLogRow) toDomain() domain.ExtractionLogEntry {
	return domain.ExtractionLogEntry{
		ID:              r.ID,
		RunID:           r.RunID.ValueOrZero(),
		AssetID:         r.AssetID,
		FromDate:        domain.TruncateDay(r.FromDate),
		ToDate:          domain.TruncateDay(r.ToDate),
		RecordsInserted: r.RecordsInserted,
		DurationSeconds: r.DurationSeconds,
		Status:          domain.ExtractionStatus(r.Status),
		ErrorMessage:    r.ErrorMessage,
		LoggedAt:        r.LoggedAt.UTC(),
	}
}

// Append inserts the entry and fills in ID and LoggedAt.
func (r *ExtractionLogRepo) Append(ctx context.Context, entry *domain.ExtractionLogEntry) error {
	query := `
		INSERT INTO extraction_log
			(run_id, asset_id, from_date, to_date, records_inserted, duration_seconds, status, error_message)
		VALUES ($1::uuid, $2, $3::date, $4::date, $5, $6, $7, $8)
		RETURNING id, logged_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		null.NewString(entry.RunID, entry.RunID != ""),
		entry.AssetID,
		entry.FromDate.Format(domain.DateLayout),
		entry.ToDate.Format(domain.DateLayout),
		entry.RecordsInserted,
		entry.DurationSeconds,
		string(entry.Status),
		entry.ErrorMessage,
	).Scan(&entry.ID, &entry.LoggedAt)
	if err != nil {
		return wrapErr("append extraction log", err)
	}
	entry.LoggedAt = entry.LoggedAt.UTC()
	return nil
}

func (r *ExtractionLogRepo) Recent(ctx context.Context, limit int) ([]domain.ExtractionLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, run_id::text AS run_id, asset_id, from_date, to_date, records_inserted,
		       duration_seconds, status, error_message, logged_at
		FROM extraction_log
		ORDER BY id DESC
		LIMIT $1
	`
	var rows []extractionLogRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, wrapErr("recent extraction logs", err)
	}

	entries := make([]domain.ExtractionLogEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toDomain())
	}
	return entries, nil
}

func (r *ExtractionLogRepo) Stats(ctx context.Context) (*domain.ExtractionStats, error) {
	query := `
		SELECT
			COUNT(*)                                      AS total_extractions,
			COALESCE(SUM(records_inserted), 0)            AS total_records,
			COALESCE(AVG(duration_seconds), 0)            AS avg_duration_seconds,
			COUNT(*) FILTER (WHERE status = 'success')    AS successful,
			COUNT(*) FILTER (WHERE status = 'partial')    AS partial,
			COUNT(*) FILTER (WHERE status = 'failed')     AS failed,
			MAX(logged_at)                                AS last_extraction
		FROM extraction_log
	`
	var stats domain.ExtractionStats
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return nil, wrapErr("extraction stats", err)
	}
	return &stats, nil
}
