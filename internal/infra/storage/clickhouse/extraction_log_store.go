package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/guregu/null/v6"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/infra/storage"
)

// ExtractionLogStore implements storage.ExtractionLogRepository using ClickHouse.
// IDs are assigned as max(id)+1 under the store mutex.
type ExtractionLogStore struct {
	conn *Conn
	mu   sync.Mutex
	now  func() time.Time
}

func NewExtractionLogStore(conn *Conn) *ExtractionLogStore {
	return &ExtractionLogStore{conn: conn, now: time.Now}
}

var _ storage.ExtractionLogRepository = (*ExtractionLogStore)(nil)

func (s *ExtractionLogStore) Append(ctx context.Context, entry *domain.ExtractionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxID int64
	if err := s.conn.QueryRow(ctx, `SELECT max(id) FROM extraction_log`).Scan(&maxID); err != nil {
		return wrapErr("next log id", err)
	}

	id := maxID + 1
	loggedAt := s.now().UTC().Truncate(time.Millisecond)

	err := s.conn.Exec(ctx, `
		INSERT INTO extraction_log (
			id, run_id, asset_id, from_date, to_date, records_inserted,
			duration_seconds, status, error_message, logged_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id, entry.RunID, entry.AssetID,
		domain.TruncateDay(entry.FromDate), domain.TruncateDay(entry.ToDate),
		int32(entry.RecordsInserted), entry.DurationSeconds, string(entry.Status),
		entry.ErrorMessage.Ptr(), loggedAt,
	)
	if err != nil {
		return wrapErr("append extraction log", err)
	}

	entry.ID = id
	entry.LoggedAt = loggedAt
	return nil
}

func (s *ExtractionLogStore) Recent(ctx context.Context, limit int) ([]domain.ExtractionLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.Query(ctx, `
		SELECT id, run_id, asset_id, from_date, to_date, records_inserted,
		       duration_seconds, status, error_message, logged_at
		FROM extraction_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, wrapErr("recent extraction logs", err)
	}
	defer rows.Close()

	entries := []domain.ExtractionLogEntry{}
	for rows.Next() {
		var (
			e        domain.ExtractionLogEntry
			records  int32
			status   string
			errorMsg *string
		)
		err := rows.Scan(
			&e.ID, &e.RunID, &e.AssetID, &e.FromDate, &e.ToDate, &records,
			&e.DurationSeconds, &status, &errorMsg, &e.LoggedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan extraction log row: %w", err)
		}
		e.RecordsInserted = int(records)
		e.Status = domain.ExtractionStatus(status)
		e.ErrorMessage = null.StringFromPtr(errorMsg)
		e.FromDate = domain.TruncateDay(e.FromDate)
		e.ToDate = domain.TruncateDay(e.ToDate)
		e.LoggedAt = e.LoggedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate extraction log rows: %w", err)
	}
	return entries, nil
}

func (s *ExtractionLogStore) Stats(ctx context.Context) (*domain.ExtractionStats, error) {
	var (
		total, successful, partial, failed uint64
		records                            int64
		avg                                float64
		last                               time.Time
	)
	err := s.conn.QueryRow(ctx, `
		SELECT
			count(),
			toInt64(sum(records_inserted)),
			ifNotFinite(avg(duration_seconds), 0),
			countIf(status = 'success'),
			countIf(status = 'partial'),
			countIf(status = 'failed'),
			max(logged_at)
		FROM extraction_log
	`).Scan(&total, &records, &avg, &successful, &partial, &failed, &last)
	if err != nil {
		return nil, wrapErr("extraction stats", err)
	}

	stats := &domain.ExtractionStats{
		TotalExtractions:   int64(total),
		TotalRecords:       records,
		AvgDurationSeconds: avg,
		Successful:         int64(successful),
		Partial:            int64(partial),
		Failed:             int64(failed),
	}
	if total > 0 {
		stats.LastExtraction = null.TimeFrom(last.UTC())
	}
	return stats, nil
}
