// Package postgres implements the market data and audit log repositories
// on PostgreSQL through sqlx. Either pgx (default) or lib/pq can back the
// database/sql handle.
package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/infra/storage"
)

var (
	_ storage.MarketDataRepository    = (*MarketDataRepo)(nil)
	_ storage.ExtractionLogRepository = (*ExtractionLogRepo)(nil)
)

// wrapErr tags a driver error with ErrPersistence, keeping the SQLSTATE when
// one is available. Cancellation passes through untagged.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsCancellation(err) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%w: %s: %s (sqlstate %s)", domain.ErrPersistence, op, pgErr.Message, pgErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%w: %s: %s (sqlstate %s)", domain.ErrPersistence, op, pqErr.Message, pqErr.Code)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

// NewBackend bundles the repositories of db for the storage manager.
func NewBackend(db *DB) storage.Backend {
	return storage.Backend{
		MarketData: NewMarketDataRepo(db),
		Logs:       NewExtractionLogRepo(db),
		Close:      db.Close,
		Ping:       db.Health,
	}
}
