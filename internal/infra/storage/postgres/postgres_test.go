package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vietddude/cryptopipe/internal/core/domain"
)

// setupTestDB starts a PostgreSQL container and applies the embedded migrations.
func setupTestDB(t *testing.T, driver string) (*DB, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	db, err := NewDB(ctx, Config{URL: dsn, Driver: driver})
	require.NoError(t, err, "failed to connect")

	require.NoError(t, Migrate(ctx, db))

	cleanup := func() {
		_ = db.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return db, cleanup
}

func aavePoints(extractedAt time.Time) []domain.MarketDataPoint {
	mk := func(ts int64, price string) domain.MarketDataPoint {
		return domain.MarketDataPoint{
			AssetID:     "aave",
			Symbol:      "aave",
			TimestampMs: ts,
			Date:        domain.DateFromMillis(ts),
			Price:       decimal.RequireFromString(price),
			MarketCap:   decimal.RequireFromString("1500000000"),
			Volume24h:   decimal.RequireFromString("120000000.5"),
			ExtractedAt: extractedAt,
		}
	}
	return []domain.MarketDataPoint{
		mk(1735689600000, "310.12"),
		mk(1735776000000, "315.40"),
		mk(1735862400000, "320.01"),
	}
}

func TestMarketDataRepo(t *testing.T) {
	for _, driver := range []string{DriverPgx, DriverPq} {
		t.Run(driver, func(t *testing.T) {
			db, cleanup := setupTestDB(t, driver)
			defer cleanup()

			ctx := context.Background()
			repo := NewMarketDataRepo(db)
			points := aavePoints(time.Date(2025, 1, 4, 12, 0, 0, 0, time.UTC))

			n, err := repo.Upsert(ctx, points)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			// Second write of the same keys keeps the first row.
			changed := aavePoints(time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC))
			changed[0].Price = decimal.RequireFromString("1")
			n, err = repo.Upsert(ctx, changed)
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			got, err := repo.QueryRange(ctx, "aave",
				time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC))
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.True(t, got[0].Price.Equal(decimal.RequireFromString("310.12")))
			assert.Equal(t, int64(1735689600000), got[0].TimestampMs)
			assert.Equal(t, int64(1735862400000), got[2].TimestampMs)
			assert.Equal(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), got[2].Date)

			stats, err := repo.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), stats.TotalRecords)
			require.Len(t, stats.Assets, 1)
			assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), stats.Assets[0].FirstDate)

			filtered, err := repo.Stats(ctx, "link")
			require.NoError(t, err)
			assert.Empty(t, filtered.Assets)

			deleted, err := repo.DeleteAsset(ctx, "aave")
			require.NoError(t, err)
			assert.Equal(t, int64(3), deleted)
		})
	}
}

func TestExtractionLogRepo(t *testing.T) {
	db, cleanup := setupTestDB(t, DriverPgx)
	defer cleanup()

	ctx := context.Background()
	repo := NewExtractionLogRepo(db)

	ok := &domain.ExtractionLogEntry{
		RunID:           "7c9e6679-7425-40de-944b-e07fc1f90ae7",
		AssetID:         "aave",
		FromDate:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ToDate:          time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC),
		RecordsInserted: 3,
		DurationSeconds: 1.5,
		Status:          domain.StatusSuccess,
	}
	require.NoError(t, repo.Append(ctx, ok))
	assert.NotZero(t, ok.ID)
	assert.False(t, ok.LoggedAt.IsZero())

	failed := &domain.ExtractionLogEntry{
		AssetID:         "link",
		FromDate:        ok.FromDate,
		ToDate:          ok.ToDate,
		DurationSeconds: 0.5,
		Status:          domain.StatusFailed,
		ErrorMessage:    null.StringFrom("provider returned http 404"),
	}
	require.NoError(t, repo.Append(ctx, failed))

	recent, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "link", recent[0].AssetID)
	assert.Equal(t, "provider returned http 404", recent[0].ErrorMessage.String)
	assert.Equal(t, ok.RunID, recent[1].RunID)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalExtractions)
	assert.Equal(t, int64(3), stats.TotalRecords)
	assert.Equal(t, int64(1), stats.Successful)
	assert.Equal(t, int64(1), stats.Failed)
	assert.InDelta(t, 1.0, stats.AvgDurationSeconds, 1e-9)
	assert.True(t, stats.LastExtraction.Valid)

	require.NoError(t, db.Vacuum(ctx))
}
