package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/infra/storage"
)

func pt(assetID string, ts int64, price string) domain.MarketDataPoint {
	return domain.MarketDataPoint{
		AssetID:     assetID,
		Symbol:      assetID,
		TimestampMs: ts,
		Date:        domain.DateFromMillis(ts),
		Price:       decimal.RequireFromString(price),
	}
}

func TestMarketDataRepo_UpsertKeepsExisting(t *testing.T) {
	ctx := context.Background()
	repo := NewMarketDataRepo(NewMemoryStorage())

	n, err := repo.Upsert(ctx, []domain.MarketDataPoint{
		pt("aave", 1735862400000, "320.01"),
		pt("aave", 1735689600000, "310.12"),
		pt("aave", 1735776000000, "315.40"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = repo.Upsert(ctx, []domain.MarketDataPoint{
		pt("aave", 1735689600000, "1"),
		pt("link", 1735689600000, "20"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.QueryRange(ctx, "aave",
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1735689600000), got[0].TimestampMs)
	assert.True(t, got[0].Price.Equal(decimal.RequireFromString("310.12")))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalRecords)
	require.Len(t, stats.Assets, 2)
	assert.Equal(t, "aave", stats.Assets[0].AssetID)
	assert.Equal(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), stats.Assets[0].LastDate)

	only, err := repo.Stats(ctx, "link")
	require.NoError(t, err)
	assert.Equal(t, int64(1), only.TotalRecords)

	deleted, err := repo.DeleteAsset(ctx, "aave")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
}

func TestMarketDataRepo_CancelledUpsertWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := NewMarketDataRepo(NewMemoryStorage())
	_, err := repo.Upsert(ctx, []domain.MarketDataPoint{pt("aave", 1, "1")})
	require.ErrorIs(t, err, context.Canceled)

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRecords)
}

func TestExtractionLogRepo(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	repo := NewExtractionLogRepo(store)

	for i, status := range []domain.ExtractionStatus{domain.StatusSuccess, domain.StatusPartial, domain.StatusFailed} {
		require.NoError(t, repo.Append(ctx, &domain.ExtractionLogEntry{
			AssetID:         "aave",
			RecordsInserted: i,
			DurationSeconds: float64(i + 1),
			Status:          status,
		}))
	}

	recent, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(3), recent[0].ID)
	assert.Equal(t, domain.StatusFailed, recent[0].Status)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalExtractions)
	assert.Equal(t, int64(3), stats.TotalRecords)
	assert.InDelta(t, 2.0, stats.AvgDurationSeconds, 1e-9)
	assert.Equal(t, int64(1), stats.Successful)
	assert.Equal(t, int64(1), stats.Partial)
	assert.Equal(t, int64(1), stats.Failed)
	assert.True(t, stats.LastExtraction.Valid)
	assert.Len(t, repo.Entries(), 3)
}

func TestFailedWindowRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewFailedWindowRepo(NewMemoryStorage())

	_, err := repo.GetNext(ctx)
	require.ErrorIs(t, err, storage.ErrQueueEmpty)

	first := &domain.FailedWindow{Asset: domain.Asset{Symbol: "aave", ProviderID: "aave"}, FailedAt: time.Unix(100, 0)}
	second := &domain.FailedWindow{Asset: domain.Asset{Symbol: "link", ProviderID: "chainlink"}, FailedAt: time.Unix(200, 0)}
	require.NoError(t, repo.Add(ctx, first))
	require.NoError(t, repo.Add(ctx, second))
	require.NotEmpty(t, first.ID)

	next, err := repo.GetNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, next.ID)

	require.NoError(t, repo.IncrementRetry(ctx, first.ID))
	next, err = repo.GetNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, next.ID)

	require.ErrorIs(t, repo.IncrementRetry(ctx, "missing"), storage.ErrNotFound)

	require.NoError(t, repo.MarkResolved(ctx, second.ID))
	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].RetryCount)
}
