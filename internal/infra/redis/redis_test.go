package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/infra/storage"
)

func setupTestRedis(t *testing.T) (*Client, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := NewClient(ctx, Config{
		URL:       fmt.Sprintf("redis://%s:%s/0", host, port.Port()),
		Namespace: "test",
	})
	require.NoError(t, err)

	return client, func() {
		_ = client.Close()
		_ = container.Terminate(ctx)
	}
}

func TestFailedWindowRepo(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewFailedWindowRepo(client)

	_, err := repo.GetNext(ctx)
	require.ErrorIs(t, err, storage.ErrQueueEmpty)

	window := domain.ExtractionWindow{
		From: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	aave := &domain.FailedWindow{
		Asset: domain.Asset{Symbol: "aave", ProviderID: "aave"}, Window: window,
		Error: "transient provider error after 4 attempts", ErrorKind: "transient",
	}
	link := &domain.FailedWindow{
		Asset: domain.Asset{Symbol: "link", ProviderID: "chainlink"}, Window: window,
		ErrorKind: "circuit_open", RetryCount: 1,
	}
	require.NoError(t, repo.Add(ctx, aave))
	require.NoError(t, repo.Add(ctx, link))
	require.NotEmpty(t, aave.ID)

	next, err := repo.GetNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, aave.ID, next.ID)
	assert.Equal(t, window.From, next.Window.From.UTC())

	require.NoError(t, repo.IncrementRetry(ctx, aave.ID))
	require.NoError(t, repo.IncrementRetry(ctx, aave.ID))
	next, err = repo.GetNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, link.ID, next.ID)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 2, all[1].RetryCount)

	require.NoError(t, repo.MarkResolved(ctx, link.ID))
	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.ErrorIs(t, repo.IncrementRetry(ctx, link.ID), storage.ErrNotFound)
}

func TestLock(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	ok, err := client.AcquireLock(ctx, "retry-failed", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.AcquireLock(ctx, "retry-failed", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.RefreshLock(ctx, "retry-failed", time.Minute))
	require.NoError(t, client.ReleaseLock(ctx, "retry-failed"))

	ok, err = client.AcquireLock(ctx, "retry-failed", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
