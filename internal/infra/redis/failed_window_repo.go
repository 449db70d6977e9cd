package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/infra/storage"
)

// FailedWindowTTL bounds how long a queued window survives without a retry.
const FailedWindowTTL = 7 * 24 * time.Hour

// FailedWindowRepo implements storage.FailedWindowRepository using a sorted
// set of ids (score = retry count) and one JSON value per window.
type FailedWindowRepo struct {
	client *Client
	now    func() time.Time
}

var _ storage.FailedWindowRepository = (*FailedWindowRepo)(nil)

// NewFailedWindowRepo creates a new Redis-backed failed window repository.
func NewFailedWindowRepo(client *Client) *FailedWindowRepo {
	return &FailedWindowRepo{client: client, now: time.Now}
}

func (r *FailedWindowRepo) queueKey() string {
	return r.client.key("failed_windows")
}

func (r *FailedWindowRepo) windowKey(id string) string {
	return r.client.key("failed_window", id)
}

// Add adds a failed window to the queue.
func (r *FailedWindowRepo) Add(ctx context.Context, fw *domain.FailedWindow) error {
	if fw.ID == "" {
		fw.ID = uuid.NewString()
	}
	if fw.FailedAt.IsZero() {
		fw.FailedAt = r.now().UTC()
	}
	return r.save(ctx, fw)
}

func (r *FailedWindowRepo) save(ctx context.Context, fw *domain.FailedWindow) error {
	data, err := json.Marshal(fw)
	if err != nil {
		return fmt.Errorf("failed to marshal failed window: %w", err)
	}

	_, err = r.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.windowKey(fw.ID), data, FailedWindowTTL)
		// lower retry count = retried first
		pipe.ZAdd(ctx, r.queueKey(), redis.Z{Score: float64(fw.RetryCount), Member: fw.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store failed window: %w", err)
	}
	return nil
}

func (r *FailedWindowRepo) load(ctx context.Context, id string) (*domain.FailedWindow, error) {
	data, err := r.client.rdb.Get(ctx, r.windowKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed window: %w", err)
	}

	var fw domain.FailedWindow
	if err := json.Unmarshal(data, &fw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed window: %w", err)
	}
	return &fw, nil
}

// GetNext retrieves the queued window with the lowest retry count.
func (r *FailedWindowRepo) GetNext(ctx context.Context) (*domain.FailedWindow, error) {
	for {
		ids, err := r.client.rdb.ZRange(ctx, r.queueKey(), 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("zrange failed: %w", err)
		}
		if len(ids) == 0 {
			return nil, storage.ErrQueueEmpty
		}

		fw, err := r.load(ctx, ids[0])
		if errors.Is(err, storage.ErrNotFound) {
			// value expired but id still queued
			if err := r.client.rdb.ZRem(ctx, r.queueKey(), ids[0]).Err(); err != nil {
				return nil, fmt.Errorf("zrem failed: %w", err)
			}
			continue
		}
		return fw, err
	}
}

// IncrementRetry increments retry count and updates last attempt.
func (r *FailedWindowRepo) IncrementRetry(ctx context.Context, id string) error {
	fw, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	fw.RetryCount++
	fw.LastAttempt = r.now().UTC()
	return r.save(ctx, fw)
}

// MarkResolved removes a window from the queue.
func (r *FailedWindowRepo) MarkResolved(ctx context.Context, id string) error {
	_, err := r.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.queueKey(), id)
		pipe.Del(ctx, r.windowKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to resolve failed window: %w", err)
	}
	return nil
}

// GetAll retrieves all queued windows in retry order.
func (r *FailedWindowRepo) GetAll(ctx context.Context) ([]*domain.FailedWindow, error) {
	ids, err := r.client.rdb.ZRange(ctx, r.queueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	windows := make([]*domain.FailedWindow, 0, len(ids))
	for _, id := range ids {
		fw, err := r.load(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		windows = append(windows, fw)
	}
	return windows, nil
}

// Count returns the number of queued windows.
func (r *FailedWindowRepo) Count(ctx context.Context) (int, error) {
	count, err := r.client.rdb.ZCard(ctx, r.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}
