// Package recovery keeps windows that failed with a retryable error in a
// queue and replays them later.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/extraction/metrics"
	"github.com/vietddude/cryptopipe/internal/infra/storage"
)

// WindowFetcher re-runs the extraction of one asset window.
type WindowFetcher func(ctx context.Context, asset domain.Asset, window domain.ExtractionWindow) error

// Outcome is what happened to one queued window during a drain.
type Outcome string

const (
	OutcomeResolved Outcome = "resolved"
	OutcomeRetried  Outcome = "retried"
	OutcomeDropped  Outcome = "dropped"
	OutcomeDeferred Outcome = "deferred"
)

// DrainResult counts the outcomes of one drain.
type DrainResult struct {
	Resolved int
	Retried  int
	Dropped  int
	Deferred int
}

func (r *DrainResult) add(o Outcome) {
	switch o {
	case OutcomeResolved:
		r.Resolved++
	case OutcomeRetried:
		r.Retried++
	case OutcomeDropped:
		r.Dropped++
	case OutcomeDeferred:
		r.Deferred++
	}
}

// Handler processes the failed window queue.
type Handler struct {
	repo     storage.FailedWindowRepository
	strategy RetryStrategy
	now      func() time.Time
	log      *slog.Logger
}

// NewHandler creates a new failed window handler.
func NewHandler(repo storage.FailedWindowRepository, strategy RetryStrategy, log *slog.Logger) *Handler {
	if strategy == nil {
		strategy = DefaultBackoff(nil)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{repo: repo, strategy: strategy, now: time.Now, log: log}
}

// SetClock overrides the time source.
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

// HandleFailure queues the window when the strategy deems err retryable.
// It reports whether the window was queued.
func (h *Handler) HandleFailure(
	ctx context.Context,
	asset domain.Asset,
	window domain.ExtractionWindow,
	err error,
) (bool, error) {
	if !h.strategy.ShouldRetry(err, 0) {
		return false, nil
	}

	now := h.now().UTC()
	fw := &domain.FailedWindow{
		Asset:       asset,
		Window:      window,
		Error:       err.Error(),
		ErrorKind:   domain.ErrorKind(err),
		FailedAt:    now,
		LastAttempt: now,
	}
	if err := h.repo.Add(ctx, fw); err != nil {
		return false, fmt.Errorf("failed to add failed window: %w", err)
	}

	h.log.Warn("Window queued for retry",
		"asset", asset.ProviderID,
		"window", window.String(),
		"kind", fw.ErrorKind,
	)
	h.updateGauge(ctx)
	return true, nil
}

// DrainOptions bounds a drain. Limit <= 0 means every window; Force ignores backoff.
type DrainOptions struct {
	Limit int
	Force bool
}

// Drain retries the due windows in queue order.
func (h *Handler) Drain(ctx context.Context, fetch WindowFetcher, opts DrainOptions) (DrainResult, error) {
	var res DrainResult

	windows, err := h.repo.GetAll(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list failed windows: %w", err)
	}

	processed := 0
	for _, fw := range windows {
		if opts.Limit > 0 && processed >= opts.Limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		outcome, err := h.process(ctx, fw, fetch, opts.Force)
		if err != nil {
			return res, err
		}
		res.add(outcome)
		if outcome != OutcomeDeferred {
			processed++
		}
	}

	h.updateGauge(ctx)
	return res, nil
}

func (h *Handler) process(
	ctx context.Context,
	fw *domain.FailedWindow,
	fetch WindowFetcher,
	force bool,
) (Outcome, error) {
	last := fw.LastAttempt
	if last.IsZero() {
		last = fw.FailedAt
	}
	if !force && h.now().Before(last.Add(h.strategy.GetDelay(fw.RetryCount))) {
		return OutcomeDeferred, nil
	}

	fetchErr := fetch(ctx, fw.Asset, fw.Window)
	if fetchErr == nil {
		if err := h.repo.MarkResolved(ctx, fw.ID); err != nil {
			return "", fmt.Errorf("failed to resolve window %s: %w", fw.ID, err)
		}
		h.log.Info("Failed window recovered", "asset", fw.Asset.ProviderID, "window", fw.Window.String())
		return OutcomeResolved, nil
	}

	if domain.IsCancellation(fetchErr) {
		return "", fetchErr
	}

	if h.strategy.ShouldRetry(fetchErr, fw.RetryCount+1) {
		if err := h.repo.IncrementRetry(ctx, fw.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("failed to increment retry: %w", err)
		}
		return OutcomeRetried, nil
	}

	if err := h.repo.MarkResolved(ctx, fw.ID); err != nil {
		return "", fmt.Errorf("failed to drop window %s: %w", fw.ID, err)
	}
	h.log.Error("Failed window dropped",
		"asset", fw.Asset.ProviderID,
		"window", fw.Window.String(),
		"retries", fw.RetryCount,
		"error", fetchErr,
	)
	return OutcomeDropped, nil
}

// Pending lists the queued windows.
func (h *Handler) Pending(ctx context.Context) ([]*domain.FailedWindow, error) {
	return h.repo.GetAll(ctx)
}

func (h *Handler) updateGauge(ctx context.Context) {
	if n, err := h.repo.Count(ctx); err == nil {
		metrics.FailedWindowsQueued.Set(float64(n))
	}
}
