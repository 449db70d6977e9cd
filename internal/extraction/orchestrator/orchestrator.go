// Package orchestrator runs extractions asset by asset: fetch, persist,
// audit. One asset's failure never aborts the batch.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/extraction/metrics"
	"github.com/vietddude/cryptopipe/internal/extraction/recovery"
	"github.com/vietddude/cryptopipe/internal/infra/coingecko"
)

// ErrRecoveryDisabled is returned by RetryFailed when no failed-window queue is configured.
var ErrRecoveryDisabled = errors.New("failed window recovery is not configured")

// auditTimeout bounds the audit write made after the run context is cancelled.
const auditTimeout = 5 * time.Second

// Fetcher fetches one asset window.
type Fetcher interface {
	Fetch(ctx context.Context, asset domain.Asset, window domain.ExtractionWindow) (*coingecko.FetchResult, error)
}

// Store persists points and audit entries.
type Store interface {
	Upsert(ctx context.Context, points []domain.MarketDataPoint) (int, error)
	AppendLog(ctx context.Context, entry *domain.ExtractionLogEntry) error
}

// AssetOutcome is the result of one asset in one run.
type AssetOutcome struct {
	Asset           domain.Asset
	Status          domain.ExtractionStatus
	RecordsInserted int
	Dropped         int
	Duration        time.Duration
	Err             error
	Queued          bool
	LogFailed       bool
}

// Summary aggregates a run.
type Summary struct {
	RunID           string
	Window          domain.ExtractionWindow
	Attempted       int
	Succeeded       int
	Failed          int
	RecordsInserted int
	LogFailures     int
	Outcomes        []AssetOutcome
	Duration        time.Duration
}

// HasFailures reports whether any asset failed.
func (s *Summary) HasFailures() bool {
	return s.Failed > 0
}

func (s *Summary) add(o AssetOutcome) {
	s.Attempted++
	if o.Status == domain.StatusFailed {
		s.Failed++
	} else {
		s.Succeeded++
	}
	s.RecordsInserted += o.RecordsInserted
	if o.LogFailed {
		s.LogFailures++
	}
	s.Outcomes = append(s.Outcomes, o)
}

type Orchestrator struct {
	fetcher  Fetcher
	store    Store
	recovery *recovery.Handler
	now      func() time.Time
	log      *slog.Logger
}

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRecovery queues retryable failures in h.
func WithRecovery(h *recovery.Handler) Option {
	return func(o *Orchestrator) { o.recovery = h }
}

func New(fetcher Fetcher, store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fetcher: fetcher,
		store:   store,
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run extracts window for every asset in list order. Only an unusable asset
// list or cancellation make it return an error; per-asset failures are in
// the summary and the audit log.
func (o *Orchestrator) Run(ctx context.Context, assets []domain.Asset, window domain.ExtractionWindow) (*Summary, error) {
	if err := domain.ValidateAssets(assets); err != nil {
		return nil, err
	}

	sum := &Summary{RunID: uuid.NewString(), Window: window}
	start := o.now()
	log := o.log.With("run_id", sum.RunID)
	log.Info("Starting extraction run", "assets", len(assets), "window", window.String())

	for _, asset := range assets {
		if err := ctx.Err(); err != nil {
			sum.Duration = o.now().Sub(start)
			log.Warn("Extraction run cancelled", "attempted", sum.Attempted, "remaining", len(assets)-sum.Attempted)
			return sum, err
		}

		out := o.extract(ctx, sum.RunID, asset, window, true)
		sum.add(out)

		if out.Err != nil && domain.IsCancellation(out.Err) && ctx.Err() != nil {
			sum.Duration = o.now().Sub(start)
			log.Warn("Extraction run cancelled", "attempted", sum.Attempted, "remaining", len(assets)-sum.Attempted)
			return sum, ctx.Err()
		}
	}

	sum.Duration = o.now().Sub(start)
	metrics.RunDuration.Observe(sum.Duration.Seconds())
	log.Info("Extraction run finished",
		"attempted", sum.Attempted,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"records", sum.RecordsInserted,
		"log_failures", sum.LogFailures,
		"duration", sum.Duration,
	)
	return sum, nil
}

// UpdateAsset runs a single asset.
func (o *Orchestrator) UpdateAsset(ctx context.Context, asset domain.Asset, window domain.ExtractionWindow) (*Summary, error) {
	return o.Run(ctx, []domain.Asset{asset}, window)
}

// RetryFailed replays queued windows. Each replay is audited like a run but
// is never queued again; the recovery handler owns its retry count.
func (o *Orchestrator) RetryFailed(ctx context.Context, opts recovery.DrainOptions) (recovery.DrainResult, error) {
	if o.recovery == nil {
		return recovery.DrainResult{}, ErrRecoveryDisabled
	}

	runID := uuid.NewString()
	o.log.Info("Draining failed windows", "run_id", runID, "limit", opts.Limit, "force", opts.Force)

	res, err := o.recovery.Drain(ctx, func(ctx context.Context, asset domain.Asset, window domain.ExtractionWindow) error {
		return o.extract(ctx, runID, asset, window, false).Err
	}, opts)
	if err != nil {
		return res, err
	}

	o.log.Info("Failed windows drained",
		"run_id", runID,
		"resolved", res.Resolved,
		"retried", res.Retried,
		"dropped", res.Dropped,
		"deferred", res.Deferred,
	)
	return res, nil
}

func (o *Orchestrator) extract(
	ctx context.Context,
	runID string,
	asset domain.Asset,
	window domain.ExtractionWindow,
	requeue bool,
) AssetOutcome {
	out := AssetOutcome{Asset: asset}
	start := o.now()

	res, err := o.fetcher.Fetch(ctx, asset, window)
	if err == nil {
		if len(res.Points) == 0 {
			o.log.Warn("No data returned", "asset", asset.Symbol, "window", window.String())
		}
		// Written only after the full response parsed.
		n, upsertErr := o.store.Upsert(ctx, res.Points)
		if upsertErr != nil {
			err = upsertErr
		} else {
			out.RecordsInserted = n
			out.Dropped = res.Dropped
		}
	}
	out.Duration = o.now().Sub(start)

	entry := &domain.ExtractionLogEntry{
		RunID:           runID,
		AssetID:         asset.ProviderID,
		FromDate:        domain.TruncateDay(window.From),
		ToDate:          domain.TruncateDay(window.To),
		RecordsInserted: out.RecordsInserted,
		DurationSeconds: out.Duration.Seconds(),
	}
	switch {
	case err != nil:
		out.Status = domain.StatusFailed
		out.Err = err
		entry.ErrorMessage = null.StringFrom(err.Error())
	case out.Dropped > 0:
		out.Status = domain.StatusPartial
	default:
		out.Status = domain.StatusSuccess
	}
	entry.Status = out.Status

	// A cancelled run still records the asset it was working on.
	auditCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		auditCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
		defer cancel()
	}
	if logErr := o.store.AppendLog(auditCtx, entry); logErr != nil {
		out.LogFailed = true
	}

	kind := domain.ErrorKind(err)
	metrics.ExtractionsTotal.WithLabelValues(asset.Symbol, string(out.Status), kind).Inc()
	metrics.ExtractionDuration.WithLabelValues(asset.Symbol).Observe(out.Duration.Seconds())
	if out.RecordsInserted > 0 {
		metrics.RecordsInserted.WithLabelValues(asset.Symbol).Add(float64(out.RecordsInserted))
	}

	if err != nil {
		if requeue && o.recovery != nil && !domain.IsCancellation(err) {
			queued, qErr := o.recovery.HandleFailure(auditCtx, asset, window, err)
			if qErr != nil {
				o.log.Error("Failed to queue window", "asset", asset.Symbol, "error", qErr)
			}
			out.Queued = queued
		}
		o.log.Error("Extraction failed",
			"asset", asset.Symbol,
			"kind", kind,
			"queued", out.Queued,
			"error", err,
		)
		return out
	}

	o.log.Info("Extraction complete",
		"asset", asset.Symbol,
		"status", out.Status,
		"records", out.RecordsInserted,
		"dropped", out.Dropped,
		"duration", out.Duration,
	)
	return out
}
