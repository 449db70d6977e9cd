// Package budget paces upstream requests.
//
// A Governor enforces a minimum spacing between the start of consecutive
// requests that share one provider budget. Every attempt, including retries
// and attempts following a failure, must acquire a slot first.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/cryptopipe/internal/extraction/metrics"
)

// UsageStats holds governor statistics.
type UsageStats struct {
	Acquisitions int
	TotalWait    time.Duration
	LastAcquired time.Time
	Interval     time.Duration
}

// Governor spaces request starts by at least Interval.
type Governor struct {
	limiter  *rate.Limiter
	interval time.Duration

	// slot serializes waiters so lastStart is read and written by one at a time.
	slot      chan struct{}
	lastStart time.Time

	mu    sync.Mutex
	stats UsageStats
}

// NewGovernor creates a governor. An interval of zero disables spacing.
func NewGovernor(interval time.Duration) *Governor {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Governor{
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
		slot:     make(chan struct{}, 1),
		stats:    UsageStats{Interval: interval},
	}
}

// Wait blocks until a request may start or ctx is done. The limiter's
// token bucket admits a slot slightly early under timer jitter, so the
// remaining gap since the previous start is slept off afterwards.
func (g *Governor) Wait(ctx context.Context) error {
	start := time.Now()

	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.slot }()

	if err := g.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// The limiter refuses upfront when the deadline is closer than the slot.
		return fmt.Errorf("rate slot unavailable before deadline: %w", context.DeadlineExceeded)
	}

	if !g.lastStart.IsZero() {
		if remaining := g.interval - time.Since(g.lastStart); remaining > 0 {
			timer := time.NewTimer(remaining)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	now := time.Now()
	g.lastStart = now

	waited := now.Sub(start)
	metrics.GovernorWaitSeconds.Observe(waited.Seconds())

	g.mu.Lock()
	g.stats.Acquisitions++
	g.stats.TotalWait += waited
	g.stats.LastAcquired = now
	g.mu.Unlock()
	return nil
}

// Interval returns the configured spacing.
func (g *Governor) Interval() time.Duration {
	return g.interval
}

// Usage returns a snapshot of governor statistics.
func (g *Governor) Usage() UsageStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}
