package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vietddude/cryptopipe/internal/core/domain"
)

// RetryPolicy defines bounded exponential retry.
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration // 0 = uncapped
}

// DefaultRetryPolicy mirrors the provider's documented client defaults.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:    3,
	BaseDelay:     1 * time.Second,
	BackoffFactor: 1.5,
	MaxDelay:      2 * time.Minute,
}

// Decision is the outcome of consulting the policy after a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide returns whether attempt (0-based) should be followed by another one
// and how long to wait first.
func (p RetryPolicy) Decide(attempt int, err error) Decision {
	if Classify(err) != ClassTransient || attempt >= p.MaxRetries {
		return Decision{}
	}

	delay := p.Backoff(attempt)
	var perr *domain.ProviderError
	if errors.As(err, &perr) && perr.RetryAfter > delay {
		delay = perr.RetryAfter
	}
	return Decision{Retry: true, Delay: delay}
}

// Backoff returns BaseDelay * BackoffFactor^attempt, capped by MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// Attempts returns the total number of attempts the policy allows.
func (p RetryPolicy) Attempts() int {
	return p.MaxRetries + 1
}

// RetryHook is told about every retry before its backoff wait.
type RetryHook func(attempt int, delay time.Duration, err error)

// Retry runs op until it succeeds, fails permanently, or the policy is
// exhausted. acquire runs before every attempt and gates it on the rate
// budget. Exhaustion wraps the last error with domain.ErrTransient and a
// permanent failure is wrapped with domain.ErrPermanent.
func Retry(
	ctx context.Context,
	policy RetryPolicy,
	acquire func(ctx context.Context) error,
	op func(ctx context.Context, attempt int) error,
	onRetry RetryHook,
) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if acquire != nil {
			if err := acquire(ctx); err != nil {
				return withLast(err, lastErr)
			}
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		switch Classify(err) {
		case ClassCancelled:
			return err
		case ClassPermanent:
			if errors.Is(err, domain.ErrPermanent) {
				return err
			}
			return fmt.Errorf("%w: %w", domain.ErrPermanent, err)
		case ClassTransient:
		default:
			return err
		}

		decision := policy.Decide(attempt, err)
		if !decision.Retry {
			return fmt.Errorf("%w after %d attempts: %w", domain.ErrTransient, attempt+1, err)
		}

		if onRetry != nil {
			onRetry(attempt, decision.Delay, err)
		}

		timer := time.NewTimer(decision.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return withLast(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
}

func withLast(err, last error) error {
	if last == nil {
		return err
	}
	return fmt.Errorf("retry aborted: %w (last error: %v)", err, last)
}
