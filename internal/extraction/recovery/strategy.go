package recovery

import (
	"errors"
	"math"
	"time"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/infra/rpc/routing"
)

// RetryStrategy decides when and whether a queued window is tried again.
type RetryStrategy interface {
	// GetDelay returns the wait after the given retry count (0-indexed).
	GetDelay(attempt int) time.Duration

	// ShouldRetry checks if we should retry based on the error and attempt count.
	ShouldRetry(err error, attempt int) bool
}

// Classifier maps an error to its retry class.
type Classifier func(err error) routing.Class

// ExponentialBackoff implements a standard backoff strategy.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Classifier   Classifier
}

// DefaultBackoff waits 5m, 10m, 20m, 40m... capped at 6h, five attempts.
func DefaultBackoff(classifier Classifier) *ExponentialBackoff {
	if classifier == nil {
		classifier = routing.Classify
	}
	return &ExponentialBackoff{
		InitialDelay: 5 * time.Minute,
		MaxDelay:     6 * time.Hour,
		MaxAttempts:  5,
		Classifier:   classifier,
	}
}

// GetDelay calculates delay: InitialDelay * 2^attempt
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry holds for transient, circuit-open and persistence failures while
// attempts remain. Permanent, validation and cancellation failures are never requeued.
func (s *ExponentialBackoff) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= s.MaxAttempts {
		return false
	}
	if errors.Is(err, domain.ErrPersistence) && !domain.IsCancellation(err) {
		return true
	}

	switch s.Classifier(err) {
	case routing.ClassTransient, routing.ClassCircuitOpen:
		return true
	default:
		return false
	}
}
