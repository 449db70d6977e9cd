package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation marks a bad window or configuration. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrTransient marks a provider failure that outlived the retry budget.
	ErrTransient = errors.New("transient provider error")

	// ErrPermanent marks a provider failure that retrying cannot fix.
	ErrPermanent = errors.New("permanent provider error")

	// ErrMalformedResponse marks a 2xx body that does not match the expected shape.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrCircuitOpen is returned without contacting the provider.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrPersistence marks a data-layer failure.
	ErrPersistence = errors.New("persistence error")

	// ErrNetwork marks a transport failure that never produced an HTTP status.
	ErrNetwork = errors.New("network error")
)

// ProviderError carries the HTTP detail of a failed provider call.
type ProviderError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *ProviderError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider returned http %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned http %d: %s", e.StatusCode, e.Body)
}

// MalformedError wraps a decode failure. It matches both
// ErrMalformedResponse and ErrPermanent.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string { return "malformed response: " + e.Err.Error() }

func (e *MalformedError) Unwrap() error { return e.Err }

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedResponse || target == ErrPermanent
}

// ErrorKind returns a stable label for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrPermanent):
		return "permanent"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "unknown"
	}
}

// IsCancellation reports whether err came from context cancellation.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
