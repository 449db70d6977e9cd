// Package routing decides what happens to a failed upstream call.
//
// This package contains:
//   - Classify: maps a failure to transient or permanent
//   - RetryPolicy: pure backoff decision plus the Retry loop
//   - Breaker: consecutive-failure circuit breaker
package routing

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"github.com/vietddude/cryptopipe/internal/core/domain"
)

// Class is the retry class of a failure.
type Class int

const (
	ClassNone Class = iota
	ClassTransient
	ClassPermanent
	ClassCircuitOpen
	ClassValidation
	ClassCancelled
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassCircuitOpen:
		return "circuit_open"
	case ClassValidation:
		return "validation"
	case ClassCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classify maps a failure to its retry class. Unknown failures are permanent.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	switch {
	case domain.IsCancellation(err):
		return ClassCancelled
	case errors.Is(err, domain.ErrCircuitOpen):
		return ClassCircuitOpen
	case errors.Is(err, domain.ErrValidation):
		return ClassValidation
	case errors.Is(err, domain.ErrPermanent):
		return ClassPermanent
	case errors.Is(err, domain.ErrTransient), errors.Is(err, domain.ErrNetwork):
		return ClassTransient
	}

	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		return ClassifyStatus(perr.StatusCode)
	}

	if isNetworkError(err) {
		return ClassTransient
	}
	return ClassPermanent
}

// ClassifyStatus maps a non-2xx HTTP status code.
func ClassifyStatus(code int) Class {
	switch {
	case code >= 200 && code < 300:
		return ClassNone
	case code == http.StatusTooManyRequests:
		return ClassTransient
	case code >= http.StatusInternalServerError && code <= http.StatusGatewayTimeout:
		return ClassTransient
	default:
		return ClassPermanent
	}
}

func isNetworkError(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	// http.Client wraps every transport failure in *url.Error.
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
