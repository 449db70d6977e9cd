// Package provider implements the HTTP transport to the market data API.
//
// This package contains:
//   - Provider interface: one GET against the upstream, with health reporting
//   - HTTPProvider: REST over HTTP implementation
//   - ProviderMonitor: latency and throttle tracking
package provider

import (
	"context"
	"net/url"
	"time"
)

// Provider performs single, un-retried requests against the upstream.
type Provider interface {
	// Name returns the provider identifier (e.g., "coingecko")
	Name() string

	// Get issues GET {base}{path}?{query} and returns the body of a 2xx response
	Get(ctx context.Context, path string, query url.Values) ([]byte, error)

	// Health returns current health metrics
	Health() HealthStatus
}

// HealthStatus holds provider health metrics.
type HealthStatus struct {
	Available     bool
	Latency       time.Duration
	ErrorRate     float64
	LastSuccessAt time.Time
	LastFailureAt time.Time
	Requests      int
	Failures      int
}
