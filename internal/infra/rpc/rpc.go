// Package rpc provides a resilient client for a rate-limited REST upstream.
//
// This package offers:
//   - Minimum spacing between request starts (budget.Governor)
//   - Bounded exponential retry with transient/permanent classification (routing)
//   - A consecutive-failure circuit breaker (routing.Breaker)
//   - Latency and throttle monitoring (provider.ProviderMonitor)
//
// # Quick Start
//
//	p := rpc.NewHTTPProvider("coingecko", "https://api.coingecko.com/api/v3", 30*time.Second)
//	breaker := rpc.NewBreaker("coingecko", rpc.BreakerConfig{FailureThreshold: 5, Cooldown: time.Minute})
//	client := rpc.NewClient(p, rpc.NewGovernor(2*time.Second), breaker, rpc.DefaultRetryPolicy)
//
//	err := client.Get(ctx, "/ping", nil, func(body []byte) error { return nil })
//
// # Package Structure
//
//   - provider/ - HTTP transport and monitoring
//   - routing/  - classification, retry policy, circuit breaker
//   - budget/   - request pacing
//
// Most types are re-exported at the root level for convenience.
package rpc

import (
	"time"

	"github.com/vietddude/cryptopipe/internal/infra/rpc/budget"
	"github.com/vietddude/cryptopipe/internal/infra/rpc/provider"
	"github.com/vietddude/cryptopipe/internal/infra/rpc/routing"
)

// Provider performs single requests against the upstream.
type Provider = provider.Provider

// HTTPProvider implements Provider over HTTP.
type HTTPProvider = provider.HTTPProvider

// HealthStatus holds provider health metrics.
type HealthStatus = provider.HealthStatus

// Governor spaces request starts.
type Governor = budget.Governor

// Breaker is the circuit breaker.
type Breaker = routing.Breaker

// BreakerConfig configures a Breaker.
type BreakerConfig = routing.BreakerConfig

// RetryPolicy defines bounded exponential retry.
type RetryPolicy = routing.RetryPolicy

// DefaultRetryPolicy provides the upstream's documented defaults.
var DefaultRetryPolicy = routing.DefaultRetryPolicy

// NewHTTPProvider creates a new HTTP-based provider.
func NewHTTPProvider(name, baseURL string, timeout time.Duration, opts ...provider.Option) *HTTPProvider {
	return provider.NewHTTPProvider(name, baseURL, timeout, opts...)
}

// NewGovernor creates a rate governor.
func NewGovernor(interval time.Duration) *Governor {
	return budget.NewGovernor(interval)
}

// NewBreaker creates a circuit breaker.
func NewBreaker(target string, cfg BreakerConfig, opts ...routing.BreakerOption) *Breaker {
	return routing.NewBreaker(target, cfg, opts...)
}

// ProviderOption configures an HTTPProvider.
type ProviderOption = provider.Option

// WithAPIKey sends key in header on every request.
func WithAPIKey(header, key string) ProviderOption {
	return provider.WithAPIKey(header, key)
}
