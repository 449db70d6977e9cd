package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/extraction/metrics"
	"github.com/vietddude/cryptopipe/internal/infra/rpc/budget"
	"github.com/vietddude/cryptopipe/internal/infra/rpc/provider"
	"github.com/vietddude/cryptopipe/internal/infra/rpc/routing"
)

// Client is the resilient path to one upstream. Every call is gated by the
// breaker, then each attempt waits on the governor before hitting the
// provider, and transient failures are retried per the policy.
type Client struct {
	provider provider.Provider
	governor *budget.Governor
	breaker  *routing.Breaker
	policy   routing.RetryPolicy
	log      *slog.Logger
}

// NewClient creates a client. breaker may be nil to disable it.
func NewClient(
	p provider.Provider,
	governor *budget.Governor,
	breaker *routing.Breaker,
	policy routing.RetryPolicy,
) *Client {
	if governor == nil {
		governor = budget.NewGovernor(0)
	}
	return &Client{
		provider: p,
		governor: governor,
		breaker:  breaker,
		policy:   policy,
		log:      slog.Default(),
	}
}

// SetLogger replaces the default logger.
func (c *Client) SetLogger(l *slog.Logger) {
	c.log = l
}

// Get fetches path and hands the body to decode. A decode failure is a
// malformed response and counts as a permanent failure for the breaker.
func (c *Client) Get(
	ctx context.Context,
	path string,
	query url.Values,
	decode func(body []byte) error,
) error {
	call := func(ctx context.Context) error {
		return routing.Retry(ctx, c.policy, c.governor.Wait,
			func(ctx context.Context, attempt int) error {
				c.log.Debug("Upstream request", "provider", c.provider.Name(), "path", path, "attempt", attempt)
				body, err := c.provider.Get(ctx, path, query)
				if err != nil {
					return err
				}
				if decode == nil {
					return nil
				}
				if err := decode(body); err != nil {
					return &domain.MalformedError{Err: err}
				}
				return nil
			},
			func(attempt int, delay time.Duration, err error) {
				metrics.RetriesTotal.WithLabelValues(path).Inc()
				metrics.BackoffSeconds.Add(delay.Seconds())
				c.log.Warn("Transient upstream failure, retrying",
					"provider", c.provider.Name(), "path", path,
					"attempt", attempt+1, "of", c.policy.Attempts(),
					"delay", delay, "error", err)
			},
		)
	}

	// The breaker sees one outcome per Get, after retries.
	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", c.provider.Name(), path, err)
	}
	return nil
}

// Provider returns the underlying provider.
func (c *Client) Provider() provider.Provider { return c.provider }

// Breaker returns the breaker, or nil.
func (c *Client) Breaker() *routing.Breaker { return c.breaker }

// Governor returns the rate governor.
func (c *Client) Governor() *budget.Governor { return c.governor }
