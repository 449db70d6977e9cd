// Package coingecko extracts historical market data for one asset and one
// date window from the CoinGecko REST API.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/extraction/metrics"
	"github.com/vietddude/cryptopipe/internal/infra/rpc"
)

// FetchResult holds the normalized points of one fetch. Dropped counts
// provider entries skipped because of a bad shape.
type FetchResult struct {
	Points  []domain.MarketDataPoint
	Dropped int
}

// Client fetches market chart ranges through a resilient rpc.Client.
type Client struct {
	rpc           *rpc.Client
	vsCurrency    string
	maxWindowDays int
	now           func() time.Time
	log           *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithVsCurrency sets the quote currency (default usd).
func WithVsCurrency(currency string) Option {
	return func(c *Client) { c.vsCurrency = currency }
}

// WithMaxWindowDays caps the window span (default 365).
func WithMaxWindowDays(days int) Option {
	return func(c *Client) { c.maxWindowDays = days }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a new extraction client.
func NewClient(rc *rpc.Client, opts ...Option) *Client {
	c := &Client{
		rpc:           rc,
		vsCurrency:    "usd",
		maxWindowDays: domain.DefaultMaxWindowDays,
		now:           time.Now,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the points of asset within window. The window is checked
// before any request is made.
func (c *Client) Fetch(ctx context.Context, asset domain.Asset, window domain.ExtractionWindow) (*FetchResult, error) {
	if err := window.Validate(c.now(), c.maxWindowDays); err != nil {
		return nil, err
	}

	from := domain.TruncateDay(window.From)
	to := domain.TruncateDay(window.To).Add(24*time.Hour - time.Second)

	query := url.Values{}
	query.Set("vs_currency", c.vsCurrency)
	query.Set("from", strconv.FormatInt(from.Unix(), 10))
	query.Set("to", strconv.FormatInt(to.Unix(), 10))

	path := "/coins/" + url.PathEscape(asset.ProviderID) + "/market_chart/range"

	var result FetchResult
	err := c.rpc.Get(ctx, path, query, func(body []byte) error {
		points, dropped, err := parseMarketChart(body, asset, c.now().UTC())
		if err != nil {
			return err
		}
		result = FetchResult{Points: points, Dropped: dropped}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", asset.ProviderID, window, err)
	}

	if result.Dropped > 0 {
		metrics.RecordsDropped.WithLabelValues(asset.Symbol).Add(float64(result.Dropped))
		c.log.Warn("Dropped malformed entries", "asset", asset.Symbol, "dropped", result.Dropped)
	}
	c.log.Debug("Fetched market chart", "asset", asset.Symbol, "window", window.String(), "points", len(result.Points))
	return &result, nil
}

// Ping checks that the API answers through the same rate and retry path.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var resp struct {
		GeckoSays string `json:"gecko_says"`
	}
	err := c.rpc.Get(ctx, "/ping", nil, func(body []byte) error {
		return json.Unmarshal(body, &resp)
	})
	if err != nil {
		return "", fmt.Errorf("ping: %w", err)
	}
	return resp.GeckoSays, nil
}
