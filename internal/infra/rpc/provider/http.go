package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/extraction/metrics"
)

const maxErrorBody = 512

// HTTPProvider implements Provider for a REST API over HTTP.
type HTTPProvider struct {
	name         string
	baseURL      string
	apiKey       string
	apiKeyHeader string
	httpClient   *http.Client

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration

	Monitor *ProviderMonitor
}

// Option customises an HTTPProvider.
type Option func(*HTTPProvider)

// WithHTTPClient replaces the default client, e.g. with a recording transport.
func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTPProvider) { p.httpClient = c }
}

// WithAPIKey sends key in header on every request.
func WithAPIKey(header, key string) Option {
	return func(p *HTTPProvider) {
		p.apiKeyHeader = header
		p.apiKey = key
	}
}

// NewHTTPProvider creates a new HTTP-based provider.
func NewHTTPProvider(name, baseURL string, timeout time.Duration, opts ...Option) *HTTPProvider {
	p := &HTTPProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		health:  HealthStatus{Available: true},
		Monitor: NewProviderMonitor(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *HTTPProvider) Name() string {
	return p.name
}

// Get makes a single GET request. Non-2xx responses become
// *domain.ProviderError; transport failures wrap domain.ErrNetwork unless
// ctx itself was cancelled.
func (p *HTTPProvider) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	start := time.Now()
	endpoint := endpointLabel(path)

	u := p.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrPermanent, err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set(p.apiKeyHeader, p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.recordFailure(endpoint, "network")
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request %s: %w", path, ctx.Err())
		}
		return nil, fmt.Errorf("%w: request %s: %v", domain.ErrNetwork, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	p.Monitor.RecordRequest(latency)
	metrics.ProviderLatency.WithLabelValues(endpoint).Observe(latency.Seconds())
	if err != nil {
		p.recordFailure(endpoint, "network")
		if ctx.Err() != nil {
			return nil, fmt.Errorf("read response %s: %w", path, ctx.Err())
		}
		return nil, fmt.Errorf("%w: read response %s: %v", domain.ErrNetwork, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := &domain.ProviderError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), maxErrorBody),
		}
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			perr.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
			p.Monitor.RecordThrottle(resp.StatusCode, perr.RetryAfter)
		case http.StatusForbidden:
			p.Monitor.RecordThrottle(resp.StatusCode, 0)
		}
		p.recordFailure(endpoint, strconv.Itoa(resp.StatusCode))
		return nil, perr
	}

	p.recordSuccess(endpoint, latency)
	return body, nil
}

// Health returns current health metrics.
func (p *HTTPProvider) Health() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	h := p.health
	if h.Requests > 0 {
		h.ErrorRate = float64(h.Failures) / float64(h.Requests)
	}
	if successes := h.Requests - h.Failures; successes > 0 {
		h.Latency = p.totalLatency / time.Duration(successes)
	}
	return h
}

func (p *HTTPProvider) recordSuccess(endpoint string, latency time.Duration) {
	metrics.ProviderRequestsTotal.WithLabelValues(endpoint, "ok").Inc()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.health.Requests++
	p.health.Available = true
	p.health.LastSuccessAt = time.Now()
	p.totalLatency += latency
}

func (p *HTTPProvider) recordFailure(endpoint, outcome string) {
	metrics.ProviderRequestsTotal.WithLabelValues(endpoint, outcome).Inc()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.health.Requests++
	p.health.Failures++
	p.health.LastFailureAt = time.Now()
	p.health.Available = p.Monitor.CheckProviderStatus() != StatusBlocked
}

// ParseRetryAfter accepts delta-seconds or an HTTP date. Unparseable or
// past values yield 0.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// endpointLabel keeps metric cardinality bounded: /coins/{id}/x -> /coins/x.
func endpointLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "coins" {
		return "/coins/" + strings.Join(parts[2:], "/")
	}
	return path
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
