package coingecko

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/infra/rpc"
	"github.com/vietddude/cryptopipe/internal/infra/rpc/routing"
)

var (
	aave   = domain.Asset{Symbol: "aave", ProviderID: "aave"}
	jan1   = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	window = domain.ExtractionWindow{From: jan1, To: jan1.AddDate(0, 0, 2)}
)

// threeDays is a market chart body with one point per day of window.
func threeDays() string {
	ts := func(d int) int64 { return jan1.AddDate(0, 0, d).UnixMilli() }
	return fmt.Sprintf(`{
		"prices": [[%d, 310.12], [%d, 322.5], [%d, 330.01]],
		"market_caps": [[%d, 4650000000], [%d, 4840000000], [%d, 4950000000]],
		"total_volumes": [[%d, 210000000.5], [%d, 180000000], [%d, 190000000]]
	}`, ts(0), ts(1), ts(2), ts(0), ts(1), ts(2), ts(0), ts(1), ts(2))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	client  *Client
	breaker *routing.Breaker
	calls   *atomic.Int32
	clock   *clock
}

func newHarness(t *testing.T, handler http.HandlerFunc, maxRetries, threshold int) *harness {
	t.Helper()

	calls := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	clk := &clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	breaker := routing.NewBreaker(t.Name(), routing.BreakerConfig{
		FailureThreshold: threshold,
		Cooldown:         time.Minute,
	}, routing.WithClock(clk.Now))

	rc := rpc.NewClient(
		rpc.NewHTTPProvider("coingecko", server.URL, 5*time.Second),
		rpc.NewGovernor(0),
		breaker,
		routing.RetryPolicy{MaxRetries: maxRetries, BaseDelay: time.Millisecond, BackoffFactor: 1.5},
	)

	return &harness{
		client:  NewClient(rc, WithClock(clk.Now)),
		breaker: breaker,
		calls:   calls,
		clock:   clk,
	}
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestFetch_ThreeDailyPoints(t *testing.T) {
	var query map[string]string
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/aave/market_chart/range", r.URL.Path)
		query = map[string]string{
			"vs_currency": r.URL.Query().Get("vs_currency"),
			"from":        r.URL.Query().Get("from"),
			"to":          r.URL.Query().Get("to"),
		}
		_, _ = w.Write([]byte(threeDays()))
	}, 3, 5)

	res, err := h.client.Fetch(context.Background(), aave, window)
	require.NoError(t, err)
	require.Len(t, res.Points, 3)
	assert.Zero(t, res.Dropped)

	assert.Equal(t, "usd", query["vs_currency"])
	assert.Equal(t, strconv.FormatInt(jan1.Unix(), 10), query["from"])
	assert.Equal(t, strconv.FormatInt(jan1.AddDate(0, 0, 3).Unix()-1, 10), query["to"])

	first := res.Points[0]
	assert.Equal(t, "aave", first.AssetID)
	assert.Equal(t, "aave", first.Symbol)
	assert.Equal(t, jan1.UnixMilli(), first.TimestampMs)
	assert.Equal(t, jan1, first.Date)
	assert.Equal(t, "310.12", first.Price.String())
	assert.Equal(t, "4650000000", first.MarketCap.String())
	assert.Equal(t, "210000000.5", first.Volume24h.String())
	assert.Equal(t, h.clock.Now(), first.ExtractedAt)

	for i := 1; i < len(res.Points); i++ {
		assert.Less(t, res.Points[i-1].TimestampMs, res.Points[i].TimestampMs)
	}
}

func TestFetch_InvalidWindowNeverCallsNetwork(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK, threeDays()), 3, 5)
	now := h.clock.Now()

	windows := map[string]domain.ExtractionWindow{
		"from after to": {From: jan1.AddDate(0, 0, 2), To: jan1},
		"future":        {From: jan1, To: now.AddDate(0, 0, 1)},
		"too long":      {From: jan1.AddDate(-1, 0, 0), To: jan1.AddDate(0, 0, 1)},
		"pre history":   {From: time.Date(2008, 6, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2008, 6, 2, 0, 0, 0, 0, time.UTC)},
	}
	for name, w := range windows {
		_, err := h.client.Fetch(context.Background(), aave, w)
		assert.ErrorIs(t, err, domain.ErrValidation, name)
	}
	assert.Zero(t, h.calls.Load())
	assert.Equal(t, routing.StateClosed, h.breaker.State(), "validation errors do not trip the breaker")
}

func TestFetch_NotFoundIsPermanentAfterOneAttempt(t *testing.T) {
	h := newHarness(t, respond(http.StatusNotFound, `{"error":"coin not found"}`), 3, 5)

	_, err := h.client.Fetch(context.Background(), domain.Asset{Symbol: "nope", ProviderID: "nope"}, window)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPermanent)
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestFetch_RetryBudget(t *testing.T) {
	for _, n := range []int{0, 2, 4} {
		t.Run(fmt.Sprintf("max_retries=%d", n), func(t *testing.T) {
			h := newHarness(t, respond(http.StatusServiceUnavailable, "busy"), n, 0)

			_, err := h.client.Fetch(context.Background(), aave, window)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrTransient)
			assert.Equal(t, int32(n+1), h.calls.Load())
		})
	}
}

func TestFetch_RateLimitedThenSucceeds(t *testing.T) {
	var n atomic.Int32
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(threeDays()))
	}, 3, 5)

	res, err := h.client.Fetch(context.Background(), aave, window)
	require.NoError(t, err)
	assert.Len(t, res.Points, 3)
	assert.Equal(t, int32(2), h.calls.Load())
}

func TestFetch_MalformedIsPermanent(t *testing.T) {
	bodies := []string{`[]`, `not json`, `{"market_caps": []}`, `{"prices": "oops"}`}
	for _, body := range bodies {
		h := newHarness(t, respond(http.StatusOK, body), 3, 5)

		_, err := h.client.Fetch(context.Background(), aave, window)
		require.Error(t, err, body)
		assert.ErrorIs(t, err, domain.ErrMalformedResponse, body)
		assert.ErrorIs(t, err, domain.ErrPermanent, body)
		assert.Equal(t, int32(1), h.calls.Load(), "malformed responses are not retried: %s", body)
	}
}

func TestFetch_PartialDropsBadEntries(t *testing.T) {
	ts := jan1.UnixMilli()
	body := fmt.Sprintf(`{"prices": [[%d, 1.5], [%d, null], ["x", 2], [%d], [1e300, 5], [1e999, 5], [253402300800000, 5]], "market_caps": [], "total_volumes": []}`,
		ts, ts+86400000, ts)
	h := newHarness(t, respond(http.StatusOK, body), 3, 5)

	res, err := h.client.Fetch(context.Background(), aave, window)
	require.NoError(t, err)
	require.Len(t, res.Points, 1)
	assert.Equal(t, 6, res.Dropped)
	assert.Equal(t, ts, res.Points[0].TimestampMs)
	assert.True(t, res.Points[0].MarketCap.IsZero())
}

func TestFetch_EmptyResponse(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK, `{"prices": [], "market_caps": [], "total_volumes": []}`), 3, 5)

	res, err := h.client.Fetch(context.Background(), aave, window)
	require.NoError(t, err)
	assert.Empty(t, res.Points)
	assert.Zero(t, res.Dropped)
}

func TestFetch_CircuitBreaker(t *testing.T) {
	var healthy atomic.Bool
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			_, _ = w.Write([]byte(threeDays()))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}, 2, 3)

	for i := 0; i < 3; i++ {
		_, err := h.client.Fetch(context.Background(), aave, window)
		require.ErrorIs(t, err, domain.ErrPermanent)
	}
	require.Equal(t, int32(3), h.calls.Load())
	require.Equal(t, routing.StateOpen, h.breaker.State())

	_, err := h.client.Fetch(context.Background(), aave, window)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.NotErrorIs(t, err, domain.ErrPermanent)
	assert.Equal(t, int32(3), h.calls.Load(), "an open circuit makes no network call")

	h.clock.Advance(time.Minute)
	healthy.Store(true)

	res, err := h.client.Fetch(context.Background(), aave, window)
	require.NoError(t, err, "half-open trial is let through")
	assert.Len(t, res.Points, 3)
	assert.Equal(t, routing.StateClosed, h.breaker.State())

	_, err = h.client.Fetch(context.Background(), aave, window)
	assert.NoError(t, err)
	assert.Equal(t, int32(5), h.calls.Load())
}

func TestFetch_TransientExhaustionCountsOnceForBreaker(t *testing.T) {
	h := newHarness(t, respond(http.StatusBadGateway, ""), 2, 2)

	_, err := h.client.Fetch(context.Background(), aave, window)
	require.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, routing.StateClosed, h.breaker.State())
	assert.Equal(t, 1, h.breaker.Stats().ConsecutiveFails)
}

func TestFetch_Cancellation(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK, threeDays()), 3, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.client.Fetch(ctx, aave, window)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "cancelled", domain.ErrorKind(err))
	assert.Equal(t, routing.StateClosed, h.breaker.State())
}

func TestPing(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ping", r.URL.Path)
		_, _ = w.Write([]byte(`{"gecko_says":"(V3) To the Moon!"}`))
	}, 0, 5)

	msg, err := h.client.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "(V3) To the Moon!", msg)
}
