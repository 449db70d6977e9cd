package coingecko

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/cryptopipe/internal/core/domain"
)

// marketChartResponse is the body of /coins/{id}/market_chart/range.
type marketChartResponse struct {
	Prices       *[]json.RawMessage `json:"prices"`
	MarketCaps   []json.RawMessage  `json:"market_caps"`
	TotalVolumes []json.RawMessage  `json:"total_volumes"`
}

// sample is one validated [timestamp_ms, value] pair.
type sample struct {
	ts    int64
	value decimal.Decimal
}

var errNotObject = errors.New("body is not a JSON object")

// parseMarketChart converts a response body into points ordered by
// timestamp. Entries with a bad shape are skipped and counted; a body
// without a prices array is rejected.
func parseMarketChart(body []byte, asset domain.Asset, extractedAt time.Time) ([]domain.MarketDataPoint, int, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, 0, errNotObject
	}

	var resp marketChartResponse
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, 0, fmt.Errorf("decode market chart: %w", err)
	}
	if resp.Prices == nil {
		return nil, 0, errors.New("prices field missing")
	}

	prices, dropped := parseSeries(*resp.Prices)
	caps, d := parseSeries(resp.MarketCaps)
	dropped += d
	volumes, d := parseSeries(resp.TotalVolumes)
	dropped += d

	capByTs := index(caps)
	volByTs := index(volumes)

	sort.SliceStable(prices, func(i, j int) bool { return prices[i].ts < prices[j].ts })

	points := make([]domain.MarketDataPoint, 0, len(prices))
	for i, p := range prices {
		if i > 0 && prices[i-1].ts == p.ts {
			continue
		}
		points = append(points, domain.MarketDataPoint{
			AssetID:     asset.ProviderID,
			Symbol:      asset.Symbol,
			TimestampMs: p.ts,
			Date:        domain.DateFromMillis(p.ts),
			Price:       p.value,
			MarketCap:   capByTs[p.ts],
			Volume24h:   volByTs[p.ts],
			ExtractedAt: extractedAt,
		})
	}
	return points, dropped, nil
}

func parseSeries(raw []json.RawMessage) ([]sample, int) {
	out := make([]sample, 0, len(raw))
	dropped := 0
	for _, entry := range raw {
		s, err := parseEntry(entry)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, s)
	}
	return out, dropped
}

// maxTimestampMs is 9999-12-31T23:59:59.999Z; anything later cannot be a
// calendar date and would overflow the int64 conversion.
const maxTimestampMs = 253402300799999

func parseEntry(raw json.RawMessage) (sample, error) {
	var pair []json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&pair); err != nil {
		return sample{}, err
	}
	if len(pair) != 2 || pair[0] == "" || pair[1] == "" {
		return sample{}, fmt.Errorf("expected [timestamp, value], got %s", raw)
	}

	tsf, err := pair[0].Float64()
	if err != nil || tsf <= 0 || tsf > maxTimestampMs {
		return sample{}, fmt.Errorf("bad timestamp %q", pair[0])
	}
	value, err := decimal.NewFromString(pair[1].String())
	if err != nil {
		return sample{}, fmt.Errorf("bad value %q: %w", pair[1], err)
	}
	if value.IsNegative() {
		return sample{}, fmt.Errorf("negative value %s", value)
	}
	return sample{ts: int64(tsf), value: value}, nil
}

func index(samples []sample) map[int64]decimal.Decimal {
	m := make(map[int64]decimal.Decimal, len(samples))
	for _, s := range samples {
		if _, ok := m[s.ts]; !ok {
			m[s.ts] = s.value
		}
	}
	return m
}
