package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/infra/coingecko"
	"github.com/vietddude/cryptopipe/internal/infra/rpc"
)

// Fetches the last week of one asset through the full client stack and
// prints it. Useful for checking an API key without a database.
func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found")
	}

	id := "aave"
	if len(os.Args) > 1 {
		id = os.Args[1]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// 1. Create provider
	var opts []rpc.ProviderOption
	if key := os.Getenv("COINGECKO_API_KEY"); key != "" {
		opts = append(opts, rpc.WithAPIKey("x-cg-api-key", key))
	}
	p := rpc.NewHTTPProvider("coingecko", "https://api.coingecko.com/api/v3", 30*time.Second, opts...)

	// 2. Pace, retry and break like a real run
	breaker := rpc.NewBreaker("coingecko", rpc.BreakerConfig{FailureThreshold: 5, Cooldown: time.Minute})
	client := rpc.NewClient(p, rpc.NewGovernor(2*time.Second), breaker, rpc.DefaultRetryPolicy)
	gecko := coingecko.NewClient(client)

	// 3. Fetch
	to := domain.TruncateDay(time.Now())
	window := domain.ExtractionWindow{From: to.AddDate(0, 0, -6), To: to}
	res, err := gecko.Fetch(ctx, domain.Asset{Symbol: id, ProviderID: id}, window)
	if err != nil {
		log.Fatalf("Fetch failed: %v", err)
	}

	fmt.Printf("=== %s %s ===\n", id, window)
	for _, pt := range res.Points {
		fmt.Printf("%s  price=%s  cap=%s  vol=%s\n",
			pt.Date.Format(domain.DateLayout), pt.Price.StringFixed(4), pt.MarketCap.StringFixed(0), pt.Volume24h.StringFixed(0))
	}
	if res.Dropped > 0 {
		fmt.Printf("dropped %d malformed entries\n", res.Dropped)
	}

	// 4. Provider health
	h := p.Health()
	fmt.Printf("\nrequests=%d failures=%d avg_latency=%v breaker=%s\n",
		h.Requests, h.Failures, h.Latency.Round(time.Millisecond), breaker.State())
}
