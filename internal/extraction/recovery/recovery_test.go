package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/infra/storage/memory"
)

// =============================================================================
// Strategy Tests
// =============================================================================

func TestBackoff_Delay(t *testing.T) {
	strategy := DefaultBackoff(nil)
	strategy.InitialDelay = 1 * time.Second
	strategy.MaxDelay = 10 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := strategy.GetDelay(tt.attempt); got != tt.want {
			t.Errorf("GetDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_ShouldRetry(t *testing.T) {
	strategy := DefaultBackoff(nil)

	transient := fmt.Errorf("%w after 4 attempts: %w", domain.ErrTransient, &domain.ProviderError{StatusCode: 503})
	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"transient", transient, 0, true},
		{"circuit open", domain.ErrCircuitOpen, 0, true},
		{"persistence", fmt.Errorf("%w: commit", domain.ErrPersistence), 0, true},
		{"not found", fmt.Errorf("%w: %w", domain.ErrPermanent, &domain.ProviderError{StatusCode: 404}), 0, false},
		{"validation", domain.ErrValidation, 0, false},
		{"cancelled", context.Canceled, 0, false},
		{"exhausted", transient, 5, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strategy.ShouldRetry(tt.err, tt.attempt); got != tt.want {
				t.Errorf("ShouldRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Handler Tests
// =============================================================================

var (
	aave   = domain.Asset{Symbol: "aave", ProviderID: "aave"}
	window = domain.ExtractionWindow{
		From: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC),
	}
)

func newTestHandler(now *time.Time) (*Handler, *memory.FailedWindowRepo) {
	repo := memory.NewFailedWindowRepo(memory.NewMemoryStorage())
	h := NewHandler(repo, nil, nil)
	h.SetClock(func() time.Time { return *now })
	return h, repo
}

func TestHandleFailure_QueuesOnlyRetryable(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	h, repo := newTestHandler(&now)
	ctx := context.Background()

	queued, err := h.HandleFailure(ctx, aave, window, &domain.MalformedError{Err: errors.New("bad json")})
	if err != nil || queued {
		t.Fatalf("malformed response should not be queued, got queued=%v err=%v", queued, err)
	}

	queued, err = h.HandleFailure(ctx, aave, window, domain.ErrCircuitOpen)
	if err != nil || !queued {
		t.Fatalf("circuit open should be queued, got queued=%v err=%v", queued, err)
	}

	n, _ := repo.Count(ctx)
	if n != 1 {
		t.Fatalf("expected 1 queued window, got %d", n)
	}
	all, _ := repo.GetAll(ctx)
	if all[0].ErrorKind != "circuit_open" {
		t.Errorf("expected kind circuit_open, got %s", all[0].ErrorKind)
	}
}

func TestDrain(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	h, repo := newTestHandler(&now)
	ctx := context.Background()

	if _, err := h.HandleFailure(ctx, aave, window, domain.ErrCircuitOpen); err != nil {
		t.Fatal(err)
	}

	calls := 0
	ok := func(context.Context, domain.Asset, domain.ExtractionWindow) error {
		calls++
		return nil
	}

	// Not yet due.
	res, err := h.Drain(ctx, ok, DrainOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Deferred != 1 || calls != 0 {
		t.Fatalf("expected deferral without fetch, got %+v calls=%d", res, calls)
	}

	// Due after the first backoff step; still failing transiently.
	now = now.Add(6 * time.Minute)
	failing := func(context.Context, domain.Asset, domain.ExtractionWindow) error {
		return fmt.Errorf("%w after 4 attempts", domain.ErrTransient)
	}
	res, err = h.Drain(ctx, failing, DrainOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Retried != 1 {
		t.Fatalf("expected a retry, got %+v", res)
	}
	all, _ := repo.GetAll(ctx)
	if all[0].RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", all[0].RetryCount)
	}

	// Force skips the backoff and success resolves.
	res, err = h.Drain(ctx, ok, DrainOptions{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Resolved != 1 || calls != 1 {
		t.Fatalf("expected resolution, got %+v calls=%d", res, calls)
	}
	if n, _ := repo.Count(ctx); n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
}

func TestDrain_DropsPermanent(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	h, repo := newTestHandler(&now)
	ctx := context.Background()

	if _, err := h.HandleFailure(ctx, aave, window, domain.ErrCircuitOpen); err != nil {
		t.Fatal(err)
	}

	notFound := func(context.Context, domain.Asset, domain.ExtractionWindow) error {
		return fmt.Errorf("%w: %w", domain.ErrPermanent, &domain.ProviderError{StatusCode: 404})
	}
	res, err := h.Drain(ctx, notFound, DrainOptions{Force: true, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Dropped != 1 {
		t.Fatalf("expected drop, got %+v", res)
	}
	if n, _ := repo.Count(ctx); n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
}

func TestDrain_CancellationKeepsWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	h, repo := newTestHandler(&now)
	ctx := context.Background()

	if _, err := h.HandleFailure(ctx, aave, window, domain.ErrCircuitOpen); err != nil {
		t.Fatal(err)
	}

	cancelled := func(context.Context, domain.Asset, domain.ExtractionWindow) error {
		return context.Canceled
	}
	if _, err := h.Drain(ctx, cancelled, DrainOptions{Force: true}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if n, _ := repo.Count(ctx); n != 1 {
		t.Fatalf("expected window kept, got %d", n)
	}
}
