package routing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/cryptopipe/internal/core/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errUpstream = &domain.ProviderError{StatusCode: 503}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := NewBreaker("test-open", BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute}, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(errUpstream)
	}
	assert.Equal(t, StateOpen, b.State())

	err := b.Allow()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, 1, b.Stats().Rejections)
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	b := NewBreaker("test-reset", BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})

	b.Record(errUpstream)
	b.Record(errUpstream)
	b.Record(nil)
	b.Record(errUpstream)
	b.Record(errUpstream)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 2, b.Stats().ConsecutiveFails)
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var transitions []Transition
	b := NewBreaker("test-trial", BreakerConfig{FailureThreshold: 2, Cooldown: 30 * time.Second},
		WithClock(clock.Now),
		WithTransitionHook(func(tr Transition) { transitions = append(transitions, tr) }))

	b.Record(errUpstream)
	b.Record(errUpstream)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(29 * time.Second)
	assert.ErrorIs(t, b.Allow(), domain.ErrCircuitOpen)

	clock.Advance(time.Second)
	require.NoError(t, b.Allow(), "first call after cooldown is the trial")
	assert.Equal(t, StateHalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), domain.ErrCircuitOpen, "only one trial at a time")

	b.Record(nil)
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())

	require.Len(t, transitions, 3)
	assert.Equal(t, StateOpen, transitions[0].To)
	assert.Equal(t, StateHalfOpen, transitions[1].To)
	assert.Equal(t, StateClosed, transitions[2].To)
}

func TestBreaker_FailedTrialRestartsCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := NewBreaker("test-reopen", BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Second}, WithClock(clock.Now))

	b.Record(errUpstream)
	clock.Advance(10 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(errUpstream)
	assert.Equal(t, StateOpen, b.State())

	clock.Advance(5 * time.Second)
	assert.ErrorIs(t, b.Allow(), domain.ErrCircuitOpen, "cooldown restarts from the failed trial")

	clock.Advance(5 * time.Second)
	assert.NoError(t, b.Allow())
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := NewBreaker("test-cancel", BreakerConfig{FailureThreshold: 1, Cooldown: time.Second}, WithClock(clock.Now))

	b.Record(context.Canceled)
	assert.Equal(t, StateClosed, b.State())

	b.Record(errUpstream)
	clock.Advance(time.Second)
	require.NoError(t, b.Allow())
	b.Record(context.Canceled)
	assert.Equal(t, StateHalfOpen, b.State())
	assert.NoError(t, b.Allow(), "cancelled trial releases the slot")
}

func TestBreaker_Disabled(t *testing.T) {
	b := NewBreaker("test-disabled", BreakerConfig{})
	for i := 0; i < 10; i++ {
		b.Record(errUpstream)
	}
	assert.NoError(t, b.Allow())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ConcurrentTrial(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := NewBreaker("test-concurrent", BreakerConfig{FailureThreshold: 1, Cooldown: time.Second}, WithClock(clock.Now))
	b.Record(errUpstream)
	clock.Advance(time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow() == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, admitted)
}

func TestBreaker_Execute(t *testing.T) {
	b := NewBreaker("test-execute", BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	calls := 0
	fn := func(context.Context) error { calls++; return errUpstream }

	err := b.Execute(context.Background(), fn)
	assert.True(t, errors.Is(err, errUpstream))

	err = b.Execute(context.Background(), fn)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, 1, calls)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateClosed, StateOpen))
	assert.True(t, CanTransition(StateOpen, StateHalfOpen))
	assert.True(t, CanTransition(StateHalfOpen, StateClosed))
	assert.True(t, CanTransition(StateHalfOpen, StateOpen))
	assert.False(t, CanTransition(StateClosed, StateHalfOpen))
	assert.False(t, CanTransition(StateOpen, StateClosed))
}
