package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/extraction/metrics"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid breaker transition")

// ValidTransitions defines allowed breaker transitions.
var ValidTransitions = map[State][]State{
	StateClosed:   {StateOpen},
	StateOpen:     {StateHalfOpen},
	StateHalfOpen: {StateClosed, StateOpen},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a state change with metadata.
type Transition struct {
	Target    string
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// BreakerConfig configures a Breaker. A zero FailureThreshold disables it.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// BreakerStats is a snapshot of breaker state.
type BreakerStats struct {
	State            State
	ConsecutiveFails int
	OpenedAt         time.Time
	Rejections       int
	LastTransition   *Transition
}

// BreakerOption customises a Breaker.
type BreakerOption func(*Breaker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithTransitionHook registers a callback invoked after every state change.
func WithTransitionHook(fn func(Transition)) BreakerOption {
	return func(b *Breaker) { b.onTransition = fn }
}

// WithBreakerLogger sets the logger.
func WithBreakerLogger(l *slog.Logger) BreakerOption {
	return func(b *Breaker) { b.log = l }
}

// Breaker stops traffic to an upstream after consecutive failures.
//
// CLOSED counts consecutive failures and opens at the threshold. OPEN
// rejects every call until the cooldown has elapsed; the next call after
// that moves to HALF_OPEN and is the single trial. The trial's outcome
// closes the breaker or re-opens it with a fresh cooldown.
type Breaker struct {
	target string
	cfg    BreakerConfig
	now    func() time.Time
	log    *slog.Logger

	onTransition func(Transition)

	mu               sync.Mutex
	state            State
	consecutiveFails int
	openedAt         time.Time
	trialInFlight    bool
	rejections       int
	last             *Transition
}

// NewBreaker creates a breaker in the CLOSED state.
func NewBreaker(target string, cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		target: target,
		cfg:    cfg,
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	metrics.CircuitState.WithLabelValues(target).Set(float64(StateClosed))
	return b
}

// Allow reports whether a call may proceed. It returns an error wrapping
// domain.ErrCircuitOpen when the call must fail fast.
func (b *Breaker) Allow() error {
	if b.cfg.FailureThreshold <= 0 {
		return nil
	}

	b.mu.Lock()
	var fired *Transition
	defer func() {
		b.mu.Unlock()
		b.notify(fired)
	}()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return b.reject()
		}
		fired = b.transition(StateHalfOpen, "cooldown elapsed")
		b.trialInFlight = true
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return b.reject()
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

// Record reports the outcome of a call admitted by Allow. Cancellation is
// not an upstream failure and only releases a half-open trial slot.
func (b *Breaker) Record(err error) {
	if b.cfg.FailureThreshold <= 0 {
		return
	}
	if errors.Is(err, domain.ErrCircuitOpen) || errors.Is(err, domain.ErrValidation) {
		return
	}

	b.mu.Lock()
	var fired *Transition
	defer func() {
		b.mu.Unlock()
		b.notify(fired)
	}()

	if domain.IsCancellation(err) {
		b.trialInFlight = false
		return
	}

	if err == nil {
		b.consecutiveFails = 0
		if b.state == StateHalfOpen {
			b.trialInFlight = false
			fired = b.transition(StateClosed, "trial succeeded")
		}
		return
	}

	b.consecutiveFails++
	switch b.state {
	case StateClosed:
		if b.consecutiveFails >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			fired = b.transition(StateOpen,
				fmt.Sprintf("%d consecutive failures: %v", b.consecutiveFails, err))
		}
	case StateHalfOpen:
		b.trialInFlight = false
		b.openedAt = b.now()
		fired = b.transition(StateOpen, fmt.Sprintf("trial failed: %v", err))
	}
}

// State returns the current state without evaluating the cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of breaker statistics.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:            b.state,
		ConsecutiveFails: b.consecutiveFails,
		OpenedAt:         b.openedAt,
		Rejections:       b.rejections,
		LastTransition:   b.last,
	}
}

// Target returns the upstream name the breaker protects.
func (b *Breaker) Target() string {
	return b.target
}

// Execute runs fn behind the breaker.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.Record(err)
	return err
}

// reject must be called with mu held.
func (b *Breaker) reject() error {
	b.rejections++
	metrics.CircuitRejectionsTotal.WithLabelValues(b.target).Inc()
	remaining := b.cfg.Cooldown - b.now().Sub(b.openedAt)
	if remaining < 0 {
		remaining = 0
	}
	return fmt.Errorf("%w: %s is %s, retry in %s", domain.ErrCircuitOpen, b.target, b.state, remaining.Round(time.Millisecond))
}

// transition must be called with mu held.
func (b *Breaker) transition(to State, reason string) *Transition {
	if !CanTransition(b.state, to) {
		b.log.Error("Rejected breaker transition", "target", b.target, "from", b.state, "to", to, "error", ErrInvalidTransition)
		return nil
	}
	t := &Transition{
		Target:    b.target,
		From:      b.state,
		To:        to,
		Reason:    reason,
		Timestamp: b.now(),
	}
	b.state = to
	b.last = t
	return t
}

func (b *Breaker) notify(t *Transition) {
	if t == nil {
		return
	}
	metrics.CircuitState.WithLabelValues(t.Target).Set(float64(t.To))
	level := slog.LevelInfo
	if t.To == StateOpen {
		level = slog.LevelWarn
	}
	b.log.Log(context.Background(), level, "Circuit breaker transition",
		"target", t.Target, "from", t.From, "to", t.To, "reason", t.Reason)
	if b.onTransition != nil {
		b.onTransition(*t)
	}
}
