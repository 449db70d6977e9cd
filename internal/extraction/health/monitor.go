package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/cryptopipe/internal/infra/rpc/budget"
	"github.com/vietddude/cryptopipe/internal/infra/rpc/provider"
	"github.com/vietddude/cryptopipe/internal/infra/rpc/routing"
)

// Thresholds for status evaluation.
const (
	degradedErrorRate     = 0.2
	criticalErrorRate     = 0.5
	criticalFailedWindows = 50
	cacheTTL              = 10 * time.Second
	pingTimeout           = 3 * time.Second
)

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueCounter reports the failed window backlog.
type QueueCounter interface {
	Count(ctx context.Context) (int, error)
}

// Monitor aggregates health status from the pipeline's dependencies.
type Monitor struct {
	provider provider.Provider
	breaker  *routing.Breaker
	store    Pinger
	queue    QueueCounter
	governor *budget.Governor
	now      func() time.Time

	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. breaker and queue may be nil.
func NewMonitor(p provider.Provider, breaker *routing.Breaker, store Pinger, queue QueueCounter) *Monitor {
	return &Monitor{
		provider: p,
		breaker:  breaker,
		store:    store,
		queue:    queue,
		now:      time.Now,
	}
}

// SetGovernor adds request pacing stats to the report.
func (m *Monitor) SetGovernor(g *budget.Governor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.governor = g
}

// CheckHealth builds a report. A report younger than cacheTTL is reused.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && m.now().Sub(m.lastCheck) < cacheTTL {
		return m.lastReport
	}

	report := &HealthReport{
		Provider: m.checkProvider(),
		Storage:  m.checkStorage(ctx),
	}

	if m.governor != nil {
		u := m.governor.Usage()
		report.Governor = &GovernorHealth{
			IntervalMS:   m.governor.Interval().Milliseconds(),
			Acquisitions: u.Acquisitions,
			TotalWaitMS:  u.TotalWait.Milliseconds(),
		}
	}

	status := worst(report.Provider.Status, report.Storage.Status)
	if m.queue != nil {
		if n, err := m.queue.Count(ctx); err == nil {
			report.FailedWindows = n
			switch {
			case n > criticalFailedWindows:
				status = worst(status, StatusCritical)
			case n > 0:
				status = worst(status, StatusDegraded)
			}
		}
	}
	report.SystemStatus = status

	m.lastCheck = m.now()
	m.lastReport = report
	return report
}

func (m *Monitor) checkProvider() ProviderHealth {
	h := m.provider.Health()
	ph := ProviderHealth{
		ComponentHealth: ComponentHealth{Name: m.provider.Name(), Status: StatusHealthy},
		BreakerState:    routing.StateClosed.String(),
		ErrorRate:       h.ErrorRate,
		LatencyMS:       h.Latency.Milliseconds(),
		Requests:        h.Requests,
	}

	if hp, ok := m.provider.(*provider.HTTPProvider); ok {
		stats := hp.Monitor.GetStats()
		ph.Throttle = stats.Status.String()
		ph.Throttled429 = stats.ThrottleCount429
		ph.RetryAfterMS = stats.RetryAfter.Milliseconds()
		switch stats.Status {
		case provider.StatusBlocked:
			ph.Status = StatusCritical
			ph.Message = "provider rejected credentials"
		case provider.StatusThrottled:
			ph.Status = StatusDegraded
			ph.Message = "provider is throttling"
		}
	}

	if m.breaker != nil {
		state := m.breaker.State()
		ph.BreakerState = state.String()
		switch state {
		case routing.StateOpen:
			ph.Status = StatusCritical
			ph.Message = "circuit open"
			return ph
		case routing.StateHalfOpen:
			ph.Status = worst(ph.Status, StatusDegraded)
			ph.Message = "circuit half open"
		}
	}

	switch {
	case h.ErrorRate >= criticalErrorRate:
		ph.Status = worst(ph.Status, StatusCritical)
		ph.Message = fmt.Sprintf("error rate %.0f%%", h.ErrorRate*100)
	case h.ErrorRate >= degradedErrorRate:
		ph.Status = worst(ph.Status, StatusDegraded)
		ph.Message = fmt.Sprintf("error rate %.0f%%", h.ErrorRate*100)
	}
	return ph
}

func (m *Monitor) checkStorage(ctx context.Context) ComponentHealth {
	ch := ComponentHealth{Name: "storage", Status: StatusHealthy}
	if m.store == nil {
		return ch
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := m.store.Ping(ctx); err != nil {
		ch.Status = StatusCritical
		ch.Message = err.Error()
	}
	return ch
}

func worst(a, b SystemStatus) SystemStatus {
	if b.severity() > a.severity() {
		return b
	}
	return a
}
