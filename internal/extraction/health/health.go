// Package health provides pipeline health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the pipeline or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// severity orders statuses so the worst one wins.
func (s SystemStatus) severity() int {
	switch s {
	case StatusCritical:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// ComponentHealth is the state of one dependency.
type ComponentHealth struct {
	Name    string       `json:"name"`
	Status  SystemStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// ProviderHealth summarises the upstream API.
type ProviderHealth struct {
	ComponentHealth
	BreakerState string  `json:"breaker_state"`
	ErrorRate    float64 `json:"error_rate"`
	LatencyMS    int64   `json:"latency_ms"`
	Requests     int     `json:"requests"`
	Throttle     string  `json:"throttle,omitempty"`
	Throttled429 int     `json:"throttled_429,omitempty"`
	RetryAfterMS int64   `json:"retry_after_ms,omitempty"`
}

// GovernorHealth summarises request pacing.
type GovernorHealth struct {
	IntervalMS   int64 `json:"interval_ms"`
	Acquisitions int   `json:"acquisitions"`
	TotalWaitMS  int64 `json:"total_wait_ms"`
}

// HealthReport contains the full pipeline health report.
type HealthReport struct {
	SystemStatus  SystemStatus    `json:"system_status"`
	Provider      ProviderHealth  `json:"provider"`
	Governor      *GovernorHealth `json:"governor,omitempty"`
	Storage       ComponentHealth `json:"storage"`
	FailedWindows int             `json:"failed_windows"`
}
