package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderRequestsTotal tracks upstream HTTP attempts by outcome
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptopipe_provider_requests_total",
			Help: "Total number of upstream request attempts",
		},
		[]string{"endpoint", "outcome"},
	)

	// ProviderLatency tracks upstream request latency
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cryptopipe_provider_latency_seconds",
			Help:    "Upstream request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// RetriesTotal tracks retries scheduled after transient failures
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptopipe_retries_total",
			Help: "Total number of retries scheduled",
		},
		[]string{"endpoint"},
	)

	// BackoffSeconds tracks time spent in retry backoff
	BackoffSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cryptopipe_backoff_seconds_total",
			Help: "Total seconds spent waiting between retries",
		},
	)

	// GovernorWaitSeconds tracks time spent waiting for a rate slot
	GovernorWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cryptopipe_governor_wait_seconds",
			Help:    "Time spent waiting for the rate governor",
			Buckets: []float64{0, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// CircuitState reports the breaker state (0 closed, 1 open, 2 half-open)
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cryptopipe_circuit_state",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"target"},
	)

	// CircuitRejectionsTotal tracks calls refused by an open breaker
	CircuitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptopipe_circuit_rejections_total",
			Help: "Total number of calls rejected by the circuit breaker",
		},
		[]string{"target"},
	)

	// RecordsInserted tracks new rows written per asset
	RecordsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptopipe_records_inserted_total",
			Help: "Total number of market data rows inserted",
		},
		[]string{"asset"},
	)

	// RecordsDropped tracks malformed provider entries skipped during parsing
	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptopipe_records_dropped_total",
			Help: "Total number of malformed provider entries dropped",
		},
		[]string{"asset"},
	)

	// ExtractionsTotal tracks per-asset outcomes
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptopipe_extractions_total",
			Help: "Total number of asset extractions by status",
		},
		[]string{"asset", "status", "error_kind"},
	)

	// ExtractionDuration tracks per-asset extraction time
	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cryptopipe_extraction_duration_seconds",
			Help:    "Per-asset extraction duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"asset"},
	)

	// RunDuration tracks whole orchestration runs
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cryptopipe_run_duration_seconds",
			Help:    "Extraction run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// AuditWriteFailures tracks extraction log writes that failed
	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cryptopipe_audit_write_failures_total",
			Help: "Total number of failed extraction log writes",
		},
	)

	// FailedWindowsQueued tracks the current size of the retry queue
	FailedWindowsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cryptopipe_failed_windows_queued",
			Help: "Number of failed windows waiting for retry",
		},
	)

	// DBConnectionPoolUsage tracks the percentage of used database connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cryptopipe_db_connection_pool_usage_percent",
			Help: "Percentage of database connections in use",
		},
	)
)
