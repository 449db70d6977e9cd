package domain

import "time"

// FailedWindow is an asset window whose extraction failed with a
// retryable error and is queued for a later attempt.
type FailedWindow struct {
	ID          string           `json:"id"`
	Asset       Asset            `json:"asset"`
	Window      ExtractionWindow `json:"window"`
	Error       string           `json:"error_msg"`
	ErrorKind   string           `json:"error_kind"`
	RetryCount  int              `json:"retry_count"`
	FailedAt    time.Time        `json:"failed_at"`
	LastAttempt time.Time        `json:"last_attempt"`
}
