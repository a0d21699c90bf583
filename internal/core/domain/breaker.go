package domain

import "time"

// CircuitState is the admission state of a provider circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// BreakerState is the persisted per-provider failure accounting. It is
// read and written only under the store lock for its provider key.
type BreakerState struct {
	ProviderID    string       `json:"provider_id"`
	CircuitState  CircuitState `json:"circuit_state"`
	FailureCount  int          `json:"failure_count"`
	SuccessCount  int          `json:"success_count"`
	TotalRequests int          `json:"total_requests"`
	HalfOpenCalls int          `json:"half_open_calls"`
	OpenedAt      *time.Time   `json:"opened_at,omitempty"`
	LastFailureAt *time.Time   `json:"last_failure_at,omitempty"`
	LastSuccessAt *time.Time   `json:"last_success_at,omitempty"`
}
