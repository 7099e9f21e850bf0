package callguard

import "time"

// HealthStatus represents the health of an executor's circuit breaker.
// It provides a strongly-typed alternative to map[string]interface{} for
// health check endpoints.
type HealthStatus struct {
	// Healthy indicates whether calls are currently being admitted.
	// True for closed and half-open states, false for open.
	Healthy bool `json:"healthy"`

	// Status is a short string description of the state ("closed",
	// "half-open", "open").
	Status string `json:"status"`

	// FailureCount is the current consecutive-failure streak.
	FailureCount uint32 `json:"failure_count"`

	// LastFailureTime is when the most recent counted failure occurred.
	LastFailureTime time.Time `json:"last_failure_time,omitzero"`

	// NextRetryTime is when an open circuit admits its next probe.
	NextRetryTime time.Time `json:"next_retry_time,omitzero"`
}

// GetHealth returns the health status of the executor's circuit breaker.
// With the breaker disabled the executor always reports healthy.
func (e *Executor[T]) GetHealth() HealthStatus {
	status := e.Status()

	var healthy bool
	switch status.State {
	case StateClosed:
		healthy = true
	case StateHalfOpen:
		healthy = true // Degraded but operational
	case StateOpen:
		healthy = false
	}

	return HealthStatus{
		Healthy:         healthy,
		Status:          status.State.String(),
		FailureCount:    status.FailureCount,
		LastFailureTime: status.LastFailureTime,
		NextRetryTime:   status.NextRetryTime,
	}
}
