// Package health implements per-service health monitoring: rolling
// success/failure counters, a bounded response-time window, periodic
// status reclassification, and throttled automatic recovery.
package health

import (
	"encoding/json"
	"fmt"
)

// Status is the derived health classification of a monitored service.
// It is always a pure function of the record's counters and the
// response-time/CPU downgrade rule; no hidden state is carried across
// recomputations.
type Status int32

const (
	// StatusUnknown indicates no operations have been reported yet.
	StatusUnknown Status = iota

	// StatusHealthy indicates operations are succeeding normally.
	StatusHealthy

	// StatusDegraded indicates an elevated failure rate or slow responses.
	StatusDegraded

	// StatusCritical indicates failures dominate successes.
	StatusCritical

	// StatusFailed indicates only failures have been observed.
	StatusFailed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusCritical:
		return "critical"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseStatus(str)
	return nil
}

// ParseStatus converts a string to Status.
func ParseStatus(s string) Status {
	switch s {
	case "healthy":
		return StatusHealthy
	case "degraded":
		return StatusDegraded
	case "critical":
		return StatusCritical
	case "failed":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// IsHealthy reports whether the status represents normal operation.
func (s Status) IsHealthy() bool {
	return s == StatusHealthy
}

// classify derives a status from raw counters. First match wins.
func classify(successes, failures uint64) Status {
	switch {
	case failures > 0 && successes == 0:
		return StatusFailed
	case float64(failures) > 0.5*float64(successes):
		return StatusCritical
	case float64(failures) > 0.2*float64(successes):
		return StatusDegraded
	case successes > 0:
		return StatusHealthy
	default:
		return StatusUnknown
	}
}
