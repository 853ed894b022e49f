// Package errors defines the error taxonomy shared across the registry.
// Structural failures (invalid input, lifecycle violations, dependency
// cycles) are reported as wrapped sentinel errors; the admin API layers an
// HTTP-aware ServiceError on top. Resolution misses are not errors at all
// and are reported as (value, ok) pairs by the owning packages.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the registry core. Callers match them with errors.Is.
var (
	// ErrInvalidArgument indicates null, empty, or self-referential input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotInitialized indicates an operation outside the Initialized state.
	ErrNotInitialized = errors.New("not initialized")

	// ErrShutdown indicates an operation after terminal shutdown.
	ErrShutdown = errors.New("already shut down")

	// ErrNotFound indicates a lookup miss where a result was required.
	ErrNotFound = errors.New("not found")

	// ErrCycleDetected indicates an edge registration that would make the
	// dependency graph cyclic. The registration is fully rolled back.
	ErrCycleDetected = errors.New("dependency cycle detected")

	// ErrRecoveryExhausted indicates a service whose automatic recovery
	// attempts have been used up. It is surfaced via status queries only.
	ErrRecoveryExhausted = errors.New("recovery attempts exhausted")
)

// InvalidArgumentf wraps ErrInvalidArgument with a formatted reason.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidArgument)...)
}

// IsInvalidArgument reports whether err wraps ErrInvalidArgument.
func IsInvalidArgument(err error) bool { return errors.Is(err, ErrInvalidArgument) }

// IsNotInitialized reports whether err wraps ErrNotInitialized or ErrShutdown.
func IsNotInitialized(err error) bool {
	return errors.Is(err, ErrNotInitialized) || errors.Is(err, ErrShutdown)
}

// IsCycle reports whether err wraps ErrCycleDetected.
func IsCycle(err error) bool { return errors.Is(err, ErrCycleDetected) }

// ServiceError is an HTTP-mappable error used by the admin API and its
// middleware. It carries a machine-readable code and optional details.
type ServiceError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

// Error implements error.
func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ServiceError) Unwrap() error { return e.cause }

// WithDetails attaches a detail key/value pair and returns the error.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Unauthorized builds a 401 ServiceError.
func Unauthorized(message string) *ServiceError {
	return &ServiceError{Code: "unauthorized", Message: message, Status: http.StatusUnauthorized}
}

// InvalidToken builds a 401 ServiceError wrapping a token parse failure.
func InvalidToken(cause error) *ServiceError {
	return &ServiceError{Code: "invalid_token", Message: "invalid or expired token", Status: http.StatusUnauthorized, cause: cause}
}

// Forbidden builds a 403 ServiceError.
func Forbidden(message string) *ServiceError {
	return &ServiceError{Code: "forbidden", Message: message, Status: http.StatusForbidden}
}

// NotFound builds a 404 ServiceError.
func NotFound(message string) *ServiceError {
	return &ServiceError{Code: "not_found", Message: message, Status: http.StatusNotFound}
}

// RateLimitExceeded builds a 429 ServiceError.
func RateLimitExceeded() *ServiceError {
	return &ServiceError{Code: "rate_limit_exceeded", Message: "too many requests", Status: http.StatusTooManyRequests}
}

// Internal builds a 500 ServiceError wrapping an unexpected failure.
func Internal(cause error) *ServiceError {
	return &ServiceError{Code: "internal", Message: "internal error", Status: http.StatusInternalServerError, cause: cause}
}

// GetServiceError extracts a ServiceError from err, or wraps err as an
// internal error when it is not one.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return Internal(err)
}
