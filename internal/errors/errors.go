package errors

import (
	"errors"
	"fmt"
	"time"
)

// ServiceError is the structured error type for storefind.
// It carries a stable code and a user-presentable message; internal
// identifiers never appear in Message.
type ServiceError struct {
	// Code is the unique error code (e.g., "ERR_405_THROTTLED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Upstream, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// RetryAfter carries the suggested wait for throttled requests.
	// Zero when not applicable.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *ServiceError) Is(target error) bool {
	if t, ok := target.(*ServiceError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithRetryAfter attaches a suggested wait time. Returns the error for
// method chaining.
func (e *ServiceError) WithRetryAfter(d time.Duration) *ServiceError {
	e.RetryAfter = d
	return e
}

// New creates a new ServiceError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *ServiceError {
	return &ServiceError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a ServiceError from an existing error.
func Wrap(code string, err error) *ServiceError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidInput creates a validation error.
func InvalidInput(message string) *ServiceError {
	return New(ErrCodeInvalidInput, message, nil)
}

// Throttled creates an admission-denial error with a retry hint.
func Throttled(retryAfter time.Duration) *ServiceError {
	return New(ErrCodeThrottled, "rate limit exceeded, retry later", nil).
		WithRetryAfter(retryAfter)
}

// UpstreamUnavailable creates an upstream-exhaustion error.
func UpstreamUnavailable(cause error) *ServiceError {
	return New(ErrCodeUpstreamUnavailable, "embedding provider unavailable", cause)
}

// StoreUnavailable creates a storage error.
func StoreUnavailable(cause error) *ServiceError {
	return New(ErrCodeStoreUnavailable, "storage backend unavailable", cause)
}

// QueryTimeout creates a deadline-exceeded storage error.
func QueryTimeout(cause error) *ServiceError {
	return New(ErrCodeQueryTimeout, "query exceeded its time budget", cause)
}

// Integrity creates a fatal integrity error (dimension drift, missing
// required vector).
func Integrity(message string, cause error) *ServiceError {
	return New(ErrCodeIntegrity, message, cause)
}

// Cancelled creates a quiet cancellation error. Not counted as an error
// condition for metrics purposes.
func Cancelled() *ServiceError {
	return New(ErrCodeCancelled, "request cancelled by caller", nil)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsCancelled reports whether an error is a caller cancellation.
func IsCancelled(err error) bool {
	return CodeOf(err) == ErrCodeCancelled
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Severity == SeverityFatal
	}
	return false
}

// CodeOf extracts the error code. Returns empty string for plain errors.
func CodeOf(err error) string {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// CategoryOf extracts the category. Returns empty string for plain errors.
func CategoryOf(err error) Category {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}
