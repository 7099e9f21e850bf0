package callguard

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the failure category assigned during classification. Every error
// surfaced by an Executor carries exactly one Kind.
type Kind int

const (
	// KindUnknown covers failures that match no other category. Not retried.
	KindUnknown Kind = iota

	// KindAuth covers authentication and authorization failures (401, 403).
	KindAuth

	// KindRateLimit covers rate-limit rejections (429), optionally with a
	// retry-after hint from the remote side.
	KindRateLimit

	// KindNotFound covers missing-entity failures (404).
	KindNotFound

	// KindTimeout covers attempts that did not settle within their deadline.
	KindTimeout

	// KindNetwork covers transport-level failures and 5xx responses.
	KindNetwork

	// KindCircuitOpen covers requests rejected by an open circuit breaker
	// before the operation was invoked.
	KindCircuitOpen

	// KindValidation covers requests rejected before any attempt, such as
	// operations blocked by a kill switch.
	KindValidation
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindCircuitOpen:
		return "circuit_open"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// DefaultRetryable reports whether failures of this kind are retried by
// default: rate limits, timeouts, network failures, and open-circuit
// rejections are presumed transient; everything else will not self-resolve
// by trying again.
func (k Kind) DefaultRetryable() bool {
	switch k {
	case KindRateLimit, KindTimeout, KindNetwork, KindCircuitOpen:
		return true
	default:
		return false
	}
}

// ClassifiedError is the normalized failure type surfaced by an Executor.
// It is constructed once by an ErrorClassifier (or internally, for timeouts
// and circuit rejections) and treated as immutable afterwards; the executor
// stamps correlation and attempt metadata by copying.
type ClassifiedError struct {
	// Kind is the failure category.
	Kind Kind

	// Message is a human-readable description of the failure.
	Message string

	// Retryable reports whether the retry loop may attempt the operation again.
	Retryable bool

	// StatusHint is the HTTP-style status carried by the raw failure, 0 if none.
	StatusHint int

	// RetryAfter is the remote side's instruction on when to try again
	// (converted from seconds on the wire), or the time remaining until an
	// open circuit admits its next probe. Zero when absent.
	RetryAfter time.Duration

	// CorrelationID identifies the top-level call this failure belongs to.
	CorrelationID string

	// Attempts is the number of attempts made before the error surfaced.
	// Zero when the operation was never invoked.
	Attempts int

	cause error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("%s: %s (correlation_id=%s)", e.Kind, e.Message, e.CorrelationID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *ClassifiedError) Unwrap() error {
	return e.cause
}

// StatusCode returns the HTTP-style status hint, 0 if none was carried.
// This implements the HTTPError interface so classified errors survive
// re-classification unchanged.
func (e *ClassifiedError) StatusCode() int {
	return e.StatusHint
}

// newClassified builds a ClassifiedError with the kind's default retry
// eligibility.
func newClassified(kind Kind, message string, cause error) *ClassifiedError {
	return &ClassifiedError{
		Kind:      kind,
		Message:   message,
		Retryable: kind.DefaultRetryable(),
		cause:     cause,
	}
}

// withCorrelation returns a copy carrying the correlation id.
func (e *ClassifiedError) withCorrelation(id string) *ClassifiedError {
	if e.CorrelationID == id {
		return e
	}
	clone := *e
	clone.CorrelationID = id
	return &clone
}

// withAttempts returns a copy carrying the attempt count.
func (e *ClassifiedError) withAttempts(n int) *ClassifiedError {
	if e.Attempts == n {
		return e
	}
	clone := *e
	clone.Attempts = n
	return &clone
}

// AsClassified extracts the ClassifiedError from err's chain, if any.
func AsClassified(err error) (*ClassifiedError, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsRetryable reports whether err carries a retryable classification.
// Unclassified errors report false.
func IsRetryable(err error) bool {
	if ce, ok := AsClassified(err); ok {
		return ce.Retryable
	}
	return false
}

// KindOf returns the classified kind of err, KindUnknown for unclassified
// errors.
func KindOf(err error) Kind {
	if ce, ok := AsClassified(err); ok {
		return ce.Kind
	}
	return KindUnknown
}

// HTTPError represents an error with an associated HTTP status code.
// Many HTTP client libraries provide errors that implement this interface.
type HTTPError interface {
	error
	StatusCode() int
}

// RetryAfterProvider is implemented by failures that carry the remote side's
// retry-after instruction, in whole seconds as it appears on the wire.
type RetryAfterProvider interface {
	RetryAfterSeconds() int
}

// StatusCodeError wraps an error with an HTTP status code.
// Use this when you need to add status code information to an existing error.
type StatusCodeError struct {
	Err  error
	Code int
}

// Error implements the error interface.
func (e *StatusCodeError) Error() string {
	return e.Err.Error()
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *StatusCodeError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status code.
// This implements the HTTPError interface.
func (e *StatusCodeError) StatusCode() int {
	return e.Code
}

// NewStatusCodeError creates a new StatusCodeError.
// This is useful when wrapping errors from systems that don't provide status codes.
//
// Example:
//
//	err := doRequest()
//	if err != nil {
//	    return callguard.NewStatusCodeError(http.StatusServiceUnavailable, err)
//	}
func NewStatusCodeError(statusCode int, err error) error {
	return &StatusCodeError{
		Code: statusCode,
		Err:  err,
	}
}

// RateLimitError wraps an error with a 429 status and the retry-after value
// reported by the remote side, in seconds.
type RateLimitError struct {
	Err     error
	Seconds int
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return e.Err.Error()
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// StatusCode implements the HTTPError interface.
func (e *RateLimitError) StatusCode() int {
	return 429
}

// RetryAfterSeconds implements the RetryAfterProvider interface.
func (e *RateLimitError) RetryAfterSeconds() int {
	return e.Seconds
}

// NewRateLimitError creates a RateLimitError with the given retry-after
// value in seconds.
func NewRateLimitError(retryAfterSeconds int, err error) error {
	return &RateLimitError{
		Seconds: retryAfterSeconds,
		Err:     err,
	}
}
