package callguard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	pkgerrors "github.com/JohnPlummer/jp-go-errors"
)

// ErrorClassifier normalizes a raw failure from the wrapped operation into a
// ClassifiedError. Implementations must never panic and must return a non-nil
// classification for any non-nil input; this interface is the only boundary
// that inspects untyped failure data.
type ErrorClassifier interface {
	Classify(err error) *ClassifiedError
}

// StatusClassifier classifies failures by HTTP-style status codes and
// well-known transient error shapes. Classification priority:
//
//  1. 401/403 -> KindAuth, not retryable
//  2. 429 (or a rate-limit sentinel) -> KindRateLimit, retryable, with any
//     retry-after hint converted from seconds
//  3. 404 -> KindNotFound, not retryable
//  4. timeout signals -> KindTimeout, retryable
//  5. status >= 500 or transport-level errors -> KindNetwork, retryable
//  6. anything else -> KindUnknown, not retryable
//
// 4xx failures other than 429 describe a caller or configuration problem that
// will not self-resolve by retrying; 5xx and transport failures are presumed
// transient.
type StatusClassifier struct{}

// NewStatusClassifier creates a StatusClassifier.
func NewStatusClassifier() *StatusClassifier {
	return &StatusClassifier{}
}

// DefaultErrorClassifier returns the classifier used when none is configured.
func DefaultErrorClassifier() ErrorClassifier {
	return NewStatusClassifier()
}

// Classify implements ErrorClassifier.
func (c *StatusClassifier) Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	// Already-classified failures pass through untouched so internally
	// produced timeouts and circuit rejections keep their metadata.
	if ce, ok := AsClassified(err); ok {
		return ce
	}

	status := extractStatusCode(err)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		ce := newClassified(KindAuth, err.Error(), err)
		ce.StatusHint = status
		return ce
	case http.StatusTooManyRequests:
		ce := newClassified(KindRateLimit, err.Error(), err)
		ce.StatusHint = status
		ce.RetryAfter = extractRetryAfter(err)
		return ce
	case http.StatusNotFound:
		ce := newClassified(KindNotFound, err.Error(), err)
		ce.StatusHint = status
		return ce
	}

	if errors.Is(err, pkgerrors.ErrRateLimited) {
		ce := newClassified(KindRateLimit, err.Error(), err)
		ce.RetryAfter = extractRetryAfter(err)
		return ce
	}

	if isTimeoutSignal(err) {
		return newClassified(KindTimeout, err.Error(), err)
	}

	// A canceled parent context means the caller gave up; retrying with the
	// same context would fail immediately.
	if errors.Is(err, context.Canceled) {
		return newClassified(KindUnknown, err.Error(), err)
	}

	if status >= http.StatusInternalServerError || isNetworkError(err) {
		ce := newClassified(KindNetwork, err.Error(), err)
		ce.StatusHint = status
		return ce
	}

	ce := newClassified(KindUnknown, err.Error(), err)
	ce.StatusHint = status
	return ce
}

// isTimeoutSignal reports whether err represents an attempt that ran out of
// time. context.DeadlineExceeded is checked before net.Error because the
// latter reports deadline errors as timeouts too.
func isTimeoutSignal(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pkgerrors.IsTimeout(err) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return false
}

// isNetworkError reports whether err is a transport-level failure.
func isNetworkError(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr)
}

// extractStatusCode attempts to extract an HTTP status code from the error
// chain. Returns 0 when no status is carried.
func extractStatusCode(err error) int {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode()
	}
	return 0
}

// extractRetryAfter pulls the remote side's retry-after instruction from the
// error chain, converting the wire value (whole seconds) into a duration.
func extractRetryAfter(err error) time.Duration {
	var p RetryAfterProvider
	if errors.As(err, &p) {
		if secs := p.RetryAfterSeconds(); secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
