package callguard

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy controls the attempt loop for one executor. It is read-only
// during execution; concurrent calls share no backoff state.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	// A value of 1 disables retries entirely. Minimum 1.
	// Default: 3
	MaxAttempts int

	// MinDelay is the backoff delay after the first failed attempt.
	// Default: 500ms
	MinDelay time.Duration

	// MaxDelay caps the computed backoff delay before jitter is added.
	// Default: 30 seconds
	MaxDelay time.Duration

	// Jitter adds up to 10% of the computed delay to avoid synchronized
	// retry storms across callers.
	// Default: true
	Jitter bool

	// RespectRetryAfter lets a retry-after hint on a classified failure
	// override the computed backoff entirely; the remote side's instruction
	// is authoritative.
	// Default: true
	RespectRetryAfter bool

	// AttemptTimeout bounds how long a single attempt is waited for.
	// Zero disables the per-attempt guard.
	// Default: 30 seconds
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy returns the retry policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		MinDelay:          500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		Jitter:            true,
		RespectRetryAfter: true,
		AttemptTimeout:    30 * time.Second,
	}
}

// normalize applies defaults for zero values and clamps MaxAttempts to at
// least one attempt.
func (p RetryPolicy) normalize() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.MinDelay <= 0 {
		p.MinDelay = def.MinDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.MinDelay {
		p.MaxDelay = p.MinDelay
	}
	return p
}

// retryStats tracks attempt statistics across an executor's lifetime.
type retryStats struct {
	mu              sync.RWMutex
	totalAttempts   int64
	totalRetries    int64
	totalSuccesses  int64
	totalFailures   int64
	dedupHits       int64
	lastAttemptTime time.Time
	lastError       error
}

// RetryStats is a snapshot of an executor's attempt statistics.
type RetryStats struct {
	// TotalAttempts is the total number of attempts made (including initial and retries).
	TotalAttempts int64

	// TotalRetries is the number of retry attempts (not including initial attempts).
	TotalRetries int64

	// TotalSuccesses is the number of successful operations.
	TotalSuccesses int64

	// TotalFailures is the number of failed operations (after all retries exhausted).
	TotalFailures int64

	// DedupHits is the number of mutating operations skipped because an
	// identical fingerprint was already recorded.
	DedupHits int64

	// LastAttemptTime is the time of the last attempt.
	LastAttemptTime time.Time

	// LastError is the last error encountered (if any).
	LastError error
}

// GetRetryStats returns a snapshot of the executor's attempt statistics.
// Thread-safe.
func (e *Executor[T]) GetRetryStats() RetryStats {
	e.stats.mu.RLock()
	defer e.stats.mu.RUnlock()

	return RetryStats{
		TotalAttempts:   e.stats.totalAttempts,
		TotalRetries:    e.stats.totalRetries,
		TotalSuccesses:  e.stats.totalSuccesses,
		TotalFailures:   e.stats.totalFailures,
		DedupHits:       e.stats.dedupHits,
		LastAttemptTime: e.stats.lastAttemptTime,
		LastError:       e.stats.lastError,
	}
}

// runRetry drives the attempt loop for one call: guard the attempt with the
// per-attempt timeout, classify failures, and back off between retryable
// ones. It returns the result, whether the call was suppressed as a
// duplicate, and the last classified error once attempts exhaust or a
// non-retryable failure occurs.
func (e *Executor[T]) runRetry(ctx context.Context, op Operation[T], fp string, log *slog.Logger) (T, bool, error) {
	var zero T
	var response T
	var attempts int
	var deduped bool

	// Written when a retryable failure carries a retry-after hint and read
	// by the backoff func; attempts within one call are strictly sequential
	// so no locking is needed.
	var pendingRetryAfter time.Duration

	backoff := e.newBackoff(&attempts, &pendingRetryAfter)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++

		e.stats.mu.Lock()
		e.stats.totalAttempts++
		if attempts > 1 {
			e.stats.totalRetries++
		}
		e.stats.lastAttemptTime = time.Now()
		e.stats.mu.Unlock()

		e.telemetry.addAttempt(ctx)
		if attempts > 1 {
			e.telemetry.addRetry(ctx)
		}

		// Check if the caller already gave up before spending an attempt.
		select {
		case <-ctx.Done():
			log.Warn("context done before attempt (expected condition)",
				"attempt", attempts,
				"error", ctx.Err())
			return ctx.Err()
		default:
		}

		// A duplicate recorded by a concurrent call (possibly while this
		// one was backing off) means the write already happened; skip it.
		if fp != "" && e.idempotency.ShouldSkip(fp) {
			deduped = true
			e.stats.mu.Lock()
			e.stats.dedupHits++
			e.stats.mu.Unlock()
			e.telemetry.addDedupHit(ctx)
			log.Info("duplicate operation suppressed",
				"fingerprint", fp,
				"attempt", attempts)
			return nil
		}

		resp, err := runGuarded(ctx, op, e.policy.AttemptTimeout)
		if err == nil {
			if attempts > 1 {
				log.Info("operation recovered after retry",
					"attempts", attempts)
			}
			response = resp
			return nil
		}

		cerr := e.classifyCtx(ctx, err)
		if !cerr.Retryable {
			log.Debug("non-retryable failure, giving up",
				"kind", cerr.Kind.String(),
				"attempt", attempts,
				"error", err)
			return cerr
		}

		pendingRetryAfter = cerr.RetryAfter
		log.Debug("retrying after backoff",
			"kind", cerr.Kind.String(),
			"attempt", attempts,
			"retry_after", cerr.RetryAfter,
			"error", err)
		return retry.RetryableError(cerr)
	})
	if err != nil {
		cerr := e.classifyCtx(ctx, err).withAttempts(attempts)

		e.stats.mu.Lock()
		e.stats.totalFailures++
		e.stats.lastError = cerr
		e.stats.mu.Unlock()

		log.Warn("operation failed",
			"kind", cerr.Kind.String(),
			"attempts", attempts,
			"error", err)
		return zero, false, cerr
	}

	e.stats.mu.Lock()
	e.stats.totalSuccesses++
	e.stats.mu.Unlock()

	if deduped {
		return zero, true, nil
	}
	return response, false, nil
}

// newBackoff builds the delay schedule for one call: exponential doubling
// from MinDelay capped at MaxDelay, up to 10% jitter, overridden entirely by
// a pending retry-after hint when the policy respects it.
func (e *Executor[T]) newBackoff(attempt *int, pendingRetryAfter *time.Duration) retry.Backoff {
	maxRetries := e.policy.MaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}

	return retry.WithMaxRetries(
		uint64(maxRetries), // #nosec G115 - clamped to >= 0 above
		retry.BackoffFunc(func() (time.Duration, bool) {
			if e.policy.RespectRetryAfter && *pendingRetryAfter > 0 {
				delay := *pendingRetryAfter
				*pendingRetryAfter = 0
				return delay, false
			}

			// base = min(MinDelay * 2^(attempt-1), MaxDelay)
			base := e.policy.MinDelay
			for i := 1; i < *attempt && base < e.policy.MaxDelay; i++ {
				base *= 2
			}
			if base > e.policy.MaxDelay {
				base = e.policy.MaxDelay
			}

			if e.policy.Jitter && base > 0 {
				jitterMax := int64(base / 10)
				if jitterMax > 0 {
					jitterBig, err := rand.Int(rand.Reader, big.NewInt(jitterMax))
					if err == nil {
						base += time.Duration(jitterBig.Int64())
					}
					// Fall back to no jitter if crypto/rand fails.
				}
			}

			return base, false
		}),
	)
}
