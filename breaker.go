package callguard

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	// StateClosed means the circuit is closed and requests flow normally.
	StateClosed CircuitBreakerState = iota

	// StateHalfOpen means the circuit is testing if the service has recovered.
	StateHalfOpen

	// StateOpen means the circuit is open and requests are rejected immediately.
	StateOpen
)

// String returns the string representation of the circuit breaker state.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerStatus is a read-only snapshot of the breaker for health reporting.
type BreakerStatus struct {
	// State is the current circuit state.
	State CircuitBreakerState

	// FailureCount is the current consecutive-failure streak.
	FailureCount uint32

	// LastFailureTime is when the most recent counted failure occurred.
	// Zero if no failure has been counted since creation or reset.
	LastFailureTime time.Time

	// NextRetryTime is when an open circuit will admit its next probe.
	// Zero unless the circuit is open.
	NextRetryTime time.Time
}

// BreakerErrorClassifier decides which errors count toward tripping the
// circuit. The default counts every error; rate limits or timeouts can be
// excluded by supplying a custom implementation.
type BreakerErrorClassifier interface {
	// CountsAsFailure returns true if the error should be counted as a
	// breaker-level failure.
	CountsAsFailure(err error) bool
}

// circuitBreaker gates calls through a three-state breaker: Closed until the
// consecutive-failure threshold trips it Open, Open until the reset timeout
// admits a half-open trial, and HalfOpen back to Closed after enough
// consecutive successes or back to Open on the first trial failure.
//
// The state machine itself is gobreaker; this wrapper pins its settings to
// the contract above and tracks the timestamps gobreaker does not expose
// (next retry time, last counted failure). It operates at a coarser
// granularity than the retry loop: one whole call - however many attempts it
// made internally - is one breaker sample.
type circuitBreaker[T any] struct {
	config       *BreakerConfig
	logger       *slog.Logger
	onTransition func(from, to CircuitBreakerState)
	now          func() time.Time

	// mu guards the fields below. Never call into the engine while holding
	// it: the engine calls back into this wrapper (OnStateChange,
	// IsSuccessful) under its own lock.
	mu              sync.Mutex
	engine          *gobreaker.CircuitBreaker[T]
	failureStreak   uint32
	nextRetryTime   time.Time
	lastFailureTime time.Time
}

func newCircuitBreaker[T any](config *BreakerConfig, logger *slog.Logger, onTransition func(from, to CircuitBreakerState)) *circuitBreaker[T] {
	b := &circuitBreaker[T]{
		config:       config,
		logger:       logger,
		onTransition: onTransition,
		now:          time.Now,
	}
	b.engine = b.newEngine()
	return b
}

// newEngine builds a fresh gobreaker instance from the config. Interval is
// pinned to 0 so closed-state counts never decay on a timer; a success
// already clears the consecutive-failure streak, which is the failure-count
// semantics this breaker tracks.
func (b *circuitBreaker[T]) newEngine() *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        b.config.Name,
		MaxRequests: b.config.SuccessThreshold,
		Interval:    0,
		Timeout:     b.config.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.mu.Lock()
			if to == gobreaker.StateOpen {
				b.nextRetryTime = b.now().Add(b.config.ResetTimeout)
			} else {
				b.nextRetryTime = time.Time{}
			}
			b.mu.Unlock()

			b.logger.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())

			if b.onTransition != nil {
				b.onTransition(convertGobreakerState(from), convertGobreakerState(to))
			}
			if b.config.OnStateChange != nil {
				b.config.OnStateChange(name, convertGobreakerState(from), convertGobreakerState(to))
			}
		},
		// The engine resets its counts on every state transition, so the
		// consecutive-failure streak reported by Status is tracked here.
		IsSuccessful: func(err error) bool {
			if err == nil || (b.config.ErrorClassifier != nil && !b.config.ErrorClassifier.CountsAsFailure(err)) {
				b.mu.Lock()
				b.failureStreak = 0
				b.mu.Unlock()
				return true
			}
			b.mu.Lock()
			b.failureStreak++
			b.lastFailureTime = b.now()
			b.mu.Unlock()
			return false
		},
	})
}

// current returns the live engine. Reset swaps engines, so callers must not
// cache the result across calls.
func (b *circuitBreaker[T]) current() *gobreaker.CircuitBreaker[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.engine
}

// Execute routes fn through the breaker. Rejections from an open circuit (or
// from half-open probe admission) surface as KindCircuitOpen carrying the
// time remaining until the next probe; the wrapped fn is not invoked.
func (b *circuitBreaker[T]) Execute(fn func() (T, error)) (T, error) {
	var zero T

	resp, err := b.current().Execute(fn)
	if err != nil && (errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)) {
		b.mu.Lock()
		next := b.nextRetryTime
		b.mu.Unlock()

		cerr := newClassified(KindCircuitOpen, "circuit breaker is open, request rejected", err)
		if wait := next.Sub(b.now()); wait > 0 {
			cerr.RetryAfter = wait
		}
		b.logger.Warn("circuit breaker rejected request",
			"name", b.config.Name,
			"retry_after", cerr.RetryAfter)
		return zero, cerr
	}
	return resp, err
}

// Status returns a read-only snapshot for health reporting. Reading the
// state may lazily flip an expired open circuit to half-open, exactly as a
// call arriving at the same moment would.
func (b *circuitBreaker[T]) Status() BreakerStatus {
	state := convertGobreakerState(b.current().State())

	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStatus{
		State:           state,
		FailureCount:    b.failureStreak,
		LastFailureTime: b.lastFailureTime,
		NextRetryTime:   b.nextRetryTime,
	}
}

// Reset forces the breaker back to Closed with all counters zeroed, for
// operator-triggered recovery. gobreaker has no in-place reset, so a fresh
// engine replaces the tripped one.
func (b *circuitBreaker[T]) Reset() {
	engine := b.newEngine()

	b.mu.Lock()
	b.engine = engine
	b.failureStreak = 0
	b.nextRetryTime = time.Time{}
	b.lastFailureTime = time.Time{}
	b.mu.Unlock()

	b.logger.Info("circuit breaker reset", "name", b.config.Name)
}

// convertGobreakerState converts gobreaker.State to our CircuitBreakerState.
func convertGobreakerState(state gobreaker.State) CircuitBreakerState {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
