package callguard

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	// Name labels the breaker in logs and state-change callbacks.
	// Default: "callguard"
	Name string

	// FailureThreshold is the consecutive-failure count that trips the
	// circuit from closed to open.
	// Default: 5
	FailureThreshold uint32

	// SuccessThreshold is the number of consecutive successful trial calls
	// in half-open state required to close the circuit again. It also bounds
	// how many trial calls may be in flight at once.
	// Default: 1 (strict single probe)
	SuccessThreshold uint32

	// ResetTimeout is how long an open circuit rejects calls before
	// admitting a half-open trial.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// Disabled bypasses the breaker entirely: calls run with no state
	// tracking.
	Disabled bool

	// OnStateChange is called whenever the breaker changes state.
	OnStateChange func(name string, from, to CircuitBreakerState)

	// ErrorClassifier decides which call failures count toward tripping the
	// circuit. Default: every error counts.
	ErrorClassifier BreakerErrorClassifier
}

// Config holds the full configuration of an Executor. Prefer the functional
// options; the struct is exported for callers that build configuration
// programmatically.
type Config struct {
	// Policy controls the retry loop.
	Policy RetryPolicy

	// Breaker controls the circuit breaker.
	Breaker BreakerConfig

	// IdempotencyTTL bounds how long a recorded write fingerprint
	// suppresses duplicates.
	// Default: DefaultIdempotencyTTL
	IdempotencyTTL time.Duration

	// IdempotencyDisabled turns off duplicate suppression for mutating
	// operations.
	IdempotencyDisabled bool

	// Classifier normalizes raw failures.
	// Default: DefaultErrorClassifier()
	Classifier ErrorClassifier

	// KillSwitch is consulted before every call.
	// Default: StaticKillSwitch{} (nothing disabled)
	KillSwitch KillSwitch

	// Logger for executor operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// CorrelationIDFn mints the per-call identifier.
	// Default: NewCorrelationID
	CorrelationIDFn func() string

	// TracerProvider enables span emission when set.
	TracerProvider trace.TracerProvider

	// MeterProvider enables counter emission when set.
	MeterProvider metric.MeterProvider
}

// Option is a functional option for configuring an Executor.
type Option func(*Config)

// DefaultConfig returns the configuration applied before options.
func DefaultConfig() *Config {
	return &Config{
		Policy: DefaultRetryPolicy(),
		Breaker: BreakerConfig{
			Name:             "callguard",
			FailureThreshold: 5,
			SuccessThreshold: 1,
			ResetTimeout:     30 * time.Second,
		},
		IdempotencyTTL:  DefaultIdempotencyTTL,
		Classifier:      DefaultErrorClassifier(),
		KillSwitch:      StaticKillSwitch{},
		Logger:          slog.Default(),
		CorrelationIDFn: NewCorrelationID,
	}
}

// WithMaxAttempts sets the maximum number of attempts per call, including
// the initial one. A value of 1 disables retries.
//
// Example:
//
//	callguard.WithMaxAttempts(5) // Try up to 5 times total
func WithMaxAttempts(attempts int) Option {
	return func(c *Config) {
		c.Policy.MaxAttempts = attempts
	}
}

// WithBackoff sets the exponential backoff window: the delay after the first
// failure and the cap on computed delays.
//
// Example:
//
//	callguard.WithBackoff(time.Second, 30*time.Second)
//	// ~1s, ~2s, ~4s, ~8s, ~16s, 30s (capped)
func WithBackoff(minDelay, maxDelay time.Duration) Option {
	return func(c *Config) {
		c.Policy.MinDelay = minDelay
		c.Policy.MaxDelay = maxDelay
	}
}

// WithoutJitter disables the randomized addition to backoff delays. Mostly
// useful in tests that assert exact delay schedules.
func WithoutJitter() Option {
	return func(c *Config) {
		c.Policy.Jitter = false
	}
}

// WithIgnoreRetryAfter makes the executor use its computed backoff even when
// a failure carries a retry-after hint.
func WithIgnoreRetryAfter() Option {
	return func(c *Config) {
		c.Policy.RespectRetryAfter = false
	}
}

// WithAttemptTimeout bounds how long a single attempt is waited for. The
// operation is not forcibly cancelled when the guard gives up; see the
// package documentation. Zero disables the guard.
//
// Example:
//
//	callguard.WithAttemptTimeout(10 * time.Second)
func WithAttemptTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Policy.AttemptTimeout = timeout
	}
}

// WithRetryPolicy replaces the whole retry policy at once.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Config) {
		c.Policy = policy
	}
}

// WithBreakerName labels the breaker in logs and callbacks.
func WithBreakerName(name string) Option {
	return func(c *Config) {
		c.Breaker.Name = name
	}
}

// WithFailureThreshold sets the consecutive-failure count that trips the
// circuit.
//
// Example:
//
//	callguard.WithFailureThreshold(5)
func WithFailureThreshold(threshold uint32) Option {
	return func(c *Config) {
		c.Breaker.FailureThreshold = threshold
	}
}

// WithSuccessThreshold sets how many consecutive half-open successes close
// the circuit again.
func WithSuccessThreshold(threshold uint32) Option {
	return func(c *Config) {
		c.Breaker.SuccessThreshold = threshold
	}
}

// WithResetTimeout sets how long an open circuit rejects calls before
// admitting a half-open trial.
//
// Example:
//
//	callguard.WithResetTimeout(60 * time.Second)
func WithResetTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Breaker.ResetTimeout = timeout
	}
}

// WithoutCircuitBreaker disables the breaker: calls run with no failure
// tracking or fail-fast behavior.
func WithoutCircuitBreaker() Option {
	return func(c *Config) {
		c.Breaker.Disabled = true
	}
}

// WithStateChangeHandler sets a callback for breaker state changes.
//
// Example:
//
//	callguard.WithStateChangeHandler(func(name string, from, to callguard.CircuitBreakerState) {
//	    log.Printf("breaker %s: %s -> %s", name, from, to)
//	})
func WithStateChangeHandler(fn func(name string, from, to CircuitBreakerState)) Option {
	return func(c *Config) {
		c.Breaker.OnStateChange = fn
	}
}

// WithBreakerErrorClassifier sets a custom classifier for which failures
// count toward tripping the circuit.
func WithBreakerErrorClassifier(classifier BreakerErrorClassifier) Option {
	return func(c *Config) {
		c.Breaker.ErrorClassifier = classifier
	}
}

// WithIdempotencyTTL sets how long a recorded write fingerprint suppresses
// duplicates.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.IdempotencyTTL = ttl
	}
}

// WithoutIdempotency disables duplicate suppression for mutating operations.
func WithoutIdempotency() Option {
	return func(c *Config) {
		c.IdempotencyDisabled = true
	}
}

// WithClassifier sets a custom error classifier.
//
// Example:
//
//	callguard.WithClassifier(&MyClassifier{})
func WithClassifier(classifier ErrorClassifier) Option {
	return func(c *Config) {
		c.Classifier = classifier
	}
}

// WithKillSwitch sets the kill-switch source consulted before every call.
//
// Example:
//
//	callguard.WithKillSwitch(callguard.NewEnvKillSwitch())
func WithKillSwitch(ks KillSwitch) Option {
	return func(c *Config) {
		c.KillSwitch = ks
	}
}

// WithLogger sets a custom logger.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	callguard.WithLogger(logger)
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithCorrelationIDGenerator replaces the uuid-based correlation id source.
func WithCorrelationIDGenerator(fn func() string) Option {
	return func(c *Config) {
		c.CorrelationIDFn = fn
	}
}

// WithTracerProvider enables span emission: one span per Execute carrying
// the operation name and correlation id.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) {
		c.TracerProvider = tp
	}
}

// WithMeterProvider enables counter emission for attempts, retries,
// duplicate suppressions, breaker rejections, and state transitions.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Config) {
		c.MeterProvider = mp
	}
}
