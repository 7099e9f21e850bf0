package callguard

import (
	"context"
	"log/slog"
)

// Executor is the caller-facing entry point. It wraps operations of result
// type T with the full containment chain: kill switches, circuit breaker,
// retry loop, duplicate suppression, and per-attempt timeouts.
//
// The breaker and the idempotency cache are the only state shared between
// concurrent calls; both are safe for concurrent use and no lock is held
// across an operation, a timeout race, or a backoff sleep.
type Executor[T any] struct {
	policy           RetryPolicy
	breaker          *circuitBreaker[T]
	idempotency      *IdempotencyCache
	classifier       ErrorClassifier
	kill             KillSwitch
	logger           *slog.Logger
	telemetry        *telemetry
	newCorrelationID func() string
	stats            *retryStats
}

// New creates an Executor for operations returning T.
//
// Example:
//
//	exec := callguard.New[string](
//	    callguard.WithMaxAttempts(5),
//	    callguard.WithBackoff(time.Second, 30*time.Second),
//	    callguard.WithFailureThreshold(5),
//	    callguard.WithResetTimeout(time.Minute),
//	)
func New[T any](opts ...Option) *Executor[T] {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Classifier == nil {
		config.Classifier = DefaultErrorClassifier()
	}
	if config.KillSwitch == nil {
		config.KillSwitch = StaticKillSwitch{}
	}
	if config.CorrelationIDFn == nil {
		config.CorrelationIDFn = NewCorrelationID
	}

	e := &Executor[T]{
		policy:           config.Policy.normalize(),
		classifier:       config.Classifier,
		kill:             config.KillSwitch,
		logger:           config.Logger,
		telemetry:        newTelemetry(config.TracerProvider, config.MeterProvider),
		newCorrelationID: config.CorrelationIDFn,
		stats:            &retryStats{},
	}

	if !config.IdempotencyDisabled {
		e.idempotency = NewIdempotencyCache(config.IdempotencyTTL)
	}

	if !config.Breaker.Disabled {
		breakerConfig := config.Breaker
		if breakerConfig.Name == "" {
			breakerConfig.Name = "callguard"
		}
		if breakerConfig.FailureThreshold == 0 {
			breakerConfig.FailureThreshold = 5
		}
		if breakerConfig.SuccessThreshold == 0 {
			breakerConfig.SuccessThreshold = 1
		}
		if breakerConfig.ResetTimeout <= 0 {
			breakerConfig.ResetTimeout = DefaultConfig().Breaker.ResetTimeout
		}
		e.breaker = newCircuitBreaker[T](&breakerConfig, config.Logger, e.telemetry.stateChangeHook())
	}

	return e
}

// Execute runs op through the containment chain and returns its result or a
// ClassifiedError. Every surfaced error carries the call's correlation id, a
// kind, and a retryable flag.
//
// A mutating operation whose fingerprint was already recorded within the
// idempotency TTL is suppressed: Execute returns the zero value and a nil
// error without invoking op (the cache records outcome markers, not result
// payloads).
func (e *Executor[T]) Execute(ctx context.Context, op Operation[T], meta OperationMeta) (T, error) {
	corrID := CorrelationIDFromContext(ctx)
	if corrID == "" {
		corrID = e.newCorrelationID()
		ctx = WithCorrelationID(ctx, corrID)
	}
	log := e.logger.With("correlation_id", corrID, "operation", meta.Name)

	ctx, span := e.telemetry.startCall(ctx, meta, corrID)
	result, err := e.execute(ctx, op, meta, log)
	e.telemetry.endCall(span, err)
	return result, err
}

func (e *Executor[T]) execute(ctx context.Context, op Operation[T], meta OperationMeta, log *slog.Logger) (T, error) {
	var zero T

	// Kill switches short-circuit before any attempt is made or any breaker
	// state moves.
	if e.kill.NetworkDisabled() {
		log.Warn("network kill switch engaged, rejecting operation")
		return zero, e.stamp(ctx, newClassified(KindValidation, "network access is disabled", nil))
	}
	if meta.Mutating && e.kill.WritesDisabled() {
		log.Warn("writes kill switch engaged, rejecting operation")
		return zero, e.stamp(ctx, newClassified(KindValidation, "write operations are disabled", nil))
	}

	var fp string
	if meta.Mutating && e.idempotency != nil {
		fp = Fingerprint(meta.Target, meta.Name, meta.Payload)
	}

	if e.breaker == nil {
		result, deduped, err := e.runRetry(ctx, op, fp, log)
		if err != nil {
			return zero, err
		}
		if fp != "" && !deduped {
			e.idempotency.Record(fp)
		}
		return result, nil
	}

	var deduped bool
	result, err := e.breaker.Execute(func() (T, error) {
		var innerErr error
		var res T
		res, deduped, innerErr = e.runRetry(ctx, op, fp, log)
		return res, innerErr
	})
	if err != nil {
		if cerr, ok := AsClassified(err); ok && cerr.Kind == KindCircuitOpen {
			e.telemetry.addRejection(ctx)
			return zero, e.stamp(ctx, cerr)
		}
		return zero, err
	}

	if fp != "" && !deduped {
		e.idempotency.Record(fp)
	}
	return result, nil
}

// classifyCtx normalizes err and stamps it with the call's correlation id.
func (e *Executor[T]) classifyCtx(ctx context.Context, err error) *ClassifiedError {
	cerr := e.classifier.Classify(err)
	if cerr == nil {
		cerr = newClassified(KindUnknown, err.Error(), err)
	}
	if id := CorrelationIDFromContext(ctx); id != "" && cerr.CorrelationID == "" {
		cerr = cerr.withCorrelation(id)
	}
	return cerr
}

// stamp attaches the call's correlation id to an internally produced error.
func (e *Executor[T]) stamp(ctx context.Context, cerr *ClassifiedError) *ClassifiedError {
	if id := CorrelationIDFromContext(ctx); id != "" {
		return cerr.withCorrelation(id)
	}
	return cerr
}

// Status returns a read-only snapshot of the breaker for health reporting.
// With the breaker disabled the snapshot always reports a closed circuit.
func (e *Executor[T]) Status() BreakerStatus {
	if e.breaker == nil {
		return BreakerStatus{State: StateClosed}
	}
	return e.breaker.Status()
}

// Reset forces the breaker back to closed with all counters zeroed, for
// operator-triggered recovery. No-op when the breaker is disabled.
func (e *Executor[T]) Reset() {
	if e.breaker != nil {
		e.breaker.Reset()
	}
}
