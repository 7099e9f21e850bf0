package callguard

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/callguard/go-callguard"

// telemetry emits one span per Execute plus counters for attempts, retries,
// duplicate suppressions, breaker rejections, and breaker state transitions.
// A nil *telemetry (no providers configured) makes every method a no-op.
type telemetry struct {
	tracer trace.Tracer

	attempts     metric.Int64Counter
	retries      metric.Int64Counter
	dedupHits    metric.Int64Counter
	rejections   metric.Int64Counter
	stateChanges metric.Int64Counter
}

// newTelemetry builds the instrumentation from whichever providers are set.
// Returns nil when neither is, so the hot path pays only a nil check.
func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) *telemetry {
	if tp == nil && mp == nil {
		return nil
	}
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}

	t := &telemetry{
		tracer: tp.Tracer(instrumentationName),
	}

	meter := mp.Meter(instrumentationName)

	// Instrument creation only fails on malformed names; a nil counter is
	// simply skipped at record time.
	t.attempts, _ = meter.Int64Counter(
		"callguard.attempts",
		metric.WithDescription("Operation attempts, including retries"),
		metric.WithUnit("{attempt}"),
	)
	t.retries, _ = meter.Int64Counter(
		"callguard.retries",
		metric.WithDescription("Retry attempts (attempts after the first)"),
		metric.WithUnit("{attempt}"),
	)
	t.dedupHits, _ = meter.Int64Counter(
		"callguard.dedup_hits",
		metric.WithDescription("Mutating operations suppressed as duplicates"),
		metric.WithUnit("{call}"),
	)
	t.rejections, _ = meter.Int64Counter(
		"callguard.breaker_rejections",
		metric.WithDescription("Calls rejected by an open circuit"),
		metric.WithUnit("{call}"),
	)
	t.stateChanges, _ = meter.Int64Counter(
		"callguard.breaker_transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)

	return t
}

// startCall opens the per-call span. Returns a nil span when telemetry is
// disabled.
func (t *telemetry) startCall(ctx context.Context, meta OperationMeta, corrID string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, nil
	}
	return t.tracer.Start(ctx, "callguard.execute",
		trace.WithAttributes(
			attribute.String("callguard.operation", meta.Name),
			attribute.String("callguard.target", meta.Target),
			attribute.Bool("callguard.mutating", meta.Mutating),
			attribute.String("callguard.correlation_id", corrID),
		),
	)
}

// endCall records the outcome and closes the span.
func (t *telemetry) endCall(span trace.Span, err error) {
	if t == nil || span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ce, ok := AsClassified(err); ok {
			span.SetAttributes(
				attribute.String("callguard.kind", ce.Kind.String()),
				attribute.Bool("callguard.retryable", ce.Retryable),
				attribute.Int("callguard.attempts", ce.Attempts),
			)
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (t *telemetry) addAttempt(ctx context.Context) {
	if t == nil || t.attempts == nil {
		return
	}
	t.attempts.Add(ctx, 1)
}

func (t *telemetry) addRetry(ctx context.Context) {
	if t == nil || t.retries == nil {
		return
	}
	t.retries.Add(ctx, 1)
}

func (t *telemetry) addDedupHit(ctx context.Context) {
	if t == nil || t.dedupHits == nil {
		return
	}
	t.dedupHits.Add(ctx, 1)
}

func (t *telemetry) addRejection(ctx context.Context) {
	if t == nil || t.rejections == nil {
		return
	}
	t.rejections.Add(ctx, 1)
}

// stateChangeHook returns a breaker callback that counts transitions, or nil
// when telemetry is disabled.
func (t *telemetry) stateChangeHook() func(from, to CircuitBreakerState) {
	if t == nil || t.stateChanges == nil {
		return nil
	}
	return func(from, to CircuitBreakerState) {
		t.stateChanges.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("from", from.String()),
				attribute.String("to", to.String()),
			),
		)
	}
}
