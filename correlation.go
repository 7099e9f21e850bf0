package callguard

import (
	"context"

	"github.com/google/uuid"
)

type correlationIDKey struct{}

// NewCorrelationID returns a fresh identifier for one top-level call. Ids are
// never reused across unrelated calls.
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a context carrying the correlation id. The
// executor threads the id through every attempt, log event, and surfaced
// error of the call.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDFromContext returns the correlation id carried by ctx, or ""
// if none is present.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}
