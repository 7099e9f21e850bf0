// Package callguard wraps arbitrary remote operations with automatic failure
// containment: circuit breaking, retry with exponential backoff, idempotent
// write deduplication, per-attempt timeouts, and per-call correlation ids.
// It makes unreliable remote calls behave predictably under partial failure
// without each call site reimplementing retry logic.
//
// The protected operation is opaque: callguard never knows what it does, only
// whether it succeeded, failed, or timed out, plus whatever HTTP-style status
// metadata the failure carries.
//
// Example:
//
//	exec := callguard.New[*http.Response](
//	    callguard.WithMaxAttempts(3),
//	    callguard.WithBackoff(500*time.Millisecond, 30*time.Second),
//	    callguard.WithFailureThreshold(5),
//	)
//
//	resp, err := exec.Execute(ctx, func(ctx context.Context) (*http.Response, error) {
//	    req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
//	    return http.DefaultClient.Do(req)
//	}, callguard.OperationMeta{Name: "pages.get", Target: pageID})
package callguard

import "context"

// Operation is the opaque unit of work protected by an Executor. It produces
// a result or fails; the executor never retains a reference beyond the
// duration of one Execute call. The context carries the attempt deadline and
// the correlation id.
type Operation[T any] func(ctx context.Context) (T, error)

// OperationMeta describes the operation being executed. It drives logging,
// kill-switch decisions, and idempotency fingerprinting; the executor never
// interprets the payload beyond hashing it.
type OperationMeta struct {
	// Name identifies the remote operation, e.g. "pages.update".
	Name string

	// Target identifies the entity the operation acts on.
	Target string

	// Payload is the serialized request body. Used only to derive the
	// idempotency fingerprint for mutating operations.
	Payload []byte

	// Mutating marks write operations. Mutating operations are subject to
	// the writes kill switch and, when a payload is present, to duplicate
	// suppression.
	Mutating bool
}
