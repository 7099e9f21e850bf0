package callguard

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// runGuarded executes a single attempt and stops waiting for it after
// timeout, surfacing a KindTimeout failure if the deadline wins the race.
// A non-positive timeout disables the guard and the attempt runs under the
// caller's context alone.
//
// The operation is not forcibly stopped. It receives a context with the
// deadline applied, but an operation that ignores cancellation keeps running
// in the background after the guard returns; the buffered channel lets that
// late goroutine finish without leaking. A timeout therefore means "we
// stopped waiting", never "the remote side effect was undone".
func runGuarded[T any](ctx context.Context, op Operation[T], timeout time.Duration) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}

	var zero T

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}

	done := make(chan outcome, 1)
	go func() {
		value, err := op(ctx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, newClassified(KindTimeout,
				fmt.Sprintf("attempt did not settle within %s", timeout), ctx.Err())
		}
		return zero, ctx.Err()
	}
}
