package callguard_test

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"

	callguard "github.com/callguard/go-callguard"
)

// opRecorder builds operations that count their invocations.
type opRecorder struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int) (string, error)
}

func (r *opRecorder) op() callguard.Operation[string] {
	return func(ctx context.Context) (string, error) {
		call := int(r.calls.Add(1))
		return r.fn(ctx, call)
	}
}

func (r *opRecorder) callCount() int {
	return int(r.calls.Load())
}

// quietLogger keeps test output readable.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}
