package callguard_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	callguard "github.com/callguard/go-callguard"
)

var _ = Describe("Executor", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		recorder *opRecorder
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		recorder = &opRecorder{}
		recorder.fn = func(ctx context.Context, call int) (string, error) {
			return "ok", nil
		}
	})

	AfterEach(func() {
		cancel()
	})

	newExecutor := func(opts ...callguard.Option) *callguard.Executor[string] {
		base := []callguard.Option{
			callguard.WithMaxAttempts(1),
			callguard.WithoutCircuitBreaker(),
			callguard.WithLogger(quietLogger()),
		}
		return callguard.New[string](append(base, opts...)...)
	}

	Describe("kill switches", func() {
		It("rejects every operation when the network switch is engaged", func() {
			exec := newExecutor(callguard.WithKillSwitch(callguard.StaticKillSwitch{DisableNetwork: true}))

			_, err := exec.Execute(ctx, recorder.op(), callguard.OperationMeta{Name: "pages.get"})
			Expect(err).To(HaveOccurred())

			ce, ok := callguard.AsClassified(err)
			Expect(ok).To(BeTrue())
			Expect(ce.Kind).To(Equal(callguard.KindValidation))
			Expect(ce.Retryable).To(BeFalse())
			Expect(ce.CorrelationID).NotTo(BeEmpty())
			Expect(recorder.callCount()).To(Equal(0))
		})

		It("rejects only mutating operations when the writes switch is engaged", func() {
			exec := newExecutor(callguard.WithKillSwitch(callguard.StaticKillSwitch{DisableWrites: true}))

			result, err := exec.Execute(ctx, recorder.op(), callguard.OperationMeta{Name: "pages.get"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal("ok"))

			_, err = exec.Execute(ctx, recorder.op(), callguard.OperationMeta{Name: "pages.update", Mutating: true})
			Expect(err).To(HaveOccurred())
			Expect(callguard.KindOf(err)).To(Equal(callguard.KindValidation))
			Expect(recorder.callCount()).To(Equal(1))
		})

		It("reads the environment-backed switch per call", func() {
			exec := newExecutor(callguard.WithKillSwitch(callguard.NewEnvKillSwitch()))

			os.Setenv("CALLGUARD_DISABLE_WRITES", "true")
			DeferCleanup(os.Unsetenv, "CALLGUARD_DISABLE_WRITES")

			_, err := exec.Execute(ctx, recorder.op(), callguard.OperationMeta{Name: "pages.update", Mutating: true})
			Expect(callguard.KindOf(err)).To(Equal(callguard.KindValidation))

			os.Unsetenv("CALLGUARD_DISABLE_WRITES")

			_, err = exec.Execute(ctx, recorder.op(), callguard.OperationMeta{Name: "pages.update", Mutating: true})
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("duplicate suppression", func() {
		meta := callguard.OperationMeta{
			Name:     "pages.update",
			Target:   "page-1",
			Payload:  []byte(`{"title":"hello"}`),
			Mutating: true,
		}

		It("suppresses a repeated mutating call within the TTL", func() {
			exec := newExecutor(callguard.WithIdempotencyTTL(time.Minute))

			result, err := exec.Execute(ctx, recorder.op(), meta)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal("ok"))

			result, err = exec.Execute(ctx, recorder.op(), meta)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(BeEmpty())

			Expect(recorder.callCount()).To(Equal(1))
			Expect(exec.GetRetryStats().DedupHits).To(Equal(int64(1)))
		})

		It("runs again when the payload differs", func() {
			exec := newExecutor(callguard.WithIdempotencyTTL(time.Minute))

			_, err := exec.Execute(ctx, recorder.op(), meta)
			Expect(err).NotTo(HaveOccurred())

			changed := meta
			changed.Payload = []byte(`{"title":"goodbye"}`)
			result, err := exec.Execute(ctx, recorder.op(), changed)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal("ok"))
			Expect(recorder.callCount()).To(Equal(2))
		})

		It("never suppresses non-mutating operations", func() {
			exec := newExecutor(callguard.WithIdempotencyTTL(time.Minute))
			read := callguard.OperationMeta{Name: "pages.get", Target: "page-1"}

			for i := 0; i < 3; i++ {
				result, err := exec.Execute(ctx, recorder.op(), read)
				Expect(err).NotTo(HaveOccurred())
				Expect(result).To(Equal("ok"))
			}
			Expect(recorder.callCount()).To(Equal(3))
		})

		It("does not record a failed call", func() {
			recorder.fn = func(ctx context.Context, call int) (string, error) {
				if call == 1 {
					return "", callguard.NewStatusCodeError(500, errors.New("boom"))
				}
				return "ok", nil
			}
			exec := newExecutor(callguard.WithIdempotencyTTL(time.Minute))

			_, err := exec.Execute(ctx, recorder.op(), meta)
			Expect(err).To(HaveOccurred())

			result, err := exec.Execute(ctx, recorder.op(), meta)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal("ok"))
			Expect(recorder.callCount()).To(Equal(2))
		})

		It("runs every call when suppression is disabled", func() {
			exec := newExecutor(callguard.WithoutIdempotency())

			for i := 0; i < 2; i++ {
				result, err := exec.Execute(ctx, recorder.op(), meta)
				Expect(err).NotTo(HaveOccurred())
				Expect(result).To(Equal("ok"))
			}
			Expect(recorder.callCount()).To(Equal(2))
			Expect(exec.GetRetryStats().DedupHits).To(BeZero())
		})
	})

	Describe("correlation", func() {
		It("stamps each failed call with a distinct correlation id", func() {
			recorder.fn = func(ctx context.Context, call int) (string, error) {
				return "", callguard.NewStatusCodeError(500, errors.New("boom"))
			}
			exec := newExecutor()

			_, err1 := exec.Execute(ctx, recorder.op(), callguard.OperationMeta{Name: "pages.get"})
			_, err2 := exec.Execute(ctx, recorder.op(), callguard.OperationMeta{Name: "pages.get"})

			ce1, _ := callguard.AsClassified(err1)
			ce2, _ := callguard.AsClassified(err2)
			Expect(ce1.CorrelationID).NotTo(BeEmpty())
			Expect(ce2.CorrelationID).NotTo(BeEmpty())
			Expect(ce1.CorrelationID).NotTo(Equal(ce2.CorrelationID))
		})

		It("reuses a correlation id already present on the context", func() {
			recorder.fn = func(ctx context.Context, call int) (string, error) {
				Expect(callguard.CorrelationIDFromContext(ctx)).To(Equal("fixed-id"))
				return "", callguard.NewStatusCodeError(500, errors.New("boom"))
			}
			exec := newExecutor()

			seeded := callguard.WithCorrelationID(ctx, "fixed-id")
			_, err := exec.Execute(seeded, recorder.op(), callguard.OperationMeta{Name: "pages.get"})

			ce, ok := callguard.AsClassified(err)
			Expect(ok).To(BeTrue())
			Expect(ce.CorrelationID).To(Equal("fixed-id"))
		})

		It("uses a custom generator when supplied", func() {
			var n int
			recorder.fn = func(ctx context.Context, call int) (string, error) {
				return "", callguard.NewStatusCodeError(500, errors.New("boom"))
			}
			exec := newExecutor(callguard.WithCorrelationIDGenerator(func() string {
				n++
				return fmt.Sprintf("req-%d", n)
			}))

			_, err := exec.Execute(ctx, recorder.op(), callguard.OperationMeta{Name: "pages.get"})

			ce, _ := callguard.AsClassified(err)
			Expect(ce.CorrelationID).To(Equal("req-1"))
		})
	})

	Describe("custom classifier", func() {
		It("routes every error through the supplied classifier", func() {
			recorder.fn = func(ctx context.Context, call int) (string, error) {
				return "", errors.New("anything")
			}
			exec := newExecutor(callguard.WithClassifier(alwaysAuth{}))

			_, err := exec.Execute(ctx, recorder.op(), callguard.OperationMeta{Name: "pages.get"})
			Expect(callguard.KindOf(err)).To(Equal(callguard.KindAuth))
			Expect(callguard.IsRetryable(err)).To(BeFalse())
		})
	})
})

// alwaysAuth classifies every error as an authentication failure.
type alwaysAuth struct{}

func (alwaysAuth) Classify(err error) *callguard.ClassifiedError {
	if err == nil {
		return nil
	}
	return &callguard.ClassifiedError{Kind: callguard.KindAuth, Message: err.Error()}
}
