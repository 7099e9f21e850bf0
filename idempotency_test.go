package callguard_test

import (
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	callguard "github.com/callguard/go-callguard"
)

var _ = Describe("Fingerprint", func() {
	It("is deterministic", func() {
		a := callguard.Fingerprint("page-1", "pages.update", []byte(`{"title":"x"}`))
		b := callguard.Fingerprint("page-1", "pages.update", []byte(`{"title":"x"}`))
		Expect(a).To(Equal(b))
	})

	It("changes when any component changes", func() {
		base := callguard.Fingerprint("page-1", "pages.update", []byte(`{"title":"x"}`))

		Expect(callguard.Fingerprint("page-2", "pages.update", []byte(`{"title":"x"}`))).NotTo(Equal(base))
		Expect(callguard.Fingerprint("page-1", "pages.archive", []byte(`{"title":"x"}`))).NotTo(Equal(base))
		Expect(callguard.Fingerprint("page-1", "pages.update", []byte(`{"title":"y"}`))).NotTo(Equal(base))
	})

	It("hashes the payload as supplied, not semantically", func() {
		// Key order matters: serialization is owned by the caller.
		a := callguard.Fingerprint("page-1", "pages.update", []byte(`{"a":1,"b":2}`))
		b := callguard.Fingerprint("page-1", "pages.update", []byte(`{"b":2,"a":1}`))
		Expect(a).NotTo(Equal(b))
	})
})

var _ = Describe("IdempotencyCache", func() {
	It("skips a fingerprint immediately after recording it", func() {
		cache := callguard.NewIdempotencyCache(time.Minute)

		fp := callguard.Fingerprint("page-1", "pages.update", []byte("payload"))
		Expect(cache.ShouldSkip(fp)).To(BeFalse())

		cache.Record(fp)
		Expect(cache.ShouldSkip(fp)).To(BeTrue())
	})

	It("expires and evicts records after the TTL", func() {
		cache := callguard.NewIdempotencyCache(20 * time.Millisecond)

		cache.Record("fp-1")
		Expect(cache.ShouldSkip("fp-1")).To(BeTrue())

		time.Sleep(35 * time.Millisecond)

		Expect(cache.ShouldSkip("fp-1")).To(BeFalse())
		Expect(cache.Len()).To(Equal(0))
	})

	It("sweeps expired records on Record", func() {
		cache := callguard.NewIdempotencyCache(20 * time.Millisecond)

		cache.Record("fp-old")
		time.Sleep(35 * time.Millisecond)
		cache.Record("fp-new")

		Expect(cache.Len()).To(Equal(1))
		Expect(cache.ShouldSkip("fp-new")).To(BeTrue())
	})

	It("treats a nil cache as disabled", func() {
		var cache *callguard.IdempotencyCache

		Expect(func() { cache.Record("fp") }).NotTo(Panic())
		Expect(cache.ShouldSkip("fp")).To(BeFalse())
		Expect(cache.Len()).To(Equal(0))
	})

	It("is safe under concurrent readers and writers", func() {
		cache := callguard.NewIdempotencyCache(time.Minute)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					fp := fmt.Sprintf("fp-%d-%d", n, j%10)
					cache.Record(fp)
					cache.ShouldSkip(fp)
				}
			}(i)
		}
		wg.Wait()

		Expect(cache.Len()).To(BeNumerically(">", 0))
	})
})
