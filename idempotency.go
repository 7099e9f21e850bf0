package callguard

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Fingerprint derives the deterministic idempotency key for a mutating
// operation from the target entity, the operation name, and the serialized
// payload.
//
// The payload is hashed exactly as supplied: two payloads that mean the same
// thing but serialize differently (key order, whitespace) produce different
// fingerprints, and two semantically different payloads that happen to
// serialize identically collide. Callers own serialization.
func Fingerprint(target, operation string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(target))
	h.Write([]byte{0})
	h.Write([]byte(operation))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// IdempotencyCache is a TTL-bounded, in-memory record of completed write
// operations, keyed by fingerprint. It detects duplicate writes so the
// executor can skip re-running them. Records live only for the process
// lifetime; nothing is persisted or shared across processes.
//
// A nil *IdempotencyCache is valid and means deduplication is disabled:
// ShouldSkip always reports false and Record is a no-op.
type IdempotencyCache struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// DefaultIdempotencyTTL is the record lifetime used when none is configured.
const DefaultIdempotencyTTL = 10 * time.Minute

// NewIdempotencyCache creates a cache whose records expire after ttl.
// A non-positive ttl falls back to DefaultIdempotencyTTL.
func NewIdempotencyCache(ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyCache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// ShouldSkip reports whether a record for fp exists and is still within its
// TTL. Expired records found during lookup are evicted.
func (c *IdempotencyCache) ShouldSkip(fp string) bool {
	if c == nil {
		return false
	}

	c.mu.RLock()
	recordedAt, ok := c.entries[fp]
	c.mu.RUnlock()

	if !ok {
		return false
	}

	if c.now().Sub(recordedAt) <= c.ttl {
		return true
	}

	// Expired - clean up lazily. Re-check under the write lock in case a
	// concurrent Record refreshed the entry after the read above.
	c.mu.Lock()
	if at, ok := c.entries[fp]; ok && c.now().Sub(at) > c.ttl {
		delete(c.entries, fp)
	}
	c.mu.Unlock()

	return false
}

// Record marks fp as completed now. Each Record also sweeps out records that
// have outlived their TTL, keeping the cache bounded without a background
// goroutine.
func (c *IdempotencyCache) Record(fp string) {
	if c == nil {
		return
	}

	now := c.now()

	c.mu.Lock()
	for key, recordedAt := range c.entries {
		if now.Sub(recordedAt) > c.ttl {
			delete(c.entries, key)
		}
	}
	c.entries[fp] = now
	c.mu.Unlock()
}

// Len returns the number of records currently held, including any that have
// expired but not yet been swept.
func (c *IdempotencyCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
