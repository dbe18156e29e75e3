package meter

import (
	"context"
	"sync"
	"time"
)

// Counter is an atomic integer per key with an absolute expiry.
type Counter interface {
	// Incr adds one to key, makes it expire at expireAt and returns the new
	// value. An expired key counts from zero.
	Incr(ctx context.Context, key string, expireAt time.Time) (int64, error)
	// Decr takes one back from key.
	Decr(ctx context.Context, key string) error
	// Get returns the current value, zero for a missing or expired key.
	Get(ctx context.Context, key string) (int64, error)
}

// MemoryCounter is an in-process Counter for tests and single-node setups.
type MemoryCounter struct {
	mu      sync.Mutex
	clock   func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	n        int64
	expireAt time.Time
}

var _ Counter = (*MemoryCounter)(nil)

// NewMemoryCounter returns an empty counter. clock decides expiry; nil means
// time.Now.
func NewMemoryCounter(clock func() time.Time) *MemoryCounter {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryCounter{clock: clock, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCounter) Incr(_ context.Context, key string, expireAt time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.live(key)
	e.n++
	e.expireAt = expireAt
	c.entries[key] = e
	return e.n, nil
}

func (c *MemoryCounter) Decr(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	e.n--
	c.entries[key] = e
	return nil
}

func (c *MemoryCounter) Get(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live(key).n, nil
}

// live returns the entry for key, dropping it first if it has expired.
func (c *MemoryCounter) live(key string) memoryEntry {
	e, ok := c.entries[key]
	if !ok {
		return memoryEntry{}
	}
	if !c.clock().Before(e.expireAt) {
		delete(c.entries, key)
		return memoryEntry{}
	}
	return e
}
