package store

import (
	"context"
	"time"
)

// Compile-time interface check.
var _ Store = (*TieredStore)(nil)

// TieredStore wraps an in-memory store (fast path) with a persistent
// backend (durable path). Values write through to both stores; reads
// check memory first and fall back to the backend on a miss. Counters
// always go to the backend, which is the source of truth, so replicas
// sharing the backend count against one budget.
type TieredStore struct {
	memory     *MemoryStore
	persistent Store
}

// NewTieredStore creates a TieredStore in front of the given persistent
// store. An internal MemoryStore is created automatically.
func NewTieredStore(persistent Store, opts ...MemoryOption) *TieredStore {
	return &TieredStore{
		memory:     NewMemoryStore(opts...),
		persistent: persistent,
	}
}

// Get reads from memory first. On a miss it falls back to the backend
// and backfills memory so subsequent reads are fast.
func (t *TieredStore) Get(ctx context.Context, key string) (Value, bool, error) {
	if v, ok, err := t.memory.Get(ctx, key); err == nil && ok {
		return v, true, nil
	}

	v, ok, err := t.persistent.Get(ctx, key)
	if err != nil || !ok {
		return Value{}, false, err
	}

	// Carry the backend entry's remaining TTL into the memory copy so
	// it cannot outlive the backend's expiry.
	if v.ExpiresAt.IsZero() {
		t.memory.Set(ctx, key, v, 0)
	} else if remaining := time.Until(v.ExpiresAt); remaining > 0 {
		t.memory.Set(ctx, key, v, remaining)
	}
	return v, true, nil
}

// Set writes through to both stores.
func (t *TieredStore) Set(ctx context.Context, key string, value Value, ttl time.Duration) error {
	if err := t.persistent.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return t.memory.Set(ctx, key, value, ttl)
}

// Increment counts against the backend only; per-process mirrors would
// double count.
func (t *TieredStore) Increment(ctx context.Context, key string, window time.Duration) (Counter, error) {
	return t.persistent.Increment(ctx, key, window)
}

// Count reads the backend's counter.
func (t *TieredStore) Count(ctx context.Context, key string) (Counter, bool, error) {
	return t.persistent.Count(ctx, key)
}

// Delete removes the value from both stores.
func (t *TieredStore) Delete(ctx context.Context, key string) error {
	t.memory.Delete(ctx, key)
	return t.persistent.Delete(ctx, key)
}

// InvalidateTag invalidates in both stores.
func (t *TieredStore) InvalidateTag(ctx context.Context, tag string) error {
	t.memory.InvalidateTag(ctx, tag)
	return t.persistent.InvalidateTag(ctx, tag)
}

// Clear clears both stores. The memory layer holds a subset of the
// backend, so applying the same pattern to both keeps them consistent.
func (t *TieredStore) Clear(ctx context.Context, pattern string) error {
	t.memory.Clear(ctx, pattern)
	return t.persistent.Clear(ctx, pattern)
}

// Close closes the backend and stops the memory layer's sweep.
func (t *TieredStore) Close() error {
	t.memory.Close()
	return t.persistent.Close()
}
