package store

import (
	"context"
	"testing"
	"time"
)

func newTestTieredStore(t *testing.T) (*TieredStore, *SQLiteStore) {
	t.Helper()
	backend, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	ts := NewTieredStore(backend)
	t.Cleanup(func() { ts.Close() })
	return ts, backend
}

func TestTieredStoreWriteThrough(t *testing.T) {
	ts, backend := newTestTieredStore(t)
	ctx := context.Background()

	if err := ts.Set(ctx, "k", Value{Data: []byte("v")}, 0); err != nil {
		t.Fatal(err)
	}

	// Both layers hold the value.
	if _, ok, _ := ts.memory.Get(ctx, "k"); !ok {
		t.Error("memory layer should hold the value")
	}
	if _, ok, _ := backend.Get(ctx, "k"); !ok {
		t.Error("backend should hold the value")
	}
}

func TestTieredStoreBackfill(t *testing.T) {
	ts, backend := newTestTieredStore(t)
	ctx := context.Background()

	// Written behind the memory layer's back, as another replica would.
	backend.Set(ctx, "k", Value{Data: []byte("v")}, 0)

	got, ok, err := ts.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(got.Data) != "v" {
		t.Fatalf("get = %q (ok=%v), want v", got.Data, ok)
	}

	if _, ok, _ := ts.memory.Get(ctx, "k"); !ok {
		t.Error("miss should backfill the memory layer")
	}
}

func TestTieredStoreBackfillKeepsTTL(t *testing.T) {
	ts, backend := newTestTieredStore(t)
	ctx := context.Background()

	backend.Set(ctx, "k", Value{Data: []byte("v")}, 40*time.Millisecond)

	// The backfill copies the value into memory along with the
	// backend entry's remaining lifetime.
	if _, ok, _ := ts.Get(ctx, "k"); !ok {
		t.Fatal("expected a hit before expiry")
	}

	time.Sleep(60 * time.Millisecond)

	if _, ok, _ := backend.Get(ctx, "k"); ok {
		t.Fatal("backend entry should have expired")
	}
	if _, ok, _ := ts.Get(ctx, "k"); ok {
		t.Error("memory copy must not outlive the backend entry")
	}
}

func TestTieredStoreCountersAreAuthoritative(t *testing.T) {
	ts, backend := newTestTieredStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		c, err := ts.Increment(ctx, "k", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if c.Count != i {
			t.Errorf("increment %d: count = %d, want %d", i, c.Count, i)
		}
	}

	// The backend holds the real counter; memory holds none.
	c, ok, _ := backend.Count(ctx, "k")
	if !ok || c.Count != 3 {
		t.Errorf("backend count = %d (ok=%v), want 3", c.Count, ok)
	}
	if _, ok, _ := ts.memory.Count(ctx, "k"); ok {
		t.Error("memory layer should not mirror counters")
	}
}

func TestTieredStoreDeleteRemovesBothLayers(t *testing.T) {
	ts, backend := newTestTieredStore(t)
	ctx := context.Background()

	ts.Set(ctx, "k", Value{Data: []byte("v")}, 0)
	if err := ts.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := ts.Get(ctx, "k"); ok {
		t.Error("expected miss after delete")
	}
	if _, ok, _ := backend.Get(ctx, "k"); ok {
		t.Error("backend should not hold a deleted value")
	}
}

func TestTieredStoreInvalidateTag(t *testing.T) {
	ts, backend := newTestTieredStore(t)
	ctx := context.Background()

	ts.Set(ctx, "a", Value{Data: []byte("A"), Tags: []string{"x"}}, 0)
	ts.Set(ctx, "b", Value{Data: []byte("B")}, 0)

	if err := ts.InvalidateTag(ctx, "x"); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := ts.Get(ctx, "a"); ok {
		t.Error("tagged entry should be invalidated in both layers")
	}
	if _, ok, _ := backend.Get(ctx, "a"); ok {
		t.Error("backend should not hold the invalidated entry")
	}
	if _, ok, _ := ts.Get(ctx, "b"); !ok {
		t.Error("untagged entry should survive")
	}
}
