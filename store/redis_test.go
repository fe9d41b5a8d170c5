package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreSetGet(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	want := Value{Data: []byte("payload"), Tags: []string{"a"}}
	if err := s.Set(ctx, "k", want, 0); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got.Data) != "payload" {
		t.Errorf("data = %q, want payload", got.Data)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "a" {
		t.Errorf("tags = %v, want [a]", got.Tags)
	}
}

func TestRedisStoreTTL(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	s.Set(ctx, "k", Value{Data: []byte("v")}, time.Second)

	v, ok, _ := s.Get(ctx, "k")
	if !ok {
		t.Fatal("expected hit before expiry")
	}
	if until := time.Until(v.ExpiresAt); until <= 0 || until > time.Second {
		t.Errorf("ExpiresAt %v from now, want within (0, 1s]", until)
	}

	mr.FastForward(2 * time.Second)

	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("expected miss after expiry")
	}
}

func TestRedisStoreIncrement(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		c, err := s.Increment(ctx, "k", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if c.Count != i {
			t.Errorf("increment %d: count = %d, want %d", i, c.Count, i)
		}
	}
}

func TestRedisStoreIncrementWindowReset(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	// The script compares the caller's clock against the stored
	// reset_at, so rollover needs no Redis-side expiry.
	s.Increment(ctx, "k", 40*time.Millisecond)
	s.Increment(ctx, "k", 40*time.Millisecond)

	time.Sleep(50 * time.Millisecond)

	c, err := s.Increment(ctx, "k", 40*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if c.Count != 1 {
		t.Errorf("after rollover: count = %d, want 1", c.Count)
	}
}

func TestRedisStoreCount(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	if _, ok, _ := s.Count(ctx, "k"); ok {
		t.Fatal("expected no counter before any increment")
	}

	s.Increment(ctx, "k", time.Minute)
	s.Increment(ctx, "k", time.Minute)

	c, ok, err := s.Count(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || c.Count != 2 {
		t.Errorf("count = %d (ok=%v), want 2", c.Count, ok)
	}
}

func TestRedisStoreInvalidateTag(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	s.Set(ctx, "a", Value{Data: []byte("A"), Tags: []string{"x"}}, 0)
	s.Set(ctx, "b", Value{Data: []byte("B"), Tags: []string{"x", "y"}}, 0)
	s.Set(ctx, "c", Value{Data: []byte("C"), Tags: []string{"y"}}, 0)

	if err := s.InvalidateTag(ctx, "x"); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{"a", "b"} {
		if _, ok, _ := s.Get(ctx, key); ok {
			t.Errorf("entry %q should be invalidated", key)
		}
	}
	if _, ok, _ := s.Get(ctx, "c"); !ok {
		t.Error("entry c should survive invalidating x")
	}
}

func TestRedisStoreClearPattern(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	for _, key := range []string{"user:1", "user:2", "post:1"} {
		s.Set(ctx, key, Value{Data: []byte(key)}, 0)
		s.Increment(ctx, key, time.Minute)
	}

	if err := s.Clear(ctx, "user:*"); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{"user:1", "user:2"} {
		if _, ok, _ := s.Get(ctx, key); ok {
			t.Errorf("entry %q should be cleared", key)
		}
		if _, ok, _ := s.Count(ctx, key); ok {
			t.Errorf("counter %q should be cleared", key)
		}
	}
	if _, ok, _ := s.Get(ctx, "post:1"); !ok {
		t.Error("entry post:1 should survive")
	}
	if _, ok, _ := s.Count(ctx, "post:1"); !ok {
		t.Error("counter post:1 should survive")
	}
}

func TestRedisStoreClearLiteralMetacharacters(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	// "?" and "[" are wildcards to Redis but plain characters here.
	for _, key := range []string{"user:?", "user:a", "item:[1]", "item:1"} {
		s.Set(ctx, key, Value{Data: []byte(key)}, 0)
	}

	if err := s.Clear(ctx, "user:?"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "user:?"); ok {
		t.Error(`entry "user:?" should be cleared`)
	}
	if _, ok, _ := s.Get(ctx, "user:a"); !ok {
		t.Error(`entry "user:a" should survive a literal "?" pattern`)
	}

	if err := s.Clear(ctx, "item:[1]"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "item:[1]"); ok {
		t.Error(`entry "item:[1]" should be cleared`)
	}
	if _, ok, _ := s.Get(ctx, "item:1"); !ok {
		t.Error(`entry "item:1" should survive a literal class pattern`)
	}
}

func TestRedisStoreClearAll(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	s.Set(ctx, "k", Value{Data: []byte("v"), Tags: []string{"t"}}, 0)
	s.Increment(ctx, "k", time.Minute)

	if err := s.Clear(ctx, ""); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("expected no entries after clear")
	}
	if _, ok, _ := s.Count(ctx, "k"); ok {
		t.Error("expected no counters after clear")
	}
}

func TestRedisStoreOverwriteResetsTags(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	s.Set(ctx, "k", Value{Data: []byte("v1"), Tags: []string{"old"}}, 0)
	s.Set(ctx, "k", Value{Data: []byte("v2"), Tags: []string{"new"}}, 0)

	if err := s.InvalidateTag(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	got, ok, _ := s.Get(ctx, "k")
	if !ok {
		t.Fatal("entry should survive invalidating its former tag")
	}
	if string(got.Data) != "v2" {
		t.Errorf("data = %q, want v2", got.Data)
	}
}
