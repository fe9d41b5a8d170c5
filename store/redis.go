package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)

// Key prefixes. Values and counters live in separate keyspaces so
// Clear can address them independently; cs:t: holds one set per tag
// and cs:k: mirrors each entry's own tags for overwrite cleanup.
const (
	redisValuePrefix   = "cs:v:"
	redisCounterPrefix = "cs:c:"
	redisTagPrefix     = "cs:t:"
	redisKeyTagsPrefix = "cs:k:"
)

// RedisStore is a [Store] backed by Redis, for sharing cache entries
// and rate-limit counters across processes. Entry TTLs map to native
// Redis expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store around an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// incrementScript atomically applies the fixed-window rules: reset the
// counter when the window has elapsed, increment in place otherwise.
// Returns {count, reset_at_millis}.
//
// KEYS[1] = counter key
// ARGV[1] = now in milliseconds
// ARGV[2] = window length in milliseconds
var incrementScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local reset = redis.call("HGET", key, "reset_at")
if (not reset) or now > tonumber(reset) then
    reset = now + window
    -- Format explicitly: tostring on a large number yields scientific
    -- notation in Lua.
    redis.call("HSET", key, "count", "1", "reset_at", string.format("%.0f", reset))
    redis.call("PEXPIRE", key, window)
    return {1, reset}
end

local count = redis.call("HINCRBY", key, "count", 1)
return {count, tonumber(reset)}
`)

// Get returns the live value for key. Expiry is handled by Redis
// itself, so a hit is always live; the remaining TTL is reported
// through Value.ExpiresAt.
func (r *RedisStore) Get(ctx context.Context, key string) (Value, bool, error) {
	data, err := r.client.Get(ctx, redisValuePrefix+key).Bytes()
	if err == redis.Nil {
		return Value{}, false, nil
	}
	if err != nil {
		return Value{}, false, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}

	tags, err := r.client.SMembers(ctx, redisKeyTagsPrefix+key).Result()
	if err != nil {
		return Value{}, false, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}
	if len(tags) == 0 {
		tags = nil
	}

	v := Value{Data: data, Tags: tags}
	// PTTL is negative for keys without an expiry.
	if ttl, err := r.client.PTTL(ctx, redisValuePrefix+key).Result(); err == nil && ttl > 0 {
		v.ExpiresAt = time.Now().Add(ttl)
	}
	return v, true, nil
}

// Set installs or replaces the value for key. Stale tag associations
// from a prior entry are removed first.
func (r *RedisStore) Set(ctx context.Context, key string, value Value, ttl time.Duration) error {
	if err := r.unlinkTags(ctx, key); err != nil {
		return err
	}

	var expiry time.Duration
	if ttl > 0 {
		expiry = ttl
	}
	if err := r.client.Set(ctx, redisValuePrefix+key, value.Data, expiry).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", ErrUnavailable, err)
	}

	if len(value.Tags) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, tag := range value.Tags {
		pipe.SAdd(ctx, redisTagPrefix+tag, key)
	}
	pipe.SAdd(ctx, redisKeyTagsPrefix+key, toAny(value.Tags)...)
	if ttl > 0 {
		pipe.Expire(ctx, redisKeyTagsPrefix+key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: set: %v", ErrUnavailable, err)
	}
	return nil
}

// Increment counts a hit for key in the current fixed window.
func (r *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Counter, error) {
	if window <= 0 {
		window = DefaultWindow
	}

	now := time.Now()
	res, err := incrementScript.Run(ctx, r.client,
		[]string{redisCounterPrefix + key},
		now.UnixMilli(), window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Counter{}, fmt.Errorf("%w: increment: %v", ErrUnavailable, err)
	}
	if len(res) != 2 {
		return Counter{}, fmt.Errorf("%w: increment: unexpected script reply", ErrUnavailable)
	}
	return Counter{Count: res[0], ResetAt: time.UnixMilli(res[1])}, nil
}

// Count reads the counter for key without consuming from it.
func (r *RedisStore) Count(ctx context.Context, key string) (Counter, bool, error) {
	vals, err := r.client.HGetAll(ctx, redisCounterPrefix+key).Result()
	if err != nil {
		return Counter{}, false, fmt.Errorf("%w: count: %v", ErrUnavailable, err)
	}
	if len(vals) == 0 {
		return Counter{}, false, nil
	}

	count, err := strconv.ParseInt(vals["count"], 10, 64)
	if err != nil {
		return Counter{}, false, fmt.Errorf("%w: count: parse: %v", ErrUnavailable, err)
	}
	resetAt, err := strconv.ParseInt(vals["reset_at"], 10, 64)
	if err != nil {
		return Counter{}, false, fmt.Errorf("%w: count: parse: %v", ErrUnavailable, err)
	}
	if time.Now().UnixMilli() > resetAt {
		return Counter{}, false, nil
	}
	return Counter{Count: count, ResetAt: time.UnixMilli(resetAt)}, true, nil
}

// Delete removes the value for key and its tag associations.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.unlinkTags(ctx, key); err != nil {
		return err
	}
	if err := r.client.Del(ctx, redisValuePrefix+key).Err(); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrUnavailable, err)
	}
	return nil
}

// InvalidateTag removes every entry tagged with tag.
func (r *RedisStore) InvalidateTag(ctx context.Context, tag string) error {
	keys, err := r.client.SMembers(ctx, redisTagPrefix+tag).Result()
	if err != nil {
		return fmt.Errorf("%w: invalidate: %v", ErrUnavailable, err)
	}
	for _, key := range keys {
		if err := r.Delete(ctx, key); err != nil {
			return err
		}
	}
	if err := r.client.Del(ctx, redisTagPrefix+tag).Err(); err != nil {
		return fmt.Errorf("%w: invalidate: %v", ErrUnavailable, err)
	}
	return nil
}

// Clear removes matching values and counters. The empty pattern wipes
// every chainstore keyspace, tag sets included.
func (r *RedisStore) Clear(ctx context.Context, pattern string) error {
	if pattern == "" {
		for _, prefix := range []string{
			redisValuePrefix, redisCounterPrefix, redisTagPrefix, redisKeyTagsPrefix,
		} {
			if err := r.scanAndDelete(ctx, prefix+"*"); err != nil {
				return err
			}
		}
		return nil
	}

	match := redisGlob(pattern)
	keys, err := r.scanKeys(ctx, redisValuePrefix+match)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := r.Delete(ctx, k[len(redisValuePrefix):]); err != nil {
			return err
		}
	}
	return r.scanAndDelete(ctx, redisCounterPrefix+match)
}

// Close closes the underlying Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// unlinkTags removes key from every tag set it appears in and drops
// the key's own tag mirror. Empty tag sets are left for Redis to
// reclaim; SMembers on them behaves as absent.
func (r *RedisStore) unlinkTags(ctx context.Context, key string) error {
	tags, err := r.client.SMembers(ctx, redisKeyTagsPrefix+key).Result()
	if err != nil {
		return fmt.Errorf("%w: unlink tags: %v", ErrUnavailable, err)
	}
	if len(tags) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, tag := range tags {
		pipe.SRem(ctx, redisTagPrefix+tag, key)
	}
	pipe.Del(ctx, redisKeyTagsPrefix+key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: unlink tags: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisStore) scanKeys(ctx context.Context, match string) ([]string, error) {
	var out []string
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrUnavailable, err)
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func (r *RedisStore) scanAndDelete(ctx context.Context, match string) error {
	keys, err := r.scanKeys(ctx, match)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: clear: %v", ErrUnavailable, err)
	}
	return nil
}

// redisGlob maps a Clear pattern, where only "*" is a wildcard, onto
// Redis glob syntax. "?", character classes, and backslashes are
// escaped so they match themselves instead of acting as wildcards.
func redisGlob(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))
	for _, c := range pattern {
		switch c {
		case '?', '[', ']', '^', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
