package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps backend I/O failures. Consumers that prefer
// availability over strict enforcement (the rate-limit middleware does)
// check for it with errors.Is and degrade to a permissive path.
var ErrUnavailable = errors.New("chainstore: store unavailable")

// Value is the payload addressed by a key. Data is opaque to the store;
// Tags group entries for bulk invalidation via [Store.InvalidateTag].
// ExpiresAt is reported by Get (zero means no expiration) and ignored
// by Set, whose ttl argument governs expiry.
type Value struct {
	Data      []byte
	Tags      []string
	ExpiresAt time.Time
}

// Counter is the result of a fixed-window increment: the number of hits
// recorded in the current window and the instant the window resets.
type Counter struct {
	Count   int64
	ResetAt time.Time
}

// DefaultWindow is the counting window used when Increment is called
// with a non-positive window length.
const DefaultWindow = time.Minute

// Store defines the capability contract consumed by the middlewares.
// Implementations must be safe for concurrent use and must treat keys
// as opaque strings. Operations touching a single key are atomic with
// respect to that key; no ordering is promised across different keys.
type Store interface {
	// Get returns the live value for key, with Value.ExpiresAt set to
	// the entry's expiration (zero if it has none). An entry whose TTL
	// has passed is reported as absent even if it has not been swept
	// yet.
	Get(ctx context.Context, key string) (Value, bool, error)

	// Set installs or replaces the value for key. Any tag associations
	// of a prior entry are unlinked first. ttl <= 0 means no expiration.
	Set(ctx context.Context, key string, value Value, ttl time.Duration) error

	// Increment atomically counts a hit for key in the current fixed
	// window. A missing counter, or one whose window has elapsed, is
	// reset to count 1 with a fresh window of the given length.
	// window <= 0 falls back to DefaultWindow.
	Increment(ctx context.Context, key string, window time.Duration) (Counter, error)

	// Count reads the counter for key without consuming from it.
	// It reports ok == false for a missing or rolled-over window and
	// never creates state.
	Count(ctx context.Context, key string) (Counter, bool, error)

	// Delete removes the value for key. Removing an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// InvalidateTag removes every live entry currently tagged with tag.
	// Unknown tags are a no-op.
	InvalidateTag(ctx context.Context, tag string) error

	// Clear removes entries whose key matches pattern from both the
	// value and counter keyspaces. A pattern without "*" is an exact
	// match; "*" matches any run of characters. The empty pattern
	// removes everything, including the tag index.
	Clear(ctx context.Context, pattern string) error

	// Close releases resources held by the store.
	Close() error
}
