package store

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     Value
	expiresAt time.Time // zero means no expiration
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type counter struct {
	count   int64
	resetAt time.Time
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is the in-memory reference implementation of [Store].
// It is safe for concurrent use. State is lost on process restart.
//
// Expired entries are hidden from reads immediately and physically
// removed by a background sweep; see [WithSweepInterval]. When a
// maximum size is configured, installing an entry into a full store
// evicts the single oldest-inserted entry first. Counters are never
// size-bounded.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*entry
	counters map[string]*counter
	tagIndex map[string]map[string]struct{} // tag -> set of keys
	order    []string                       // insertion order, oldest first
	inOrder  map[string]struct{}

	maxEntries int
	sweepEvery time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxEntries bounds the number of live value entries. A Set that
// would breach the bound evicts the oldest-inserted entry first.
// n <= 0 means unbounded.
func WithMaxEntries(n int) MemoryOption {
	return func(m *MemoryStore) {
		m.maxEntries = n
	}
}

// WithSweepInterval sets how often the background sweep removes
// expired entries and stale counters. The default is one minute.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		if d > 0 {
			m.sweepEvery = d
		}
	}
}

// NewMemoryStore creates a memory store and starts its sweep goroutine.
// Call Close to stop the sweep.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		entries:    make(map[string]*entry),
		counters:   make(map[string]*counter),
		tagIndex:   make(map[string]map[string]struct{}),
		inOrder:    make(map[string]struct{}),
		sweepEvery: time.Minute,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	go m.sweep()
	return m
}

// Get returns the live value for key. An expired entry is removed,
// its tag associations unlinked, and reported as absent.
func (m *MemoryStore) Get(_ context.Context, key string) (Value, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return Value{}, false, nil
	}
	if e.expired(time.Now()) {
		m.removeLocked(key)
		return Value{}, false, nil
	}
	v := e.value
	v.ExpiresAt = e.expiresAt
	return v, true, nil
}

// Set installs or replaces the value for key. A prior entry's tag
// associations are unlinked before the new entry is admitted.
func (m *MemoryStore) Set(_ context.Context, key string, value Value, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; ok {
		m.unlinkTagsLocked(key)
	}

	if m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		m.evictOldestLocked()
	}

	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = e

	if _, ok := m.inOrder[key]; !ok {
		m.order = append(m.order, key)
		m.inOrder[key] = struct{}{}
	}

	for _, tag := range value.Tags {
		set, ok := m.tagIndex[tag]
		if !ok {
			set = make(map[string]struct{})
			m.tagIndex[tag] = set
		}
		set[key] = struct{}{}
	}
	return nil
}

// Increment counts a hit for key in the current fixed window. A missing
// counter, or one whose window has elapsed, starts over at count 1.
func (m *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Counter, error) {
	if window <= 0 {
		window = DefaultWindow
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	c, ok := m.counters[key]
	if !ok || now.After(c.resetAt) {
		c = &counter{count: 0, resetAt: now.Add(window)}
		m.counters[key] = c
	}
	c.count++
	return Counter{Count: c.count, ResetAt: c.resetAt}, nil
}

// Count reads the counter for key without consuming from it.
func (m *MemoryStore) Count(_ context.Context, key string) (Counter, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok || time.Now().After(c.resetAt) {
		return Counter{}, false, nil
	}
	return Counter{Count: c.count, ResetAt: c.resetAt}, true, nil
}

// Delete removes the value for key. Absent keys are a no-op.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(key)
	return nil
}

// InvalidateTag removes every live entry tagged with tag. Removing an
// entry also unlinks any other tags it held. Unknown tags are a no-op.
func (m *MemoryStore) InvalidateTag(_ context.Context, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.tagIndex[tag] {
		m.removeLocked(key)
	}
	delete(m.tagIndex, tag)
	return nil
}

// Clear removes matching entries and counters. The empty pattern
// discards all state wholesale, including the tag index.
func (m *MemoryStore) Clear(_ context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pattern == "" {
		m.entries = make(map[string]*entry)
		m.counters = make(map[string]*counter)
		m.tagIndex = make(map[string]map[string]struct{})
		m.order = nil
		m.inOrder = make(map[string]struct{})
		return nil
	}

	for key := range m.entries {
		if matchKey(pattern, key) {
			m.removeLocked(key)
		}
	}
	for key := range m.counters {
		if matchKey(pattern, key) {
			delete(m.counters, key)
		}
	}
	return nil
}

// Close stops the sweep goroutine. The store remains usable but no
// longer reclaims expired entries in the background.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// Len reports the number of live value entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	n := 0
	for _, e := range m.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// removeLocked deletes the entry for key, unlinks its tags, and drops
// it from the eviction queue. Must be called with mu held.
func (m *MemoryStore) removeLocked(key string) {
	if _, ok := m.entries[key]; !ok {
		return
	}
	m.unlinkTagsLocked(key)
	delete(m.entries, key)

	if _, ok := m.inOrder[key]; ok {
		delete(m.inOrder, key)
		for i, k := range m.order {
			if k == key {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
}

// unlinkTagsLocked removes key from every tag set it appears in,
// pruning tag sets that become empty. Must be called with mu held.
func (m *MemoryStore) unlinkTagsLocked(key string) {
	e, ok := m.entries[key]
	if !ok {
		return
	}
	for _, tag := range e.value.Tags {
		set, ok := m.tagIndex[tag]
		if !ok {
			continue
		}
		delete(set, key)
		if len(set) == 0 {
			delete(m.tagIndex, tag)
		}
	}
}

// evictOldestLocked removes the oldest-inserted entry. Must be called
// with mu held.
func (m *MemoryStore) evictOldestLocked() {
	if len(m.order) == 0 {
		return
	}
	m.removeLocked(m.order[0])
}

// sweep periodically removes expired entries and stale counters so
// memory is not held by entries nobody reads again. Lazy checks on the
// read path already hide them.
func (m *MemoryStore) sweep() {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for key, e := range m.entries {
				if e.expired(now) {
					m.removeLocked(key)
				}
			}
			for key, c := range m.counters {
				if now.After(c.resetAt) {
					delete(m.counters, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
