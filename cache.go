package chainstore

import (
	"bytes"
	"context"
	"encoding/gob"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/iAn-P1nt0/chainstore/store"
)

// Entry is a memoized response.
type Entry struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

func init() {
	// http.Header is a map[string][]string; register it for gob.
	gob.Register(http.Header{})
}

// CacheConfig configures a Cache.
type CacheConfig struct {
	// TTL is how long stored responses stay live. TTL <= 0 means no
	// expiration.
	TTL time.Duration

	// KeyFunc derives the cache key. Defaults to RequestKey.
	KeyFunc KeyFunc

	// Tags are attached to every stored entry so whole groups can be
	// invalidated at once.
	Tags []string

	// Methods lists cacheable request methods. Defaults to GET.
	Methods []string

	// CacheableStatus decides which response statuses are stored.
	// Defaults to any status below 300.
	CacheableStatus func(int) bool

	// MaxBodySize caps the stored body in bytes. Larger responses are
	// served but not stored. Defaults to 1 MiB.
	MaxBodySize int64
}

// Cache memoizes responses in a [store.Store] and replays them on
// subsequent requests for the same key. Concurrent misses for one key
// are collapsed so the upstream handler runs once. Store failures
// degrade to pass-through.
type Cache struct {
	cfg     CacheConfig
	store   store.Store
	logger  *zap.Logger
	methods map[string]bool
	group   singleflight.Group
}

// NewCache creates a caching middleware with the given configuration.
// If no store option is provided, an in-memory store is used.
func NewCache(cfg CacheConfig, opts ...Option) *Cache {
	o := buildOptions(opts)

	if cfg.KeyFunc == nil {
		cfg.KeyFunc = RequestKey
	}
	if cfg.CacheableStatus == nil {
		cfg.CacheableStatus = func(status int) bool { return status < 300 }
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 1 << 20
	}

	methods := cfg.Methods
	if len(methods) == 0 {
		methods = []string{http.MethodGet}
	}
	methodMap := make(map[string]bool, len(methods))
	for _, m := range methods {
		methodMap[strings.ToUpper(m)] = true
	}

	return &Cache{cfg: cfg, store: o.store, logger: o.logger, methods: methodMap}
}

// Middleware wraps next with response memoization.
func (c *Cache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.shouldCache(r) {
			next.ServeHTTP(w, r)
			return
		}

		key := c.cfg.KeyFunc(r)

		if entry, ok := c.lookup(r.Context(), key); ok {
			replay(w, entry, "HIT")
			return
		}

		// Collapse concurrent misses: one upstream execution per key,
		// every waiter replays the same buffered response. Only the
		// caller whose closure ran is the miss; the shared flag also
		// fires for the winner once any waiter joins.
		executed := false
		v, err, _ := c.group.Do(key, func() (any, error) {
			executed = true
			entry := record(next, r)
			c.maybeStore(r.Context(), key, entry)
			return entry, nil
		})
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		result := "COALESCED"
		if executed {
			result = "MISS"
		}
		replay(w, v.(*Entry), result)
	})
}

// InvalidateTag removes every stored response carrying tag.
func (c *Cache) InvalidateTag(ctx context.Context, tag string) error {
	return c.store.InvalidateTag(ctx, tag)
}

// Clear removes stored responses whose key matches pattern; the empty
// pattern removes everything in the backing store.
func (c *Cache) Clear(ctx context.Context, pattern string) error {
	return c.store.Clear(ctx, pattern)
}

func (c *Cache) shouldCache(r *http.Request) bool {
	if !c.methods[r.Method] {
		return false
	}
	cc := r.Header.Get("Cache-Control")
	if strings.Contains(cc, "no-store") || strings.Contains(cc, "no-cache") {
		return false
	}
	return true
}

func (c *Cache) lookup(ctx context.Context, key string) (*Entry, bool) {
	v, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed, treating as miss",
			zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var entry Entry
	if err := gob.NewDecoder(bytes.NewReader(v.Data)).Decode(&entry); err != nil {
		c.logger.Warn("cache decode failed, treating as miss",
			zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &entry, true
}

func (c *Cache) maybeStore(ctx context.Context, key string, entry *Entry) {
	if !c.cfg.CacheableStatus(entry.StatusCode) {
		return
	}
	if int64(len(entry.Body)) > c.cfg.MaxBodySize {
		return
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		c.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}

	v := store.Value{Data: buf.Bytes(), Tags: c.cfg.Tags}
	if err := c.store.Set(ctx, key, v, c.cfg.TTL); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// record runs next against a buffering writer and returns the captured
// response.
func record(next http.Handler, r *http.Request) *Entry {
	rec := &responseRecorder{header: make(http.Header), status: http.StatusOK}
	next.ServeHTTP(rec, r)
	return &Entry{
		StatusCode: rec.status,
		Headers:    rec.header,
		Body:       rec.body.Bytes(),
	}
}

func replay(w http.ResponseWriter, entry *Entry, result string) {
	h := w.Header()
	for name, vals := range entry.Headers {
		h[name] = vals
	}
	h.Set("X-Cache", result)
	w.WriteHeader(entry.StatusCode)
	w.Write(entry.Body)
}

// responseRecorder buffers a response instead of sending it.
type responseRecorder struct {
	header http.Header
	status int
	wrote  bool
	body   bytes.Buffer
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.body.Write(b)
}
