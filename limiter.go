package chainstore

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/iAn-P1nt0/chainstore/store"
)

// DefaultRateLimitWindow is used when RateLimitConfig.Window is unset.
const DefaultRateLimitWindow = 15 * time.Minute

// Decision is a point-in-time rate-limit outcome, passed to a
// caller-supplied OnLimitReached handler.
type Decision struct {
	Limit      int64
	Count      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RateLimitConfig configures a RateLimiter.
type RateLimitConfig struct {
	// Limit is the maximum number of counted requests per window.
	Limit int64

	// Window is the fixed counting window. Defaults to
	// DefaultRateLimitWindow.
	Window time.Duration

	// KeyFunc derives the client portion of the counter key. The
	// limiter prefixes it with the request path so each route carries
	// its own budget. Defaults to ClientKey.
	KeyFunc KeyFunc

	// SkipFailed excludes responses with status >= 400 from counting.
	// SkipSuccessful excludes responses with status < 400. Setting
	// either defers counting until the response status is known.
	SkipFailed     bool
	SkipSuccessful bool

	// OnLimitReached, when set, owns the response for denied requests
	// instead of the default 429 JSON payload.
	OnLimitReached func(http.ResponseWriter, *http.Request, Decision)
}

// RateLimiter enforces a fixed-window request limit per (route, client)
// key on top of a [store.Store]. Store failures fail open: the request
// proceeds and the failure is logged, never surfaced to the client.
type RateLimiter struct {
	cfg    RateLimitConfig
	store  store.Store
	logger *zap.Logger
}

// NewRateLimiter creates a rate limiter with the given configuration.
// If no store option is provided, an in-memory store is used.
func NewRateLimiter(cfg RateLimitConfig, opts ...Option) *RateLimiter {
	o := buildOptions(opts)
	if cfg.Window <= 0 {
		cfg.Window = DefaultRateLimitWindow
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientKey
	}
	return &RateLimiter{cfg: cfg, store: o.store, logger: o.logger}
}

// Middleware wraps next with rate limiting.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l.cfg.SkipFailed || l.cfg.SkipSuccessful {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l.serveDeferred(w, r, next)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l.serve(w, r, next)
	})
}

func (l *RateLimiter) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	key := l.key(r)

	c, err := l.store.Increment(r.Context(), key, l.cfg.Window)
	if err != nil {
		// Fail open: availability beats strict quota enforcement.
		l.logger.Warn("rate limit store unavailable, allowing request",
			zap.String("key", key), zap.Error(err))
		next.ServeHTTP(w, r)
		return
	}

	d := l.decision(c)
	l.setHeaders(w, d)

	if c.Count > l.cfg.Limit {
		l.deny(w, r, d)
		return
	}
	next.ServeHTTP(w, r)
}

// serveDeferred enforces the limit from a read-only counter view and
// counts the request only after its response status is known.
func (l *RateLimiter) serveDeferred(w http.ResponseWriter, r *http.Request, next http.Handler) {
	key := l.key(r)

	c, ok, err := l.store.Count(r.Context(), key)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, allowing request",
			zap.String("key", key), zap.Error(err))
		next.ServeHTTP(w, r)
		return
	}

	if ok {
		d := l.decision(c)
		l.setHeaders(w, d)
		if c.Count >= l.cfg.Limit {
			l.deny(w, r, d)
			return
		}
	} else {
		// No active window yet; a full budget remains.
		l.setHeaders(w, Decision{
			Limit:     l.cfg.Limit,
			Remaining: l.cfg.Limit,
			ResetAt:   time.Now().Add(l.cfg.Window),
		})
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	next.ServeHTTP(rec, r)

	if l.cfg.SkipFailed && rec.status >= 400 {
		return
	}
	if l.cfg.SkipSuccessful && rec.status < 400 {
		return
	}
	if _, err := l.store.Increment(r.Context(), key, l.cfg.Window); err != nil {
		l.logger.Warn("rate limit store unavailable, request not counted",
			zap.String("key", key), zap.Error(err))
	}
}

func (l *RateLimiter) key(r *http.Request) string {
	return r.URL.Path + ":" + l.cfg.KeyFunc(r)
}

func (l *RateLimiter) decision(c store.Counter) Decision {
	remaining := l.cfg.Limit - c.Count
	if remaining < 0 {
		remaining = 0
	}
	retryAfter := time.Until(c.ResetAt)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{
		Limit:      l.cfg.Limit,
		Count:      c.Count,
		Remaining:  remaining,
		ResetAt:    c.ResetAt,
		RetryAfter: retryAfter,
	}
}

func (l *RateLimiter) setHeaders(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	h.Set("X-RateLimit-Reset", d.ResetAt.UTC().Format(time.RFC3339))
}

func (l *RateLimiter) deny(w http.ResponseWriter, r *http.Request, d Decision) {
	if l.cfg.OnLimitReached != nil {
		l.cfg.OnLimitReached(w, r, d)
		return
	}

	retryAfter := retryAfterSeconds(d.RetryAfter)
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]any{
		"error":      "rate_limit_exceeded",
		"message":    fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", retryAfter),
		"retryAfter": retryAfter,
	})
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// statusRecorder captures the response status for deferred counting.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}
