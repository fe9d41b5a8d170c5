// Package chainstore provides the state backend and the two middlewares
// it powers for HTTP request pipelines: fixed-window rate limiting and
// response caching with tag-based group invalidation.
//
// # Key Concepts
//
//   - [store.Store] is the pluggable state backend: get/set for cached
//     values, increment for fixed-window counters, delete, tag
//     invalidation, and glob clearing. An in-memory engine is the
//     default; SQLite, Redis, and tiered backends ship alongside it.
//   - [RateLimiter] wraps a handler and counts requests per
//     (route, client) key, attaching X-RateLimit-* headers and denying
//     with a structured 429 once the limit is exceeded. Backend
//     failures fail open.
//   - [Cache] wraps a handler and replays memoized responses, storing
//     {status, headers, body} under a request-derived key with an
//     optional TTL and tags.
//
// # Quick Start
//
//	s := store.NewMemoryStore(store.WithMaxEntries(10000))
//	defer s.Close()
//
//	limit := chainstore.NewRateLimiter(chainstore.RateLimitConfig{
//		Limit:  100,
//		Window: time.Minute,
//	}, chainstore.WithStore(s))
//
//	cache := chainstore.NewCache(chainstore.CacheConfig{
//		TTL: 30 * time.Second,
//	}, chainstore.WithStore(s))
//
//	http.ListenAndServe(":8080", limit.Middleware(cache.Middleware(mux)))
//
// See the examples directory for a runnable server.
package chainstore
