// Package store defines the [Store] interface backing the chainstore
// middlewares and provides four implementations:
//
//   - [MemoryStore]: the reference engine. Values, counters, and a tag
//     index held in process memory, with lazy expiry, a periodic sweep,
//     and optional insertion-order eviction.
//   - [SQLiteStore]: persistent entries and counters backed by a SQLite
//     database.
//   - [RedisStore]: entries and counters shared across processes via
//     Redis.
//   - [TieredStore]: a memory fast path in front of a persistent
//     backend.
//
// Custom backends can be created by implementing the [Store] interface.
package store
