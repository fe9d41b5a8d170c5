package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a persistent [Store] backed by SQLite. Entries and
// counters survive process restarts. It does not enforce a size bound;
// that is the memory engine's concern.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given DSN
// and initialises the schema. Use ":memory:" for an in-memory database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("chainstore/store: open sqlite: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS cs_entries (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS cs_tags (
			tag TEXT NOT NULL,
			key TEXT NOT NULL,
			PRIMARY KEY (tag, key)
		)`,
		`CREATE TABLE IF NOT EXISTS cs_counters (
			key      TEXT PRIMARY KEY,
			count    INTEGER NOT NULL DEFAULT 0,
			reset_at INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("chainstore/store: create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the live value for key. Expired rows are deleted on read
// and reported as absent.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Value, bool, error) {
	var data []byte
	var expiresAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cs_entries WHERE key = ?`, key,
	).Scan(&data, &expiresAt)

	if err == sql.ErrNoRows {
		return Value{}, false, nil
	}
	if err != nil {
		return Value{}, false, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}

	if expiresAt > 0 && time.Now().UnixMilli() > expiresAt {
		if err := s.Delete(ctx, key); err != nil {
			return Value{}, false, err
		}
		return Value{}, false, nil
	}

	tags, err := s.tagsFor(ctx, key)
	if err != nil {
		return Value{}, false, err
	}

	v := Value{Data: data, Tags: tags}
	if expiresAt > 0 {
		v.ExpiresAt = time.UnixMilli(expiresAt)
	}
	return v, true, nil
}

// Set installs or replaces the value for key, rewriting its tag rows.
func (s *SQLiteStore) Set(ctx context.Context, key string, value Value, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: set: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cs_tags WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: set: %v", ErrUnavailable, err)
	}

	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixMilli()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO cs_entries (key, value, expires_at) VALUES (?, ?, ?)`,
		key, value.Data, expiresAt,
	); err != nil {
		return fmt.Errorf("%w: set: %v", ErrUnavailable, err)
	}

	for _, tag := range value.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO cs_tags (tag, key) VALUES (?, ?)`, tag, key,
		); err != nil {
			return fmt.Errorf("%w: set: %v", ErrUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: set: %v", ErrUnavailable, err)
	}
	return nil
}

// Increment counts a hit for key in the current fixed window. The
// read-reset-write cycle runs in a transaction.
func (s *SQLiteStore) Increment(ctx context.Context, key string, window time.Duration) (Counter, error) {
	if window <= 0 {
		window = DefaultWindow
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Counter{}, fmt.Errorf("%w: increment: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	now := time.Now()
	var count int64
	var resetAt int64

	err = tx.QueryRowContext(ctx,
		`SELECT count, reset_at FROM cs_counters WHERE key = ?`, key,
	).Scan(&count, &resetAt)

	if err == sql.ErrNoRows || (err == nil && now.UnixMilli() > resetAt) {
		// New key or elapsed window: start a fresh window.
		count = 1
		resetAt = now.Add(window).UnixMilli()
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO cs_counters (key, count, reset_at) VALUES (?, ?, ?)`,
			key, count, resetAt,
		); err != nil {
			return Counter{}, fmt.Errorf("%w: increment: %v", ErrUnavailable, err)
		}
		if err := tx.Commit(); err != nil {
			return Counter{}, fmt.Errorf("%w: increment: %v", ErrUnavailable, err)
		}
		return Counter{Count: count, ResetAt: time.UnixMilli(resetAt)}, nil
	}
	if err != nil {
		return Counter{}, fmt.Errorf("%w: increment: %v", ErrUnavailable, err)
	}

	count++
	if _, err := tx.ExecContext(ctx,
		`UPDATE cs_counters SET count = ? WHERE key = ?`, count, key,
	); err != nil {
		return Counter{}, fmt.Errorf("%w: increment: %v", ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return Counter{}, fmt.Errorf("%w: increment: %v", ErrUnavailable, err)
	}
	return Counter{Count: count, ResetAt: time.UnixMilli(resetAt)}, nil
}

// Count reads the counter for key without consuming from it.
func (s *SQLiteStore) Count(ctx context.Context, key string) (Counter, bool, error) {
	var count, resetAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT count, reset_at FROM cs_counters WHERE key = ?`, key,
	).Scan(&count, &resetAt)

	if err == sql.ErrNoRows {
		return Counter{}, false, nil
	}
	if err != nil {
		return Counter{}, false, fmt.Errorf("%w: count: %v", ErrUnavailable, err)
	}
	if time.Now().UnixMilli() > resetAt {
		return Counter{}, false, nil
	}
	return Counter{Count: count, ResetAt: time.UnixMilli(resetAt)}, true, nil
}

// Delete removes the value and tag rows for key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: delete: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cs_tags WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cs_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrUnavailable, err)
	}
	return nil
}

// InvalidateTag removes every entry tagged with tag, including each
// entry's other tag rows.
func (s *SQLiteStore) InvalidateTag(ctx context.Context, tag string) error {
	keys, err := s.keysFor(ctx, tag)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes matching entries and counters. The empty pattern
// truncates all three tables.
func (s *SQLiteStore) Clear(ctx context.Context, pattern string) error {
	if pattern == "" {
		for _, stmt := range []string{
			`DELETE FROM cs_tags`, `DELETE FROM cs_entries`, `DELETE FROM cs_counters`,
		} {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%w: clear: %v", ErrUnavailable, err)
			}
		}
		return nil
	}

	keys, err := s.allKeys(ctx, `SELECT key FROM cs_entries`)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if matchKey(pattern, key) {
			if err := s.Delete(ctx, key); err != nil {
				return err
			}
		}
	}

	keys, err = s.allKeys(ctx, `SELECT key FROM cs_counters`)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if matchKey(pattern, key) {
			if _, err := s.db.ExecContext(ctx,
				`DELETE FROM cs_counters WHERE key = ?`, key,
			); err != nil {
				return fmt.Errorf("%w: clear: %v", ErrUnavailable, err)
			}
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) tagsFor(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM cs_tags WHERE key = ?`, key)
	if err != nil {
		return nil, fmt.Errorf("%w: tags: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("%w: tags: %v", ErrUnavailable, err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (s *SQLiteStore) keysFor(ctx context.Context, tag string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM cs_tags WHERE tag = ?`, tag)
	if err != nil {
		return nil, fmt.Errorf("%w: keys: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("%w: keys: %v", ErrUnavailable, err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) allKeys(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: keys: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("%w: keys: %v", ErrUnavailable, err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
