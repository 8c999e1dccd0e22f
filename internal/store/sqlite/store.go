// Package sqlite provides the default single-host store. Multiple worker
// processes share one database file; WAL mode plus busy_timeout keeps
// writers from failing under contention.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/store"
)

// Store implements store.Store over a sqlite database file.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`PRAGMA synchronous=NORMAL;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}
	s := &Store{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS leases (
		name        TEXT PRIMARY KEY,
		owner       TEXT NOT NULL,
		acquired_at INTEGER NOT NULL,
		expires_at  INTEGER NOT NULL
	);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Get loads a row or returns store.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (store.Row, error) {
	var row store.Row
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT key, value, updated_at FROM kv WHERE key = ?`, key,
	).Scan(&row.Key, &row.Value, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Row{}, store.ErrNotFound
	}
	if err != nil {
		return store.Row{}, fmt.Errorf("get %q: %w", key, err)
	}
	row.UpdatedAt = time.Unix(0, updated).UTC()
	return row, nil
}

// Set inserts or replaces a row.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Delete removes a row.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// List returns rows matching the prefix in key order.
func (s *Store) List(ctx context.Context, prefix string) ([]store.Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM kv WHERE key >= ? AND key < ? ORDER BY key`,
		prefix, prefix+"\xff",
	)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	defer rows.Close()
	var out []store.Row
	for rows.Next() {
		var row store.Row
		var updated int64
		if err := rows.Scan(&row.Key, &row.Value, &updated); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// AcquireLease claims the named lease when it is absent, expired, or
// already held by owner. The conditional upsert keeps the check-and-claim
// atomic across processes.
func (s *Store) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC().UnixNano()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leases (name, owner, acquired_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE
		 SET owner = excluded.owner, acquired_at = excluded.acquired_at, expires_at = excluded.expires_at
		 WHERE leases.expires_at <= excluded.acquired_at OR leases.owner = excluded.owner`,
		name, owner, now, now+ttl.Nanoseconds(),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	return n > 0, nil
}

// ReleaseLease frees the lease if owner still holds it.
func (s *Store) ReleaseLease(ctx context.Context, name, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM leases WHERE name = ? AND owner = ?`, name, owner,
	)
	if err != nil {
		return fmt.Errorf("release lease %q: %w", name, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
