// Package postgres provides a Postgres-backed store for deployments where
// worker processes share a database instead of a local sqlite file.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/store"
)

// Querier is the subset of pgxpool.Pool the store uses; tests substitute
// a pgxmock pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements store.Store over Postgres.
type Store struct {
	db Querier
}

// New connects a pool and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	s := &Store{db: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithQuerier wires an existing connection source; used by tests.
func NewWithQuerier(db Querier) *Store {
	return &Store{db: db}
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS leases (
		name        TEXT PRIMARY KEY,
		owner       TEXT NOT NULL,
		acquired_at TIMESTAMPTZ NOT NULL,
		expires_at  TIMESTAMPTZ NOT NULL
	);`
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Get loads a row or returns store.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (store.Row, error) {
	var row store.Row
	err := s.db.QueryRow(ctx,
		`SELECT key, value, updated_at FROM kv WHERE key = $1`, key,
	).Scan(&row.Key, &row.Value, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Row{}, store.ErrNotFound
	}
	if err != nil {
		return store.Row{}, fmt.Errorf("get %q: %w", key, err)
	}
	return row, nil
}

// Set inserts or replaces a row.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Delete removes a row.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// List returns rows matching the prefix in key order.
func (s *Store) List(ctx context.Context, prefix string) ([]store.Row, error) {
	rows, err := s.db.Query(ctx,
		`SELECT key, value, updated_at FROM kv WHERE key LIKE $1 || '%' ORDER BY key`,
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	defer rows.Close()
	var out []store.Row
	for rows.Next() {
		var row store.Row
		if err := rows.Scan(&row.Key, &row.Value, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// AcquireLease claims the named lease when absent, expired, or already
// held by owner. The conditional upsert is atomic on the server.
func (s *Store) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO leases (name, owner, acquired_at, expires_at)
		 VALUES ($1, $2, now(), now() + make_interval(secs => $3))
		 ON CONFLICT (name) DO UPDATE
		 SET owner = EXCLUDED.owner, acquired_at = EXCLUDED.acquired_at, expires_at = EXCLUDED.expires_at
		 WHERE leases.expires_at <= now() OR leases.owner = EXCLUDED.owner`,
		name, owner, ttl.Seconds(),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseLease frees the lease if owner still holds it.
func (s *Store) ReleaseLease(ctx context.Context, name, owner string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM leases WHERE name = $1 AND owner = $2`, name, owner,
	)
	if err != nil {
		return fmt.Errorf("release lease %q: %w", name, err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}
