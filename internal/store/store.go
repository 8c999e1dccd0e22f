// Package store declares the durable key-value contract shared by every
// persistence provider, including the TTL lease primitive used for
// cross-process mutual exclusion.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Row is one durable key-value entry.
type Row struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Store persists job records, preferences, the active-job pointer, and
// cache entries. Implementations must be safe for concurrent use.
type Store interface {
	// Get loads a row or returns ErrNotFound.
	Get(ctx context.Context, key string) (Row, error)
	// Set inserts or replaces a row.
	Set(ctx context.Context, key, value string) error
	// Delete removes a row; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns all rows whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Row, error)

	// AcquireLease claims the named lease for owner when it is free or
	// expired. It reports false, without error, when another live owner
	// holds it. Re-acquiring an owned lease extends it.
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	// ReleaseLease frees the lease if owner still holds it.
	ReleaseLease(ctx context.Context, name, owner string) error

	Close() error
}
