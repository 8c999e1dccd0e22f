package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "maintainer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Set(ctx, "job/1", "alpha"))
	require.NoError(t, s.Set(ctx, "job/1", "beta"))

	row, err := s.Get(ctx, "job/1")
	require.NoError(t, err)
	require.Equal(t, "beta", row.Value)
	require.False(t, row.UpdatedAt.IsZero())

	require.NoError(t, s.Delete(ctx, "job/1"))
	require.NoError(t, s.Delete(ctx, "job/1"))
	_, err = s.Get(ctx, "job/1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_ListPrefix(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "job/b", "2"))
	require.NoError(t, s.Set(ctx, "job/a", "1"))
	require.NoError(t, s.Set(ctx, "jobx", "decoy"))
	require.NoError(t, s.Set(ctx, "pref/theme", "dark"))

	rows, err := s.List(ctx, "job/")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "job/a", rows[0].Key)
	require.Equal(t, "job/b", rows[1].Key)
}

func TestStore_LeaseExclusionAndExpiry(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireLease(ctx, "cache-rebuild/files", "p1", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AcquireLease(ctx, "cache-rebuild/files", "p2", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	// The holder extends by re-acquiring.
	ok, err = s.AcquireLease(ctx, "cache-rebuild/files", "p1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.ReleaseLease(ctx, "cache-rebuild/files", "p1"))
	ok, err = s.AcquireLease(ctx, "cache-rebuild/files", "p2", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	// A crashed holder's lease expires on its own.
	time.Sleep(20 * time.Millisecond)
	ok, err = s.AcquireLease(ctx, "cache-rebuild/files", "p3", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStore_ReleaseByNonOwnerKeepsLease(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireLease(ctx, "cache-rebuild/files", "p1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.ReleaseLease(ctx, "cache-rebuild/files", "p2"))

	ok, err = s.AcquireLease(ctx, "cache-rebuild/files", "p3", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}
