package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/store"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithQuerier(mock), mock
}

func TestStore_GetFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	updated := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT key, value, updated_at FROM kv").
		WithArgs("job/1").
		WillReturnRows(pgxmock.NewRows([]string{"key", "value", "updated_at"}).
			AddRow("job/1", "alpha", updated))

	row, err := s.Get(context.Background(), "job/1")
	require.NoError(t, err)
	require.Equal(t, store.Row{Key: "job/1", Value: "alpha", UpdatedAt: updated}, row)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT key, value, updated_at FROM kv").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"key", "value", "updated_at"}))

	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SetUpserts(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO kv").
		WithArgs("job/1", "alpha").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Set(context.Background(), "job/1", "alpha"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM kv").
		WithArgs("job/1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, s.Delete(context.Background(), "job/1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListScansRows(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	updated := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT key, value, updated_at FROM kv WHERE key LIKE").
		WithArgs("job/").
		WillReturnRows(pgxmock.NewRows([]string{"key", "value", "updated_at"}).
			AddRow("job/a", "1", updated).
			AddRow("job/b", "2", updated))

	rows, err := s.List(context.Background(), "job/")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "job/a", rows[0].Key)
	require.Equal(t, "job/b", rows[1].Key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AcquireLeaseReportsOutcome(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO leases").
		WithArgs("cache-rebuild/files", "p1", float64(30)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO leases").
		WithArgs("cache-rebuild/files", "p2", float64(30)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ok, err := s.AcquireLease(context.Background(), "cache-rebuild/files", "p1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AcquireLease(context.Background(), "cache-rebuild/files", "p2", 30*time.Second)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ReleaseLease(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM leases").
		WithArgs("cache-rebuild/files", "p1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.ReleaseLease(context.Background(), "cache-rebuild/files", "p1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
