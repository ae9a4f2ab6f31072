package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"cardql/internal/logging"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func quietLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Output: io.Discard})
}

func TestPoolExecutor(t *testing.T) {
	_, err := NewPoolExecutor(nil).QueryContext(context.Background(), "SELECT 1")
	require.ErrorIs(t, err, sql.ErrConnDone)

	db, mock := newMock(t)
	mock.ExpectQuery("SELECT $1::int").WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(7))

	rows, err := NewPoolExecutor(db).QueryContext(context.Background(), "SELECT $1::int", 7)
	require.NoError(t, err)
	require.True(t, rows.Next())
	var n int
	require.NoError(t, rows.Scan(&n))
	assert.Equal(t, 7, n)
	require.NoError(t, rows.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewExecutorSelectsSessionWhenNeeded(t *testing.T) {
	assert.IsType(t, &PoolExecutor{}, NewExecutor(SessionConfig{}))
	assert.IsType(t, &SessionExecutor{}, NewExecutor(SessionConfig{Role: "reader"}))
	assert.IsType(t, &SessionExecutor{}, NewExecutor(SessionConfig{StatementTimeout: time.Second}))
}

func TestSessionExecutorAppliesSettings(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL ROLE "card""reader"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET LOCAL statement_timeout = 1500`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT "payload" FROM cards`).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(`{}`))
	mock.ExpectRollback()

	exec := NewSessionExecutor(SessionConfig{DB: db, Role: `card"reader`, StatementTimeout: 1500 * time.Millisecond})
	rows, err := exec.QueryContext(context.Background(), `SELECT "payload" FROM cards`)
	require.NoError(t, err)
	for rows.Next() {
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionExecutorRollsBackOnFailure(t *testing.T) {
	t.Run("setting rejected", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`SET LOCAL ROLE "ghost"`).WillReturnError(errors.New(`role "ghost" does not exist`))
		mock.ExpectRollback()

		_, err := NewSessionExecutor(SessionConfig{DB: db, Role: "ghost"}).QueryContext(context.Background(), "SELECT 1")
		require.ErrorContains(t, err, `failed to apply "SET LOCAL ROLE \"ghost\""`)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query rejected", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`SET LOCAL statement_timeout = 10`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT broken").WillReturnError(errors.New("syntax error"))
		mock.ExpectRollback()

		_, err := NewSessionExecutor(SessionConfig{DB: db, StatementTimeout: 10 * time.Millisecond}).
			QueryContext(context.Background(), "SELECT broken")
		require.EqualError(t, err, "syntax error")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin rejected", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		_, err := NewSessionExecutor(SessionConfig{DB: db, Role: "r"}).QueryContext(context.Background(), "SELECT 1")
		require.ErrorContains(t, err, "failed to begin transaction")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

type flakyPinger struct {
	failures int32
	calls    atomic.Int32
}

func (p *flakyPinger) PingContext(context.Context) error {
	if p.calls.Add(1) <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestWaitForDatabase(t *testing.T) {
	ctx := context.Background()

	p := &flakyPinger{failures: 2}
	require.NoError(t, WaitForDatabase(ctx, p, time.Second, time.Millisecond, quietLogger()))
	assert.Equal(t, int32(3), p.calls.Load())

	p = &flakyPinger{failures: 1}
	require.Error(t, WaitForDatabase(ctx, p, 0, time.Millisecond, quietLogger()), "zero timeout pings once")
	assert.Equal(t, int32(1), p.calls.Load())

	p = &flakyPinger{failures: 1 << 30}
	err := WaitForDatabase(ctx, p, 5*time.Millisecond, time.Millisecond, quietLogger())
	require.ErrorContains(t, err, "database not available after 5ms")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = WaitForDatabase(cancelled, &flakyPinger{failures: 1 << 30}, time.Hour, time.Hour, quietLogger())
	require.ErrorIs(t, err, context.Canceled)
}

func TestWaitForDatabaseWithSQLMock(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true), sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mock.ExpectPing().WillReturnError(errors.New("starting up"))
	mock.ExpectPing()

	require.NoError(t, WaitForDatabase(context.Background(), db, time.Second, time.Millisecond, quietLogger()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenFailsWhenUnreachable(t *testing.T) {
	_, err := Open(context.Background(), OpenConfig{
		DSN:          "postgres://cardql@127.0.0.1:1/cards?sslmode=disable&connect_timeout=1",
		MaxOpen:      1,
		Tracing:      true,
		Metrics:      true,
		SQLCommenter: true,
	}, quietLogger())
	require.Error(t, err)
}
