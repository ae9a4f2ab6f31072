// Package dbexec runs compiled card queries over database/sql with the pgx
// PostgreSQL driver.
package dbexec

import (
	"context"
	"database/sql"
)

// Rows is the subset of *sql.Rows the card store reads. Implementations may
// release extra resources, such as a transaction, on Close.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// QueryExecutor runs a single read query.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
}

// QueryExecutorFunc adapts a function to QueryExecutor.
type QueryExecutorFunc func(ctx context.Context, query string, args ...any) (Rows, error)

func (f QueryExecutorFunc) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	return f(ctx, query, args...)
}

var (
	_ QueryExecutor = (*PoolExecutor)(nil)
	_ QueryExecutor = (*SessionExecutor)(nil)
)

// PoolExecutor sends each query straight to the connection pool.
type PoolExecutor struct {
	db *sql.DB
}

// NewPoolExecutor creates a PoolExecutor over db.
func NewPoolExecutor(db *sql.DB) *PoolExecutor {
	return &PoolExecutor{db: db}
}

func (e *PoolExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.QueryContext(ctx, query, args...)
}
