package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// SessionExecutor runs each query in its own read-only transaction, applying
// SET LOCAL role and statement_timeout first. The settings end with the transaction.
type SessionExecutor struct {
	db               *sql.DB
	role             string
	statementTimeout time.Duration
}

// SessionConfig controls session executor behavior.
type SessionConfig struct {
	DB               *sql.DB
	Role             string
	StatementTimeout time.Duration
}

// NewSessionExecutor creates an executor that scopes role and timeout to each query.
func NewSessionExecutor(cfg SessionConfig) *SessionExecutor {
	return &SessionExecutor{
		db:               cfg.DB,
		role:             cfg.Role,
		statementTimeout: cfg.StatementTimeout,
	}
}

// NewExecutor returns a PoolExecutor when no session settings are needed.
func NewExecutor(cfg SessionConfig) QueryExecutor {
	if cfg.Role == "" && cfg.StatementTimeout <= 0 {
		return NewPoolExecutor(cfg.DB)
	}
	return NewSessionExecutor(cfg)
}

func (e *SessionExecutor) sessionStatements() []string {
	var stmts []string
	if e.role != "" {
		// SET does not accept bind parameters.
		stmts = append(stmts, "SET LOCAL ROLE "+pgx.Identifier{e.role}.Sanitize())
	}
	if e.statementTimeout > 0 {
		stmts = append(stmts, fmt.Sprintf("SET LOCAL statement_timeout = %d", e.statementTimeout.Milliseconds()))
	}
	return stmts
}

func (e *SessionExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, stmt := range e.sessionStatements() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("failed to apply %q: %w", stmt, err)
		}
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return &txRows{Rows: rows, tx: tx}, nil
}

// txRows ends the read-only transaction when the rows are closed.
type txRows struct {
	*sql.Rows
	tx *sql.Tx
}

func (r *txRows) Close() error {
	err := r.Rows.Close()
	if rbErr := r.tx.Rollback(); err == nil && rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
		err = rbErr
	}
	return err
}
