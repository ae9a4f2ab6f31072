package dbexec

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"cardql/internal/logging"

	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v5/stdlib"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DriverName is the database/sql driver registered by pgx's stdlib package.
const DriverName = "pgx"

const maxRetryInterval = 30 * time.Second

// OpenConfig describes how to open and instrument the card database.
type OpenConfig struct {
	DSN         string
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration

	// ConnectTimeout bounds the startup wait. Zero pings once and fails fast.
	ConnectTimeout time.Duration
	RetryInterval  time.Duration

	Tracing      bool
	Metrics      bool
	SQLCommenter bool
}

// Database is an open, verified database handle.
type Database struct {
	DB    *sql.DB
	stats interface{ Unregister() error }
}

// Close releases the pool and any metric registration.
func (d *Database) Close() error {
	if d.stats != nil {
		_ = d.stats.Unregister()
	}
	return d.DB.Close()
}

// Open opens the pool with otelsql instrumentation when tracing or metrics are on,
// applies pool settings, and waits for the database to answer.
func Open(ctx context.Context, cfg OpenConfig, logger *logging.Logger) (*Database, error) {
	db, stats, err := connect(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	handle := &Database{DB: db, stats: stats}

	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	if err := WaitForDatabase(ctx, db, cfg.ConnectTimeout, cfg.RetryInterval, logger); err != nil {
		_ = handle.Close()
		return nil, err
	}
	return handle, nil
}

func connect(cfg OpenConfig, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	if !cfg.Metrics && !cfg.Tracing {
		db, err := sql.Open(DriverName, cfg.DSN)
		return db, nil, err
	}

	opts := []otelsql.Option{otelsql.WithAttributes(semconv.DBSystemPostgreSQL)}
	if cfg.Tracing {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
	}
	switch {
	case cfg.SQLCommenter && cfg.Tracing:
		opts = append(opts, otelsql.WithSQLCommenter(true))
	case cfg.SQLCommenter:
		logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
	}

	db, err := otelsql.Open(DriverName, cfg.DSN, opts...)
	if err != nil {
		return nil, nil, err
	}

	var stats interface{ Unregister() error }
	if cfg.Metrics {
		stats, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemPostgreSQL))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
			stats = nil
		}
	}

	logger.Debug("database instrumentation enabled",
		slog.Bool("metrics", cfg.Metrics),
		slog.Bool("tracing", cfg.Tracing),
		slog.Bool("sqlcommenter", cfg.SQLCommenter && cfg.Tracing),
	)
	return db, stats, nil
}

// Pinger is the part of *sql.DB used to probe availability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// WaitForDatabase pings db until it answers, backing off exponentially
// (capped at 30s) until timeout elapses. A zero timeout pings once.
func WaitForDatabase(ctx context.Context, db Pinger, timeout, interval time.Duration, logger *logging.Logger) error {
	if timeout <= 0 {
		return db.PingContext(ctx)
	}
	if interval <= 0 {
		interval = time.Second
	}

	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		interval = min(interval*2, maxRetryInterval)
	}
}
