package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"cardql/internal/cardstore"
	"cardql/internal/config"
	"cardql/internal/dbexec"
	"cardql/internal/logging"
	"cardql/internal/observability"
	"cardql/internal/planner"
)

const shutdownTimeout = 10 * time.Second

// app owns the logger, telemetry providers and, for commands that
// execute queries, the database.
type app struct {
	cfg            *config.Config
	logger         *logging.Logger
	loggerProvider *observability.LoggerProvider
	tracerProvider *observability.TracerProvider
	meterProvider  *observability.MeterProvider
	metrics        *observability.Metrics
	db             *dbexec.Database
}

func observabilityConfig(cfg *config.Config) observability.Config {
	otlp := cfg.Observability.OTLP
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          otlp.Endpoint,
			Protocol:          otlp.Protocol,
			Insecure:          otlp.Insecure,
			TLSCertFile:       otlp.TLSCertFile,
			TLSClientCertFile: otlp.TLSClientCertFile,
			TLSClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:           otlp.Headers,
			Timeout:           otlp.Timeout,
			Compression:       otlp.Compression,
			RetryEnabled:      otlp.RetryEnabled,
		},
	}
}

func newApp(ctx context.Context, cfg *config.Config, logOutput io.Writer) (*app, error) {
	a := &app{cfg: cfg}
	obsCfg := observabilityConfig(cfg)

	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: logOutput,
	}
	if cfg.Observability.Logging.ExportsEnabled {
		lp, err := observability.InitLoggerProvider(ctx, obsCfg)
		if err != nil {
			return nil, err
		}
		a.loggerProvider = lp
		loggerCfg.LoggerProvider = lp.Provider()
	}
	a.logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(a.logger.Logger)

	if cfg.Observability.TracingEnabled {
		a.logger.Info("initializing OpenTelemetry tracing",
			slog.String("otlp_endpoint", cfg.Observability.OTLP.Endpoint),
			slog.String("otlp_protocol", cfg.Observability.OTLP.Protocol),
			slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
		)
		tp, err := observability.InitTracerProvider(ctx, obsCfg)
		if err != nil {
			_ = a.close()
			return nil, err
		}
		a.tracerProvider = tp
	}

	if cfg.Observability.MetricsEnabled {
		mp, err := observability.InitMeterProvider(obsCfg)
		if err != nil {
			_ = a.close()
			return nil, err
		}
		a.meterProvider = mp
		metrics, err := observability.NewMetrics(mp.Meter())
		if err != nil {
			_ = a.close()
			return nil, err
		}
		a.metrics = metrics
	}
	return a, nil
}

// openDatabase connects and waits for the database according to config.
func (a *app) openDatabase(ctx context.Context) error {
	dbCfg := a.cfg.Database
	db, err := dbexec.Open(ctx, dbexec.OpenConfig{
		DSN:            dbCfg.DSN(),
		MaxOpen:        dbCfg.Pool.MaxOpen,
		MaxIdle:        dbCfg.Pool.MaxIdle,
		MaxLifetime:    dbCfg.Pool.MaxLifetime,
		ConnectTimeout: dbCfg.ConnectionTimeout,
		RetryInterval:  dbCfg.ConnectionRetryInterval,
		Tracing:        a.cfg.Observability.TracingEnabled,
		Metrics:        a.cfg.Observability.MetricsEnabled,
		SQLCommenter:   a.cfg.Observability.SQLCommenterEnabled,
	}, a.logger)
	if err != nil {
		return err
	}
	a.db = db
	return nil
}

// store builds a card store. Without an open database it can only compile.
func (a *app) store() *cardstore.Store {
	var executor dbexec.QueryExecutor
	if a.db != nil {
		executor = dbexec.NewExecutor(dbexec.SessionConfig{
			DB:               a.db.DB,
			Role:             a.cfg.Database.Role,
			StatementTimeout: a.cfg.Database.StatementTimeout,
		})
	}
	return cardstore.New(executor, storeConfig(a.cfg),
		cardstore.WithLogger(a.logger),
		cardstore.WithMetrics(a.metrics),
	)
}

func storeConfig(cfg *config.Config) cardstore.Config {
	return cardstore.Config{
		DefaultLimit:     cfg.Query.DefaultLimit,
		MaxLimit:         cfg.Query.MaxLimit,
		TextSearchConfig: cfg.Query.TextSearchConfig,
		Limits: planner.PlanLimits{
			MaxLinks:     cfg.Query.MaxLinks,
			MaxLinkDepth: cfg.Query.MaxLinkDepth,
		},
	}
}

// close releases the database, writes the metrics file and flushes telemetry.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	var base *slog.Logger
	if a.logger != nil {
		base = a.logger.Logger
	} else {
		base = slog.Default()
	}
	if a.meterProvider != nil {
		if path := a.cfg.Observability.MetricsFile; path != "" {
			if err := a.meterProvider.WriteTextfile(path); err != nil {
				base.Error("failed to write metrics file", slog.String("path", path), slog.String("error", err.Error()))
				errs = append(errs, err)
			}
		}
		errs = append(errs, a.meterProvider.Shutdown(ctx, base))
	}
	if a.tracerProvider != nil {
		errs = append(errs, a.tracerProvider.Shutdown(ctx, base))
	}
	if a.loggerProvider != nil {
		errs = append(errs, a.loggerProvider.Shutdown(ctx, base))
	}
	return errors.Join(errs...)
}
