package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the compiler and card query instruments.
// A nil *Metrics records nothing.
type Metrics struct {
	compileDuration metric.Float64Histogram
	compileErrors   metric.Int64Counter
	compiledLinks   metric.Int64Histogram
	queryDuration   metric.Float64Histogram
	queryErrors     metric.Int64Counter
	rowsReturned    metric.Int64Histogram
}

// NewMetrics creates the cardql instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	compileDuration, err := meter.Float64Histogram(
		"cardql.compile.duration",
		metric.WithDescription("Time spent compiling a schema into SQL"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compile duration histogram: %w", err)
	}

	compileErrors, err := meter.Int64Counter(
		"cardql.compile.errors",
		metric.WithDescription("Schemas rejected by the compiler"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compile error counter: %w", err)
	}

	compiledLinks, err := meter.Int64Histogram(
		"cardql.compile.links",
		metric.WithDescription("Link traversals per compiled query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compiled links histogram: %w", err)
	}

	queryDuration, err := meter.Float64Histogram(
		"cardql.query.duration",
		metric.WithDescription("Time spent executing a compiled query and decoding its rows"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	queryErrors, err := meter.Int64Counter(
		"cardql.query.errors",
		metric.WithDescription("Compiled queries that failed during execution"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query error counter: %w", err)
	}

	rowsReturned, err := meter.Int64Histogram(
		"cardql.query.rows",
		metric.WithDescription("Cards returned per query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rows histogram: %w", err)
	}

	return &Metrics{
		compileDuration: compileDuration,
		compileErrors:   compileErrors,
		compiledLinks:   compiledLinks,
		queryDuration:   queryDuration,
		queryErrors:     queryErrors,
		rowsReturned:    rowsReturned,
	}, nil
}

// RecordCompile records one compilation. errorKind is empty on success.
func (m *Metrics) RecordCompile(ctx context.Context, duration time.Duration, links int, errorKind string) {
	if m == nil {
		return
	}
	ok := errorKind == ""
	m.compileDuration.Record(ctx, durationMillis(duration), metric.WithAttributes(attribute.Bool("success", ok)))
	if !ok {
		m.compileErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", errorKind)))
		return
	}
	m.compiledLinks.Record(ctx, int64(links))
}

// RecordQuery records one execution of a compiled query.
func (m *Metrics) RecordQuery(ctx context.Context, duration time.Duration, rows int, hasLinks bool, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("has_links", hasLinks), attribute.Bool("success", err == nil))
	m.queryDuration.Record(ctx, durationMillis(duration), attrs)
	if err != nil {
		m.queryErrors.Add(ctx, 1, metric.WithAttributes(attribute.Bool("has_links", hasLinks)))
		return
	}
	m.rowsReturned.Record(ctx, int64(rows), metric.WithAttributes(attribute.Bool("has_links", hasLinks)))
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
