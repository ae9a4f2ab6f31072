// Package cardstore compiles card queries and runs them against PostgreSQL.
package cardstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cardql/internal/dbexec"
	"cardql/internal/jsonschema"
	"cardql/internal/logging"
	"cardql/internal/observability"
	"cardql/internal/planner"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the query policy applied to every request.
type Config struct {
	// DefaultLimit is used when a request sets no limit. Zero leaves the
	// result unbounded.
	DefaultLimit int
	// MaxLimit caps every requested limit, including linked collections.
	MaxLimit int
	// TextSearchConfig is passed to the compiler for $$fullTextSearch.
	TextSearchConfig string
	// Limits bounds the link cost of a query.
	Limits planner.PlanLimits
}

// Store compiles schemas and executes them through a QueryExecutor.
type Store struct {
	executor dbexec.QueryExecutor
	cfg      Config
	logger   *logging.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	newID    func() string
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the base logger. Without it the logger stored in the
// request context is used.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithMetrics records compile and query metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Store) { s.metrics = metrics }
}

// WithTracer overrides the global tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Store) { s.tracer = tracer }
}

// New creates a Store.
func New(executor dbexec.QueryExecutor, cfg Config, opts ...Option) *Store {
	s := &Store{
		executor: executor,
		cfg:      cfg,
		tracer:   otel.Tracer(observability.InstrumentationName + "/cardstore"),
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is the outcome of one query.
type Result struct {
	QueryID  string
	Cards    []map[string]any
	Compiled *planner.CompiledQuery
}

// ApplyPolicy fills in the default limit and caps limits at the configured
// maximum, recursively through linked collections.
func (c Config) ApplyPolicy(opts planner.Options) planner.Options {
	if opts.Limit == 0 {
		opts.Limit = c.DefaultLimit
	}
	if c.MaxLimit > 0 && (opts.Limit == 0 || opts.Limit > c.MaxLimit) {
		opts.Limit = c.MaxLimit
	}
	if len(opts.Links) > 0 {
		links := make(map[string]planner.Options, len(opts.Links))
		for linkType, linkOpts := range opts.Links {
			if c.MaxLimit > 0 && linkOpts.Limit > c.MaxLimit {
				linkOpts.Limit = c.MaxLimit
			}
			links[linkType] = linkOpts
		}
		opts.Links = links
	}
	return opts
}

func (s *Store) compileOptions() []planner.CompileOption {
	copts := []planner.CompileOption{planner.WithLimits(s.cfg.Limits)}
	if strings.TrimSpace(s.cfg.TextSearchConfig) != "" {
		copts = append(copts, planner.WithTextSearchConfig(s.cfg.TextSearchConfig))
	}
	return copts
}

func (s *Store) loggerFor(ctx context.Context) *logging.Logger {
	if s.logger != nil {
		return s.logger
	}
	return logging.FromContext(ctx)
}

// Compile applies the query policy and compiles schema without executing it.
func (s *Store) Compile(ctx context.Context, schema *jsonschema.Schema, opts planner.Options) (*planner.CompiledQuery, error) {
	ctx, span := s.tracer.Start(ctx, "cardql.compile")
	defer span.End()

	logger := s.loggerFor(ctx)
	if id := logging.QueryID(ctx); id != "" {
		logger = logger.WithQueryID(id)
	}

	start := time.Now()
	compiled, err := planner.Compile(schema, s.cfg.ApplyPolicy(opts), s.compileOptions()...)
	if err != nil {
		kind := ErrorKind(err)
		s.metrics.RecordCompile(ctx, time.Since(start), 0, kind)
		finishSpan(span, err)
		span.SetAttributes(attribute.String("cardql.error.kind", kind))

		attrs := []any{"error", err, "kind", kind}
		var schemaErr *jsonschema.InvalidSchemaError
		if errors.As(err, &schemaErr) {
			attrs = append(attrs, "pointer", schemaErr.Pointer)
		}
		logger.Warn("schema compilation failed", attrs...)
		return nil, err
	}

	s.metrics.RecordCompile(ctx, time.Since(start), compiled.Cost.Links, "")
	span.SetAttributes(
		attribute.Bool("cardql.has_links", compiled.HasLinks),
		attribute.Int("cardql.links", compiled.Cost.Links),
		attribute.Int("cardql.link_depth", compiled.Cost.LinkDepth),
	)
	finishSpan(span, nil)
	logger.Debug("schema compiled",
		"sql", compiled.SQL,
		"args", len(compiled.Args),
		"has_links", compiled.HasLinks,
	)
	return compiled, nil
}

// Query compiles schema and returns every matching card as decoded JSON.
func (s *Store) Query(ctx context.Context, schema *jsonschema.Schema, opts planner.Options) (*Result, error) {
	queryID := logging.QueryID(ctx)
	if queryID == "" {
		queryID = s.newID()
		ctx = logging.WithQueryIDContext(ctx, queryID)
	}

	compiled, err := s.Compile(ctx, schema, opts)
	if err != nil {
		return nil, err
	}

	cards, err := s.execute(ctx, compiled)
	if err != nil {
		s.loggerFor(ctx).WithQueryID(queryID).Error("card query failed",
			"error", err,
			"has_links", compiled.HasLinks,
		)
		return nil, err
	}
	return &Result{QueryID: queryID, Cards: cards, Compiled: compiled}, nil
}

// QueryDocument parses a JSON or YAML schema document and runs it.
func (s *Store) QueryDocument(ctx context.Context, document []byte, opts planner.Options) (*Result, error) {
	schema, err := ParseSchema(document)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, schema, opts)
}

func (s *Store) execute(ctx context.Context, compiled *planner.CompiledQuery) (cards []map[string]any, err error) {
	ctx, span := s.tracer.Start(ctx, "cardql.query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Bool("cardql.has_links", compiled.HasLinks)),
	)
	start := time.Now()
	defer func() {
		s.metrics.RecordQuery(ctx, time.Since(start), len(cards), compiled.HasLinks, err)
		if err == nil {
			span.SetAttributes(attribute.Int("cardql.rows", len(cards)))
		}
		finishSpan(span, err)
		span.End()
	}()

	if s.executor == nil {
		return nil, errors.New("card store has no executor")
	}
	rows, err := s.executor.QueryContext(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute card query: %w", err)
	}
	defer rows.Close()

	cards = []map[string]any{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		card, err := decodePayload(payload)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read card rows: %w", err)
	}
	return cards, nil
}

func decodePayload(payload []byte) (map[string]any, error) {
	if len(payload) == 0 {
		return map[string]any{}, nil
	}
	var card map[string]any
	if err := json.Unmarshal(payload, &card); err != nil {
		return nil, fmt.Errorf("failed to decode %s column: %w", planner.PayloadColumn, err)
	}
	if card == nil {
		card = map[string]any{}
	}
	return card, nil
}

// ParseSchema decodes a schema document. Documents starting with '{' or
// a boolean are read as JSON, anything else as YAML.
func ParseSchema(document []byte) (*jsonschema.Schema, error) {
	trimmed := strings.TrimSpace(string(document))
	if strings.HasPrefix(trimmed, "{") || trimmed == "true" || trimmed == "false" {
		return jsonschema.Parse(document)
	}
	return jsonschema.ParseYAML(document)
}

// ErrorKind classifies an error for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, jsonschema.ErrInvalidSchema):
		return "invalid_schema"
	case errors.Is(err, planner.ErrInvalidOptions):
		return "invalid_options"
	case errors.Is(err, planner.ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
