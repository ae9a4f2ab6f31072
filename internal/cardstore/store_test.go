package cardstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"cardql/internal/dbexec"
	"cardql/internal/jsonschema"
	"cardql/internal/logging"
	"cardql/internal/planner"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const userSchema = `{
	"type": "object",
	"properties": {"type": {"const": "user@1.0.0"}},
	"required": ["type"]
}`

type fixture struct {
	store *Store
	mock  sqlmock.Sqlmock
	spans *tracetest.SpanRecorder
	logs  *bytes.Buffer
	cfg   Config
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	logs := &bytes.Buffer{}
	store := New(dbexec.NewPoolExecutor(db), cfg,
		WithTracer(provider.Tracer("test")),
		WithLogger(logging.NewLogger(logging.Config{Level: "debug", Format: "json", Output: logs})),
	)
	store.newID = func() string { return "query-1" }
	return &fixture{store: store, mock: mock, spans: spans, logs: logs, cfg: cfg}
}

func mustParse(t *testing.T, doc string) *jsonschema.Schema {
	t.Helper()
	schema, err := ParseSchema([]byte(doc))
	require.NoError(t, err)
	return schema
}

func (f *fixture) expected(t *testing.T, schema *jsonschema.Schema, opts planner.Options) *planner.CompiledQuery {
	t.Helper()
	compiled, err := planner.Compile(schema, f.cfg.ApplyPolicy(opts), f.store.compileOptions()...)
	require.NoError(t, err)
	return compiled
}

func TestQueryDecodesPayloads(t *testing.T) {
	f := newFixture(t, Config{DefaultLimit: 10, MaxLimit: 50})
	schema := mustParse(t, userSchema)
	want := f.expected(t, schema, planner.Options{})
	assert.Contains(t, want.SQL, "LIMIT 10")

	f.mock.ExpectQuery(want.SQL).
		WithArgs("user@1.0.0").
		WillReturnRows(sqlmock.NewRows([]string{planner.PayloadColumn}).
			AddRow([]byte(`{"slug":"user-a","type":"user@1.0.0","data":{"n":1}}`)).
			AddRow([]byte(`{"slug":"user-b","type":"user@1.0.0"}`)))

	res, err := f.store.Query(context.Background(), schema, planner.Options{})
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())

	assert.Equal(t, "query-1", res.QueryID)
	require.Len(t, res.Cards, 2)
	assert.Equal(t, "user-a", res.Cards[0]["slug"])
	assert.Equal(t, map[string]any{"n": float64(1)}, res.Cards[0]["data"])
	assert.Equal(t, want.SQL, res.Compiled.SQL)

	names := map[string]bool{}
	for _, span := range f.spans.Ended() {
		names[span.Name()] = true
		assert.Equal(t, codes.Ok, span.Status().Code, span.Name())
	}
	assert.True(t, names["cardql.compile"])
	assert.True(t, names["cardql.query"])
	assert.Contains(t, f.logs.String(), `"msg":"schema compiled"`)
	assert.Contains(t, f.logs.String(), `"query_id":"query-1"`)
}

func TestQueryEmptyResult(t *testing.T) {
	f := newFixture(t, Config{})
	schema := mustParse(t, userSchema)
	want := f.expected(t, schema, planner.Options{})

	f.mock.ExpectQuery(want.SQL).
		WithArgs("user@1.0.0").
		WillReturnRows(sqlmock.NewRows([]string{planner.PayloadColumn}))

	res, err := f.store.Query(context.Background(), schema, planner.Options{})
	require.NoError(t, err)
	assert.NotNil(t, res.Cards)
	assert.Empty(t, res.Cards)
}

func TestQueryKeepsContextQueryID(t *testing.T) {
	f := newFixture(t, Config{})
	schema := mustParse(t, userSchema)
	want := f.expected(t, schema, planner.Options{})
	f.mock.ExpectQuery(want.SQL).
		WithArgs("user@1.0.0").
		WillReturnRows(sqlmock.NewRows([]string{planner.PayloadColumn}))

	ctx := logging.WithQueryIDContext(context.Background(), "from-caller")
	res, err := f.store.Query(ctx, schema, planner.Options{})
	require.NoError(t, err)
	assert.Equal(t, "from-caller", res.QueryID)
}

func TestQueryCompileFailure(t *testing.T) {
	f := newFixture(t, Config{})
	schema := mustParse(t, userSchema)

	_, err := f.store.Query(context.Background(), schema, planner.Options{SortDir: "sideways"})
	require.Error(t, err)
	assert.ErrorIs(t, err, planner.ErrInvalidOptions)
	assert.Contains(t, f.logs.String(), `"msg":"schema compilation failed"`)
	assert.Contains(t, f.logs.String(), `"kind":"invalid_options"`)
	require.NoError(t, f.mock.ExpectationsWereMet())

	spans := f.spans.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "cardql.compile", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestQueryDocumentRejectsInvalidSchema(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.store.QueryDocument(context.Background(), []byte(`{"properties": {"data": {"type": "widget"}}}`), planner.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, jsonschema.ErrInvalidSchema)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestQueryExecutionFailure(t *testing.T) {
	f := newFixture(t, Config{})
	schema := mustParse(t, userSchema)
	want := f.expected(t, schema, planner.Options{})
	f.mock.ExpectQuery(want.SQL).
		WithArgs("user@1.0.0").
		WillReturnError(errors.New("relation \"cards\" does not exist"))

	_, err := f.store.Query(context.Background(), schema, planner.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute card query")
	assert.Contains(t, f.logs.String(), `"msg":"card query failed"`)
	assert.Contains(t, f.logs.String(), `"level":"ERROR"`)
}

func TestQueryRejectsBadPayload(t *testing.T) {
	f := newFixture(t, Config{})
	schema := mustParse(t, userSchema)
	want := f.expected(t, schema, planner.Options{})
	f.mock.ExpectQuery(want.SQL).
		WithArgs("user@1.0.0").
		WillReturnRows(sqlmock.NewRows([]string{planner.PayloadColumn}).AddRow([]byte(`not json`)))

	_, err := f.store.Query(context.Background(), schema, planner.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode payload column")
}

func TestQueryDocumentAcceptsYAML(t *testing.T) {
	f := newFixture(t, Config{})
	doc := "type: object\nproperties:\n  type:\n    const: user@1.0.0\nrequired: [type]\n"
	want := f.expected(t, mustParse(t, doc), planner.Options{})
	assert.Equal(t, f.expected(t, mustParse(t, userSchema), planner.Options{}).SQL, want.SQL)

	f.mock.ExpectQuery(want.SQL).
		WithArgs("user@1.0.0").
		WillReturnRows(sqlmock.NewRows([]string{planner.PayloadColumn}).AddRow([]byte(`{"slug":"u"}`)))

	res, err := f.store.QueryDocument(context.Background(), []byte(doc), planner.Options{})
	require.NoError(t, err)
	require.Len(t, res.Cards, 1)
}

func TestQueryWithoutExecutor(t *testing.T) {
	store := New(nil, Config{})
	_, err := store.Query(context.Background(), mustParse(t, userSchema), planner.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no executor")
}

func TestApplyPolicy(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		in   planner.Options
		want planner.Options
	}{
		{"default limit", Config{DefaultLimit: 100}, planner.Options{}, planner.Options{Limit: 100}},
		{"explicit limit kept", Config{DefaultLimit: 100, MaxLimit: 500}, planner.Options{Limit: 20}, planner.Options{Limit: 20}},
		{"capped", Config{MaxLimit: 500}, planner.Options{Limit: 9000}, planner.Options{Limit: 500}},
		{"unbounded default capped", Config{MaxLimit: 500}, planner.Options{}, planner.Options{Limit: 500}},
		{"no policy", Config{}, planner.Options{Skip: 3}, planner.Options{Skip: 3}},
		{
			"link limits capped",
			Config{MaxLimit: 5},
			planner.Options{Limit: 1, Links: map[string]planner.Options{"has member": {Limit: 10}, "owns": {}}},
			planner.Options{Limit: 1, Links: map[string]planner.Options{"has member": {Limit: 5}, "owns": {}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.ApplyPolicy(tt.in))
		})
	}
}

func TestApplyPolicyDoesNotMutateInput(t *testing.T) {
	in := planner.Options{Links: map[string]planner.Options{"owns": {Limit: 10}}}
	Config{MaxLimit: 2}.ApplyPolicy(in)
	assert.Equal(t, 10, in.Links["owns"].Limit)
}

func TestCompileEnforcesLinkLimits(t *testing.T) {
	f := newFixture(t, Config{Limits: planner.PlanLimits{MaxLinks: 1}})
	schema := mustParse(t, `{
		"$$links": {
			"is member of": {"type": "object"},
			"has attached element": {"type": "object"}
		}
	}`)
	_, err := f.store.Compile(context.Background(), schema, planner.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, planner.ErrLimitExceeded)
	assert.Equal(t, "limit_exceeded", ErrorKind(err))
}

func TestErrorKind(t *testing.T) {
	tests := map[string]error{
		"":                nil,
		"invalid_schema":  jsonschema.Errorf("/type", "bad"),
		"invalid_options": planner.ErrInvalidOptions,
		"limit_exceeded":  planner.ErrLimitExceeded,
		"canceled":        context.Canceled,
		"internal":        errors.New("boom"),
	}
	for want, err := range tests {
		assert.Equal(t, want, ErrorKind(err))
	}
}

func TestParseSchema(t *testing.T) {
	s, err := ParseSchema([]byte(" true "))
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = ParseSchema([]byte("{not json"))
	assert.ErrorIs(t, err, jsonschema.ErrInvalidSchema)
}

type brokenRows struct{ err error }

func (r brokenRows) Next() bool { return false }
func (r brokenRows) Scan(...any) error { return nil }
func (r brokenRows) Err() error { return r.err }
func (r brokenRows) Close() error { return nil }

func TestQueryReportsRowErrors(t *testing.T) {
	var gotSQL string
	executor := dbexec.QueryExecutorFunc(func(_ context.Context, query string, _ ...any) (dbexec.Rows, error) {
		gotSQL = query
		return brokenRows{err: errors.New("connection reset")}, nil
	})
	store := New(executor, Config{}, WithLogger(logging.NewLogger(logging.Config{Output: io.Discard})))

	_, err := store.Query(context.Background(), mustParse(t, userSchema), planner.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read card rows")
	assert.Contains(t, gotSQL, `FROM "cards" AS "cards"`)
}
