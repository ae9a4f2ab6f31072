package planner

import (
	"errors"
	"fmt"

	"cardql/internal/jsonschema"
	"cardql/internal/sqlast"

	sq "github.com/Masterminds/squirrel"
)

// DefaultTextSearchConfig is the text search configuration used by
// $$fullTextSearch unless overridden.
const DefaultTextSearchConfig = "english"

// CompiledQuery is the output of compiling a schema: one statement returning
// a single jsonb column named PayloadColumn per matching card.
type CompiledQuery struct {
	SQL  string
	Args []any
	// HasLinks reports whether the two-phase link plan was used.
	HasLinks bool
	// LinkAliases maps each traversed link path, link types joined by "/",
	// to the aliases of its occurrences.
	LinkAliases map[string][]string
	// Cost is the link cost checked against the configured limits.
	Cost PlanCost
	// Statement is the unrendered statement.
	Statement sq.SelectBuilder
}

type compileOptions struct {
	textSearchConfig string
	limits           *PlanLimits
}

// CompileOption customizes compilation.
type CompileOption func(*compileOptions)

// WithTextSearchConfig sets the text search configuration used by
// $$fullTextSearch.
func WithTextSearchConfig(name string) CompileOption {
	return func(o *compileOptions) {
		o.textSearchConfig = name
	}
}

// WithLimits enforces link cost limits.
func WithLimits(limits PlanLimits) CompileOption {
	return func(o *compileOptions) {
		o.limits = &limits
	}
}

// Compile translates schema into a query selecting every card that matches
// it, projected as the schema describes. Schema errors match
// jsonschema.ErrInvalidSchema and option errors match ErrInvalidOptions.
func Compile(schema *jsonschema.Schema, opts Options, copts ...CompileOption) (*CompiledQuery, error) {
	if schema == nil {
		return nil, errors.New("schema is required")
	}
	options := &compileOptions{textSearchConfig: DefaultTextSearchConfig}
	for _, opt := range copts {
		opt(options)
	}
	if err := opts.validate(""); err != nil {
		return nil, err
	}

	c := &compilation{
		links:            newLinkContext(rootAlias),
		textSearchConfig: options.textSearchConfig,
	}
	root, err := c.compile(NewCardPath(rootAlias), schema, false, opts.Links)
	if err != nil {
		return nil, err
	}

	cost := estimateCost(c.links)
	if options.limits != nil {
		if err := validateLimits(cost, *options.limits); err != nil {
			return nil, err
		}
	}

	plan := &queryPlan{filter: root.filter, selects: root.selects, links: c.links, options: opts}
	stmt, err := plan.build()
	if err != nil {
		return nil, err
	}
	query, args, err := sqlast.ToSQL(stmt)
	if err != nil {
		return nil, err
	}

	aliases := make(map[string][]string, len(c.links.all))
	for _, node := range c.links.all {
		aliases[node.path] = append(aliases[node.path], node.alias)
	}
	return &CompiledQuery{
		SQL:         query,
		Args:        args,
		HasLinks:    !c.links.root.empty(),
		LinkAliases: aliases,
		Cost:        cost,
		Statement:   stmt,
	}, nil
}

// CompileJSON parses a JSON schema document and compiles it.
func CompileJSON(data []byte, opts Options, copts ...CompileOption) (*CompiledQuery, error) {
	schema, err := jsonschema.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	return Compile(schema, opts, copts...)
}
