package planner

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"cardql/internal/cardschema"
	"cardql/internal/jsonschema"
	"cardql/internal/sqlast"
	"cardql/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// Every predicate in this file renders a boolean that is never NULL, so NOT
// obeys the negation law. Operands that may be NULL are wrapped with
// "IS TRUE".

func isTrue(sql string) string {
	return "(" + sql + ") IS TRUE"
}

// whenJSONType renders CASE WHEN jsonb_typeof(field) = 'jsonType' THEN then END,
// which is NULL for every other type.
func whenJSONType(field, jsonType, then string) string {
	return fmt.Sprintf("CASE WHEN jsonb_typeof(%s) = '%s' THEN %s END", field, jsonType, then)
}

// sqlPredicate is a pre-rendered predicate fragment.
type sqlPredicate struct {
	sql  string
	args []any
}

func (p sqlPredicate) ToSql() (string, []interface{}, error) {
	return p.sql, p.args, nil
}

// presenceFilter holds when field is present (not SQL NULL).
type presenceFilter struct {
	field string
}

func (f presenceFilter) ToSql() (string, []interface{}, error) {
	return f.field + " IS NOT NULL", nil, nil
}

// linkFilter holds when the linked card of node was joined.
type linkFilter struct {
	node *linkNode
}

func (f linkFilter) ToSql() (string, []interface{}, error) {
	return sqlutil.QualifiedColumn(f.node.alias, cardschema.IDColumn) + " IS NOT NULL", nil, nil
}

// equalityFilter holds when the value at path equals one of values. The
// values must already be restricted to those compatible with the path.
type equalityFilter struct {
	path   *Path
	values []any
}

func newEqualityFilter(path *Path, values []any) *equalityFilter {
	return &equalityFilter{path: path.Clone(), values: values}
}

func (f *equalityFilter) ToSql() (string, []interface{}, error) {
	var parts []string
	var args []interface{}
	add := func(sql string, a ...any) {
		parts = append(parts, sql)
		args = append(args, a...)
	}

	p := f.path
	switch {
	case p.IsJSON():
		field := p.Render(RenderOptions{})
		var encoded []any
		for _, v := range f.values {
			if v == nil {
				add(field + " = 'null'::jsonb")
				continue
			}
			b, err := json.Marshal(v)
			if err != nil {
				return "", nil, fmt.Errorf("failed to encode constant: %w", err)
			}
			encoded = append(encoded, string(b))
		}
		if len(encoded) > 0 {
			add(field+" IN ("+placeholders(len(encoded), "?::jsonb")+")", encoded...)
		}
	case p.ValueKind() == cardschema.KindTextArray:
		field := p.Render(RenderOptions{})
		for _, v := range f.values {
			items, _ := v.([]any)
			if len(items) == 0 {
				add("cardinality(" + field + ") = 0")
				continue
			}
			add(field+" = ARRAY["+placeholders(len(items), "?")+"]::text[]", items...)
		}
	case p.ValueKind() == cardschema.KindJSONArray:
		field := p.Render(RenderOptions{})
		for _, v := range f.values {
			b, err := json.Marshal(v)
			if err != nil {
				return "", nil, fmt.Errorf("failed to encode constant: %w", err)
			}
			add("to_jsonb("+field+") = ?::jsonb", string(b))
		}
	default:
		field := p.Render(RenderOptions{AsText: p.ValueKind() != cardschema.KindBoolean})
		var scalars []any
		for _, v := range f.values {
			if v == nil {
				add(field + " IS NULL")
				continue
			}
			scalars = append(scalars, v)
		}
		if len(scalars) > 0 {
			add(field+" IN ("+placeholders(len(scalars), "?")+")", scalars...)
		}
	}

	if len(parts) == 0 {
		return "false", nil, nil
	}
	sql := strings.Join(parts, " OR ")
	if len(parts) > 1 {
		sql = "(" + sql + ")"
	}
	if f.nullable() {
		sql = isTrue(sql)
	}
	return sql, args, nil
}

func (f *equalityFilter) nullable() bool {
	if !f.path.Nullable() {
		return false
	}
	for _, v := range f.values {
		if v != nil {
			return true
		}
	}
	return f.path.IsJSON()
}

// compatibleValues keeps the values a value at path could equal. A value of
// the wrong kind for a column can never match and is dropped.
func compatibleValues(path *Path, values []any) []any {
	var out []any
	for _, v := range values {
		if valueFits(path, v) {
			out = append(out, v)
		}
	}
	return out
}

func valueFits(path *Path, v any) bool {
	if path.IsMissing() || path.IsRecord() {
		return false
	}
	if path.IsDocumentValue() {
		return true
	}
	if v == nil {
		return path.Nullable() && !path.IsJSON()
	}
	switch path.ValueKind() {
	case cardschema.KindJSON:
		_, ok := v.(map[string]any)
		return ok
	case cardschema.KindBoolean:
		_, ok := v.(bool)
		return ok
	case cardschema.KindUUID:
		s, ok := v.(string)
		return ok && isCanonicalUUID(s)
	case cardschema.KindTextArray:
		items, ok := v.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if _, ok := item.(string); !ok {
				return false
			}
		}
		return true
	case cardschema.KindJSONArray:
		_, ok := v.([]any)
		return ok
	default:
		_, ok := v.(string)
		return ok
	}
}

// typeFilter holds when the JSON value at field has one of the given JSON
// Schema types. "integer" is a number that is a multiple of one.
type typeFilter struct {
	field string
	types []string
}

func (f typeFilter) ToSql() (string, []interface{}, error) {
	var plain []string
	wantInteger := false
	for _, t := range f.types {
		if t == jsonschema.TypeInteger {
			wantInteger = true
			continue
		}
		plain = append(plain, t)
	}
	if wantInteger && containsString(plain, jsonschema.TypeNumber) {
		wantInteger = false
	}

	var parts []string
	if len(plain) > 0 {
		sort.Strings(plain)
		quoted := make([]string, len(plain))
		for i, t := range plain {
			quoted[i] = sqlutil.QuoteString(t)
		}
		if len(quoted) == 1 {
			parts = append(parts, fmt.Sprintf("jsonb_typeof(%s) = %s", f.field, quoted[0]))
		} else {
			parts = append(parts, fmt.Sprintf("jsonb_typeof(%s) IN (%s)", f.field, strings.Join(quoted, ", ")))
		}
	}
	if wantInteger {
		parts = append(parts, whenJSONType(f.field, jsonschema.TypeNumber, "("+f.field+")::numeric % 1 = 0"))
	}
	return isTrue(strings.Join(parts, " OR ")), nil, nil
}

// comparisonFilter holds when operand op arg. The operand may be NULL, in
// which case the filter is false.
type comparisonFilter struct {
	operand     string
	operandArgs []any
	op          string
	arg         any
	// argCast, when set, casts the bound argument.
	argCast string
}

func (f comparisonFilter) ToSql() (string, []interface{}, error) {
	args := append(append([]interface{}{}, f.operandArgs...), f.arg)
	placeholder := "?"
	if f.argCast != "" {
		placeholder += "::" + f.argCast
	}
	return isTrue(fmt.Sprintf("(%s) %s %s", f.operand, f.op, placeholder)), args, nil
}

// patternFilter holds when the text operand matches a POSIX regular
// expression.
type patternFilter struct {
	text            string
	pattern         string
	caseInsensitive bool
}

func (f patternFilter) ToSql() (string, []interface{}, error) {
	op := "~"
	if f.caseInsensitive {
		op = "~*"
	}
	return isTrue(fmt.Sprintf("%s %s ?", f.text, op)), []interface{}{f.pattern}, nil
}

// fullTextFilter holds when the text search vector matches the search term.
type fullTextFilter struct {
	vector string
	config string
	term   string
}

func (f fullTextFilter) ToSql() (string, []interface{}, error) {
	return isTrue(fmt.Sprintf("%s @@ plainto_tsquery(%s, ?)", f.vector, sqlutil.QuoteString(f.config))),
		[]interface{}{f.term}, nil
}

// containsValueFilter is the containment fast path: the array at path has an
// element equal to value.
type containsValueFilter struct {
	path  *Path
	value any
}

func (f containsValueFilter) ToSql() (string, []interface{}, error) {
	field := f.path.Render(RenderOptions{})
	switch f.path.ValueKind() {
	case cardschema.KindTextArray:
		return field + " @> ARRAY[?]::text[]", []interface{}{f.value}, nil
	case cardschema.KindJSONArray:
		b, err := json.Marshal(f.value)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode constant: %w", err)
		}
		return field + " @> ARRAY[?::jsonb]", []interface{}{string(b)}, nil
	default:
		b, err := json.Marshal([]any{f.value})
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode constant: %w", err)
		}
		sql := fmt.Sprintf("jsonb_typeof(%s) = 'array' AND %s @> ?::jsonb", field, field)
		return isTrue(sql), []interface{}{string(b)}, nil
	}
}

// arrayScanFilter tests elements produced by a set-returning source against
// a filter: existentially (contains) or universally (items).
type arrayScanFilter struct {
	source    string
	filter    *Expression
	universal bool
	// guard, when set, is a JSON field that must have type guardType for the
	// scan to run; the filter is false otherwise.
	guard     string
	guardType string
}

func (f arrayScanFilter) ToSql() (string, []interface{}, error) {
	where := sq.Sqlizer(f.filter)
	if f.universal {
		where = notExpr{inner: f.filter}
	}
	sub := sqlast.Select("1").From(f.source).Where(where)
	sql, args, err := sqlast.Exists(sub).ToSql()
	if err != nil {
		return "", nil, err
	}
	if f.universal {
		sql = "NOT " + sql
	}
	if f.guard != "" {
		sql = whenJSONType(f.guard, f.guardType, sql)
		sql = isTrue(sql)
	}
	return sql, args, nil
}

func placeholders(n int, ph string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = ph
	}
	return strings.Join(parts, ", ")
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
