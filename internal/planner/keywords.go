package planner

import (
	"fmt"
	"strings"

	"cardql/internal/cardschema"
	"cardql/internal/jsonschema"
	"cardql/internal/sqlast"
	"cardql/internal/sqlutil"
)

// typeAccepts reports whether a value of JSON type t satisfies a type
// keyword listing types. Integers are numbers.
func typeAccepts(types []string, t string) bool {
	if containsString(types, t) {
		return true
	}
	return t == jsonschema.TypeInteger && containsString(types, jsonschema.TypeNumber)
}

// typeCheck tests that the value at the path has one of types. Columns have
// a fixed type, so the check folds to a constant or a NULL test.
func (n *nodeCompiler) typeCheck(types []string) *Expression {
	p := n.path
	switch {
	case p.IsMissing():
		return Literal(false)
	case p.IsRecord():
		return Literal(typeAccepts(types, jsonschema.TypeObject))
	case p.IsVersion():
		return Literal(typeAccepts(types, jsonschema.TypeString))
	case p.IsJSON():
		return NewExpression(typeFilter{field: p.Render(RenderOptions{}), types: types})
	}

	accepted := typeAccepts(types, p.ValueKind().JSONType())
	if p.AlwaysPresent() && !p.Nullable() {
		return Literal(accepted)
	}
	field := p.Render(RenderOptions{})
	nullAccepted := containsString(types, jsonschema.TypeNull) && p.IsColumn()
	switch {
	case accepted && nullAccepted:
		return Literal(true)
	case accepted:
		return NewExpression(presenceFilter{field: field})
	case nullAccepted:
		return NewExpression(presenceFilter{field: field}).Negate()
	default:
		return Literal(false)
	}
}

// ifTypeThen applies a predicate that only constrains values of JSON type t:
// values of any other type pass. When the node already restricts the value
// to exactly t the guard is left out.
func (n *nodeCompiler) ifTypeThen(t string, pred *Expression) *Expression {
	if len(n.types) == 1 && (n.types[0] == t || (t == jsonschema.TypeNumber && n.types[0] == jsonschema.TypeInteger)) {
		return pred
	}
	return n.typeCheck([]string{t}).Implies(pred)
}

// presenceCheck tests that the value at the path exists.
func (n *nodeCompiler) presenceCheck() *Expression {
	p := n.path
	switch {
	case p.IsMissing():
		return Literal(false)
	case p.AlwaysPresent():
		return Literal(true)
	default:
		return NewExpression(presenceFilter{field: p.Render(RenderOptions{})})
	}
}

// equality restricts the value at the path to one of values.
func (n *nodeCompiler) equality(values []any) {
	n.implies = true
	var accepted []any
	for _, v := range values {
		if n.types != nil && !typeAccepts(n.types, jsonschema.TypeOf(v)) {
			continue
		}
		accepted = append(accepted, v)
	}
	accepted = compatibleValues(n.path, accepted)
	if len(accepted) == 0 {
		n.filter.MakeUnsatisfiable()
		return
	}
	n.and(NewExpression(newEqualityFilter(n.path, accepted)))
}

// textOperand renders the value at the path as text, or "" when the value
// can never be a string.
func (n *nodeCompiler) textOperand() string {
	p := n.path
	if p.IsMissing() || p.IsRecord() {
		return ""
	}
	return p.Render(RenderOptions{AsText: true})
}

func (n *nodeCompiler) patternCheck(pattern string, caseInsensitive bool) *Expression {
	text := n.textOperand()
	if text == "" {
		return Literal(true)
	}
	return NewExpression(patternFilter{text: text, pattern: pattern, caseInsensitive: caseInsensitive})
}

func (n *nodeCompiler) formatCheck(format string) *Expression {
	pattern, known := formatPatterns[format]
	if !known {
		return Literal(true)
	}
	if n.path.IsColumn() && n.path.Column().Format() == format {
		return Literal(true)
	}
	return n.patternCheck(pattern, false)
}

// formatBound compares a date-time or date string against value in its
// native SQL type. Strings that do not have the format fail the bound.
func (n *nodeCompiler) formatBound(op, value string) *Expression {
	format := n.schema.Format
	cast := formatCasts[format]
	p := n.path
	if p.IsColumn() && p.ValueKind() == cardschema.KindTimestamp {
		operand := p.Render(RenderOptions{Cast: cast})
		return NewExpression(comparisonFilter{operand: operand, op: op, arg: value, argCast: cast})
	}
	text := n.textOperand()
	if text == "" {
		return Literal(true)
	}
	operand := fmt.Sprintf("CASE WHEN %s ~ %s THEN (%s)::%s END",
		text, sqlutil.QuoteString(formatPatterns[format]), text, cast)
	return NewExpression(comparisonFilter{operand: operand, op: op, arg: value, argCast: cast})
}

// numericOperand renders the value at the path as numeric, NULL for
// non-numbers, or "" when the value can never be a number.
func (n *nodeCompiler) numericOperand() string {
	p := n.path
	if !p.IsJSON() {
		return ""
	}
	field := p.Render(RenderOptions{})
	return whenJSONType(field, jsonschema.TypeNumber, "("+field+")::numeric")
}

func (n *nodeCompiler) numberCheck(op string, value float64) *Expression {
	operand := n.numericOperand()
	if operand == "" {
		return Literal(true)
	}
	return NewExpression(comparisonFilter{operand: operand, op: op, arg: value})
}

func (n *nodeCompiler) multipleOfCheck(divisor float64) *Expression {
	operand := n.numericOperand()
	if operand == "" {
		return Literal(true)
	}
	return NewExpression(comparisonFilter{
		operand:     "(" + operand + ") % ?::numeric",
		operandArgs: []any{divisor},
		op:          "=",
		arg:         0,
	})
}

func (n *nodeCompiler) stringLengthCheck(op string, length int) *Expression {
	text := n.textOperand()
	if text == "" {
		return Literal(true)
	}
	return NewExpression(comparisonFilter{operand: "char_length(" + text + ")", op: op, arg: length})
}

// arrayLength renders the length of the array at the path, NULL for
// non-arrays, or "" when the value can never be an array.
func (n *nodeCompiler) arrayLength() string {
	p := n.path
	switch {
	case p.IsColumn() && p.Column().IsArray():
		return "cardinality(" + p.Render(RenderOptions{}) + ")"
	case p.IsJSON():
		field := p.Render(RenderOptions{})
		return whenJSONType(field, jsonschema.TypeArray, "jsonb_array_length("+field+")")
	default:
		return ""
	}
}

func (n *nodeCompiler) arrayLengthCheck(op string, length int) *Expression {
	operand := n.arrayLength()
	if operand == "" {
		return Literal(true)
	}
	return NewExpression(comparisonFilter{operand: operand, op: op, arg: length})
}

func (n *nodeCompiler) propertyCountCheck(op string, count int) *Expression {
	p := n.path
	switch {
	case p.IsRecord():
		return Literal(compareInts(len(cardschema.FieldNames()), op, count))
	case p.IsJSON():
		field := p.Render(RenderOptions{})
		operand := whenJSONType(field, jsonschema.TypeObject,
			"(SELECT count(*) FROM jsonb_object_keys("+field+"))")
		return NewExpression(comparisonFilter{operand: operand, op: op, arg: count})
	default:
		return Literal(true)
	}
}

func compareInts(a int, op string, b int) bool {
	switch op {
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case "<":
		return a < b
	default:
		return a == b
	}
}

// fullTextCheck matches the search term against every string in the value.
func (n *nodeCompiler) fullTextCheck(term string) *Expression {
	p := n.path
	config := sqlutil.QuoteString(n.c.textSearchConfig)
	field := p.Render(RenderOptions{})
	var vector string
	switch {
	case p.IsMissing():
		return Literal(false)
	case p.IsRecord():
		vector = fmt.Sprintf("jsonb_to_tsvector(%s, to_jsonb(%s), '[\"string\"]')", config, field)
	case p.IsJSON():
		vector = fmt.Sprintf("jsonb_to_tsvector(%s, %s, '[\"string\"]')", config, field)
	case p.ValueKind() == cardschema.KindTextArray:
		vector = fmt.Sprintf("to_tsvector(%s, array_to_string(%s, ' '))", config, field)
	case p.ValueKind() == cardschema.KindJSONArray:
		vector = fmt.Sprintf("jsonb_to_tsvector(%s, to_jsonb(%s), '[\"string\"]')", config, field)
	default:
		vector = fmt.Sprintf("to_tsvector(%s, %s)", config, p.Render(RenderOptions{AsText: true}))
	}
	return NewExpression(fullTextFilter{vector: vector, config: n.c.textSearchConfig, term: term})
}

// elementSource describes how to unnest the array at the path.
type elementSource struct {
	fn    string
	kind  cardschema.Kind
	guard string
}

func (n *nodeCompiler) elementSource() (elementSource, bool) {
	p := n.path
	switch {
	case p.IsColumn() && p.Column().IsArray():
		return elementSource{fn: "unnest", kind: p.Column().ElementKind()}, true
	case p.IsJSON():
		return elementSource{fn: "jsonb_array_elements", kind: cardschema.KindJSON, guard: p.Render(RenderOptions{})}, true
	default:
		return elementSource{}, false
	}
}

// scanElements compiles schema against every element of the array at the
// path and tests it existentially or universally.
func (n *nodeCompiler) scanElements(schema *jsonschema.Schema, universal bool) (*Expression, error) {
	src, ok := n.elementSource()
	if !ok {
		return Literal(true), nil
	}
	alias := n.c.elementAlias()
	r, err := n.c.compile(NewElementPath(alias, src.kind), schema, false, nil)
	if err != nil {
		return nil, err
	}
	if universal && r.filter.IsTautology() {
		return Literal(true), nil
	}
	return NewExpression(arrayScanFilter{
		source:    sqlast.FunctionSource(src.fn, n.path.Render(RenderOptions{}), alias, "value"),
		filter:    r.filter,
		universal: universal,
		guard:     src.guard,
		guardType: jsonschema.TypeArray,
	}), nil
}

func (n *nodeCompiler) items() error {
	s := n.schema
	if !s.IsTuple() {
		pred, err := n.scanElements(s.Items, true)
		if err != nil {
			return err
		}
		n.and(n.ifTypeThen(jsonschema.TypeArray, pred))
		return nil
	}

	length := n.arrayLength()
	if length == "" {
		return nil
	}
	pred := Literal(true)
	for i, sub := range s.TupleItems {
		n.path.Push(Index(i))
		r, err := n.c.compile(n.path, sub, false, nil)
		n.path.Pop()
		if err != nil {
			return err
		}
		if r.filter.IsTautology() {
			continue
		}
		longEnough := NewExpression(comparisonFilter{operand: length, op: ">", arg: i})
		pred = pred.And(longEnough.Implies(r.filter))
	}
	if ap := s.AdditionalProperties; ap != nil && ap.Boolean != nil && !*ap.Boolean {
		pred = pred.And(NewExpression(comparisonFilter{operand: length, op: "<=", arg: len(s.TupleItems)}))
	}
	n.and(n.ifTypeThen(jsonschema.TypeArray, pred))
	return nil
}

func (n *nodeCompiler) contains() error {
	if value, ok := containsConstant(n.schema.Contains); ok {
		n.and(n.ifTypeThen(jsonschema.TypeArray, n.containsValue(value)))
		return nil
	}
	pred, err := n.scanElements(n.schema.Contains, false)
	if err != nil {
		return err
	}
	n.and(n.ifTypeThen(jsonschema.TypeArray, pred))
	return nil
}

// containsConstant reports whether a contains schema only asks for one
// scalar constant, which can use array containment.
func containsConstant(s *jsonschema.Schema) (any, bool) {
	if s.Boolean != nil || !s.Has(jsonschema.KeywordConst) {
		return nil, false
	}
	for _, k := range s.Keywords() {
		if k != jsonschema.KeywordConst && k != jsonschema.KeywordType {
			return nil, false
		}
	}
	switch s.Const.(type) {
	case map[string]any, []any, nil:
		return nil, false
	}
	if s.Has(jsonschema.KeywordType) && !typeAccepts(s.Types, jsonschema.TypeOf(s.Const)) {
		return nil, false
	}
	return s.Const, true
}

func (n *nodeCompiler) containsValue(value any) *Expression {
	p := n.path
	switch {
	case p.IsColumn() && p.ValueKind() == cardschema.KindTextArray:
		if _, ok := value.(string); !ok {
			return Literal(false)
		}
	case p.IsColumn() && p.ValueKind() == cardschema.KindJSONArray:
	case p.IsJSON():
	default:
		return Literal(true)
	}
	return NewExpression(containsValueFilter{path: p.Clone(), value: value})
}

// additionalPropertiesCheck applies schema to every key of the object at the
// path that properties does not declare.
func (n *nodeCompiler) additionalPropertiesCheck(schema *jsonschema.Schema) (*Expression, error) {
	p := n.path
	if !p.IsJSON() {
		return Literal(true), nil
	}
	alias := n.c.elementAlias()
	r, err := n.c.compile(NewElementPath(alias, cardschema.KindJSON), schema, false, nil)
	if err != nil {
		return nil, err
	}
	if r.filter.IsTautology() {
		return Literal(true), nil
	}
	filter := r.filter
	if names := n.schema.PropertyNames(); len(names) > 0 {
		quoted := make([]string, len(names))
		for i, name := range names {
			quoted[i] = sqlutil.QuoteString(name)
		}
		declared := sqlPredicate{sql: sqlutil.QualifiedColumn(alias, "key") + " IN (" + strings.Join(quoted, ", ") + ")"}
		filter = NewExpression(declared).Or(filter)
	}
	field := p.Render(RenderOptions{})
	return NewExpression(arrayScanFilter{
		source:    "jsonb_each(" + field + ") AS " + sqlutil.QuoteIdentifier(alias) + "(" + sqlutil.QuoteIdentifier("key") + ", " + sqlutil.QuoteIdentifier("value") + ")",
		filter:    filter,
		universal: true,
		guard:     field,
		guardType: jsonschema.TypeObject,
	}), nil
}
