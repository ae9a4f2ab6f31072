package planner

import (
	"fmt"
	"strconv"
	"strings"

	"cardql/internal/cardschema"
	"cardql/internal/sqlutil"
)

// Step is one element of a path: an object key or an array index.
type Step struct {
	key     string
	index   int
	isIndex bool
}

// Key returns an object key step.
func Key(k string) Step { return Step{key: k} }

// Index returns an array index step.
func Index(i int) Step { return Step{index: i, isIndex: true} }

// IsIndex reports whether the step is an array index.
func (s Step) IsIndex() bool { return s.isIndex }

func (s Step) String() string {
	if s.isIndex {
		return strconv.Itoa(s.index)
	}
	return s.key
}

// pathKind classifies the value a path addresses.
type pathKind int

const (
	// kindRecord is the card row itself.
	kindRecord pathKind = iota
	// kindColumn is a physical card column.
	kindColumn
	// kindVersion is the virtual version column.
	kindVersion
	// kindSubColumn is an element of a native array column.
	kindSubColumn
	// kindJSON is a value inside a jsonb document.
	kindJSON
	// kindElement is the root of an unnested array element.
	kindElement
	// kindMissing addresses something that cannot exist, such as a key
	// below a text value.
	kindMissing
)

// RenderOptions control how a path is rendered.
type RenderOptions struct {
	// AsText extracts the value as text instead of its native SQL type.
	AsText bool
	// Cast appends ::Cast to the rendered expression.
	Cast string
}

// Path tracks the location being compiled relative to a root relation. The
// classification of every prefix is cached and maintained incrementally.
type Path struct {
	table       string
	elementRoot bool
	elementKind cardschema.Kind
	steps       []Step
	kinds       []pathKind
	column      cardschema.Column
}

// NewCardPath returns a path rooted at the card row aliased as table.
func NewCardPath(table string) *Path {
	return &Path{table: table, kinds: []pathKind{kindRecord}}
}

// NewElementPath returns a path rooted at an unnested array element. Elements
// are exposed as the column "value" of alias.
func NewElementPath(alias string, kind cardschema.Kind) *Path {
	return &Path{table: alias, elementRoot: true, elementKind: kind, kinds: []pathKind{kindElement}}
}

// Clone returns an independent copy.
func (p *Path) Clone() *Path {
	c := *p
	c.steps = append([]Step(nil), p.steps...)
	c.kinds = append([]pathKind(nil), p.kinds...)
	return &c
}

// Depth is the number of steps below the root.
func (p *Path) Depth() int { return len(p.steps) }

// Table is the alias of the root relation.
func (p *Path) Table() string { return p.table }

// Last returns the deepest step. It panics at depth zero.
func (p *Path) Last() Step { return p.steps[len(p.steps)-1] }

// Push descends one step.
func (p *Path) Push(step Step) {
	p.steps = append(p.steps, step)
	p.kinds = append(p.kinds, p.classify(len(p.steps)-1, step))
}

// Pop ascends one step.
func (p *Path) Pop() {
	if len(p.steps) == 0 {
		panic("planner: pop at path root")
	}
	p.steps = p.steps[:len(p.steps)-1]
	p.kinds = p.kinds[:len(p.kinds)-1]
	if !p.elementRoot && len(p.steps) == 0 {
		p.column = cardschema.Column{}
	}
}

// SetLast replaces the deepest step.
func (p *Path) SetLast(step Step) {
	p.Pop()
	p.Push(step)
}

// classify derives the kind of steps[:at+1] from the kind of steps[:at].
func (p *Path) classify(at int, step Step) pathKind {
	parent := p.kinds[at]
	switch parent {
	case kindRecord:
		if step.isIndex {
			return kindMissing
		}
		if step.key == cardschema.VersionField {
			return kindVersion
		}
		col, ok := cardschema.LookupColumn(step.key)
		if !ok {
			return kindMissing
		}
		p.column = col
		return kindColumn
	case kindColumn:
		switch {
		case p.column.IsDocument():
			return kindJSON
		case p.column.IsArray() && step.isIndex:
			return kindSubColumn
		default:
			return kindMissing
		}
	case kindSubColumn:
		if p.column.ElementKind() == cardschema.KindJSON {
			return kindJSON
		}
		return kindMissing
	case kindElement:
		if p.elementKind == cardschema.KindJSON {
			return kindJSON
		}
		return kindMissing
	case kindJSON:
		return kindJSON
	default:
		return kindMissing
	}
}

func (p *Path) kind() pathKind { return p.kinds[len(p.kinds)-1] }

// IsRecord reports whether the path addresses the card row.
func (p *Path) IsRecord() bool { return p.kind() == kindRecord }

// IsColumn reports whether the path addresses a physical column.
func (p *Path) IsColumn() bool { return p.kind() == kindColumn }

// IsVersion reports whether the path addresses the virtual version field.
func (p *Path) IsVersion() bool { return p.kind() == kindVersion }

// IsMissing reports whether the path can never address a value.
func (p *Path) IsMissing() bool { return p.kind() == kindMissing }

// Column returns the column the path descends through. It is the zero
// Column for element roots and at the record itself.
func (p *Path) Column() cardschema.Column { return p.column }

// ValueKind returns the SQL kind of the addressed value.
func (p *Path) ValueKind() cardschema.Kind {
	switch p.kind() {
	case kindColumn:
		return p.column.Kind
	case kindVersion:
		return cardschema.KindText
	case kindSubColumn:
		return p.column.ElementKind()
	case kindElement:
		return p.elementKind
	default:
		return cardschema.KindJSON
	}
}

// IsJSON reports whether the addressed value is held as jsonb, either inside
// a document or as a jsonb column, element or sub-column.
func (p *Path) IsJSON() bool {
	switch p.kind() {
	case kindJSON:
		return true
	case kindColumn, kindSubColumn, kindElement:
		return p.ValueKind() == cardschema.KindJSON
	default:
		return false
	}
}

// IsDocumentValue reports whether the value is a property or element inside
// a jsonb value, where absence and every JSON type are possible.
func (p *Path) IsDocumentValue() bool {
	k := p.kind()
	return k == kindJSON || (k == kindElement && p.elementKind == cardschema.KindJSON) ||
		(k == kindSubColumn && p.column.ElementKind() == cardschema.KindJSON)
}

// AlwaysPresent reports whether the addressed value exists on every row.
// Columns always exist; a NULL in a nullable column is a JSON null.
func (p *Path) AlwaysPresent() bool {
	switch p.kind() {
	case kindRecord, kindColumn, kindVersion, kindElement:
		return true
	default:
		return false
	}
}

// Nullable reports whether the rendered expression can evaluate to SQL NULL.
func (p *Path) Nullable() bool {
	switch p.kind() {
	case kindColumn:
		return p.column.Nullable
	case kindRecord, kindVersion:
		return false
	case kindElement:
		return false
	default:
		return true
	}
}

// String renders the path as a dotted location for logs and errors.
func (p *Path) String() string {
	parts := make([]string, 0, len(p.steps)+1)
	parts = append(parts, p.table)
	for _, s := range p.steps {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, ".")
}

// Render renders the addressed value as a SQL expression.
func (p *Path) Render(opts RenderOptions) string {
	expr := p.render(opts.AsText)
	if opts.Cast != "" {
		expr = "(" + expr + ")::" + opts.Cast
	}
	return expr
}

func (p *Path) render(asText bool) string {
	switch p.kind() {
	case kindRecord:
		return sqlutil.QuoteIdentifier(p.table)
	case kindMissing:
		if asText {
			return "NULL::text"
		}
		return "NULL::jsonb"
	case kindVersion:
		return versionExpr(p.table)
	case kindColumn:
		return p.renderColumn(asText)
	case kindElement:
		ref := sqlutil.QualifiedColumn(p.table, "value")
		if asText && p.elementKind == cardschema.KindJSON {
			return "(" + ref + " #>> '{}')"
		}
		return ref
	}

	// Sub-columns and JSON values: find the base expression and the JSON
	// steps below it.
	var base string
	var jsonSteps []Step
	if p.elementRoot {
		base = sqlutil.QualifiedColumn(p.table, "value")
		jsonSteps = p.steps
	} else {
		base = sqlutil.QualifiedColumn(p.table, p.column.Name)
		jsonSteps = p.steps[1:]
		if p.column.IsArray() {
			base = fmt.Sprintf("%s[%d]", base, jsonSteps[0].index+1)
			jsonSteps = jsonSteps[1:]
			if p.kind() == kindSubColumn {
				return base
			}
			base = "(" + base + ")"
		}
	}
	return jsonAccess(base, jsonSteps, asText)
}

func (p *Path) renderColumn(asText bool) string {
	ref := sqlutil.QualifiedColumn(p.table, p.column.Name)
	if !asText {
		return ref
	}
	switch p.column.Kind {
	case cardschema.KindUUID, cardschema.KindBoolean, cardschema.KindInteger:
		return ref + "::text"
	case cardschema.KindTimestamp:
		return "(to_jsonb(" + ref + ") #>> '{}')"
	case cardschema.KindJSON:
		return "(" + ref + " #>> '{}')"
	case cardschema.KindTextArray, cardschema.KindJSONArray:
		return ref + "::text"
	default:
		return ref
	}
}

// jsonAccess chains -> over steps, using ->> for the last step when text is
// requested.
func jsonAccess(base string, steps []Step, asText bool) string {
	if len(steps) == 0 {
		if asText {
			return "(" + base + " #>> '{}')"
		}
		return base
	}
	var b strings.Builder
	b.WriteString("(")
	b.WriteString(base)
	for i, s := range steps {
		op := "->"
		if asText && i == len(steps)-1 {
			op = "->>"
		}
		b.WriteString(op)
		if s.isIndex {
			b.WriteString(strconv.Itoa(s.index))
		} else {
			b.WriteString(sqlutil.QuoteString(s.key))
		}
	}
	b.WriteString(")")
	return b.String()
}

// versionExpr renders the virtual version string of the card aliased table.
func versionExpr(table string) string {
	cols := make([]string, len(cardschema.VersionColumns))
	for i, c := range cardschema.VersionColumns {
		cols[i] = sqlutil.QualifiedColumn(table, c)
	}
	return "concat_ws('.', " + strings.Join(cols, ", ") + ")"
}

// pushCardProperty pushes the steps that address a card field: a column,
// version, or a property of the data document. It returns the number of
// steps pushed.
func pushCardProperty(p *Path, name string) int {
	if name == cardschema.VersionField {
		p.Push(Key(name))
		return 1
	}
	if _, ok := cardschema.LookupColumn(name); ok {
		p.Push(Key(name))
		return 1
	}
	p.Push(Key(cardschema.DocumentColumn))
	p.Push(Key(name))
	return 2
}
