package planner

import (
	sq "github.com/Masterminds/squirrel"
)

type exprOp int

const (
	opLiteral exprOp = iota
	opAnd
	opOr
	opConsumed
)

// Expression is a boolean filter tree. Leaves are predicates (any
// squirrel.Sqlizer rendering a non-null boolean) or literals; internal nodes
// are AND/OR groups.
//
// And, Or and Implies consume their argument: the argument must not be used
// afterwards, and doing so panics. Use Clone to keep an independent copy.
type Expression struct {
	op       exprOp
	value    bool
	children []sq.Sqlizer
}

// Literal returns a constant expression.
func Literal(v bool) *Expression {
	return &Expression{op: opLiteral, value: v}
}

// NewExpression wraps a single predicate.
func NewExpression(filter sq.Sqlizer) *Expression {
	if e, ok := filter.(*Expression); ok {
		return e
	}
	return &Expression{op: opAnd, children: []sq.Sqlizer{filter}}
}

// IsUnsatisfiable reports whether the expression is the literal false.
func (e *Expression) IsUnsatisfiable() bool {
	e.mustBeLive()
	return e.op == opLiteral && !e.value
}

// IsTautology reports whether the expression is the literal true.
func (e *Expression) IsTautology() bool {
	e.mustBeLive()
	return e.op == opLiteral && e.value
}

// MakeUnsatisfiable replaces the expression with false.
func (e *Expression) MakeUnsatisfiable() *Expression {
	e.mustBeLive()
	e.op, e.value, e.children = opLiteral, false, nil
	return e
}

// And conjoins other into e and returns e.
func (e *Expression) And(other *Expression) *Expression {
	return e.combine(opAnd, other)
}

// Or disjoins other into e and returns e.
func (e *Expression) Or(other *Expression) *Expression {
	return e.combine(opOr, other)
}

// Implies turns e into NOT e OR other.
func (e *Expression) Implies(other *Expression) *Expression {
	return e.Negate().Or(other)
}

func (e *Expression) combine(op exprOp, other *Expression) *Expression {
	e.mustBeLive()
	other.mustBeLive()
	if e == other {
		panic("planner: expression combined with itself")
	}
	defer other.consume()

	// absorbing is the literal that decides the result: false for AND, true
	// for OR.
	absorbing := op == opOr
	switch {
	case e.op == opLiteral && e.value == absorbing:
		return e
	case other.op == opLiteral && other.value == absorbing:
		e.op, e.value, e.children = opLiteral, absorbing, nil
		return e
	case other.op == opLiteral:
		return e
	case e.op == opLiteral:
		e.op, e.children = other.op, other.children
		return e
	}

	if e.op != op && len(e.children) > 1 {
		e.children = []sq.Sqlizer{&Expression{op: e.op, children: e.children}}
	}
	e.op = op
	if other.op == op || len(other.children) == 1 {
		e.children = append(e.children, other.children...)
	} else {
		e.children = append(e.children, &Expression{op: other.op, children: other.children})
	}
	return e
}

// Negate replaces e with NOT e and returns e.
func (e *Expression) Negate() *Expression {
	e.mustBeLive()
	switch {
	case e.op == opLiteral:
		e.value = !e.value
	case len(e.children) == 1:
		if n, ok := e.children[0].(notExpr); ok {
			e.children = []sq.Sqlizer{n.inner}
			if inner, ok := n.inner.(*Expression); ok {
				e.op, e.value, e.children = inner.op, inner.value, inner.children
			}
		} else {
			e.children = []sq.Sqlizer{notExpr{inner: e.children[0]}}
		}
	default:
		inner := &Expression{op: e.op, children: e.children}
		e.op, e.children = opAnd, []sq.Sqlizer{notExpr{inner: inner}}
	}
	return e
}

// Clone returns a deep copy of the group structure. Predicates are
// immutable and shared.
func (e *Expression) Clone() *Expression {
	e.mustBeLive()
	c := &Expression{op: e.op, value: e.value}
	if len(e.children) > 0 {
		c.children = make([]sq.Sqlizer, len(e.children))
		for i, child := range e.children {
			c.children[i] = cloneSqlizer(child)
		}
	}
	return c
}

func cloneSqlizer(s sq.Sqlizer) sq.Sqlizer {
	switch v := s.(type) {
	case *Expression:
		return v.Clone()
	case notExpr:
		return notExpr{inner: cloneSqlizer(v.inner)}
	default:
		return s
	}
}

// ToSql renders the expression.
func (e *Expression) ToSql() (string, []interface{}, error) {
	e.mustBeLive()
	switch {
	case e.op == opLiteral:
		if e.value {
			return "true", nil, nil
		}
		return "false", nil, nil
	case len(e.children) == 1:
		return e.children[0].ToSql()
	case e.op == opOr:
		return sq.Or(e.children).ToSql()
	default:
		return sq.And(e.children).ToSql()
	}
}

func (e *Expression) consume() {
	e.op, e.children = opConsumed, nil
}

func (e *Expression) mustBeLive() {
	if e.op == opConsumed {
		panic("planner: expression used after being consumed")
	}
}

// notExpr renders NOT (inner).
type notExpr struct {
	inner sq.Sqlizer
}

func (n notExpr) ToSql() (string, []interface{}, error) {
	sql, args, err := n.inner.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + sql + ")", args, nil
}
