package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(sql string) *Expression {
	return NewExpression(sqlPredicate{sql: sql})
}

func renderExpr(t *testing.T, e *Expression) string {
	t.Helper()
	sql, _, err := e.ToSql()
	require.NoError(t, err)
	return sql
}

func TestExpressionFolding(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Expression
		want  string
	}{
		{"true and x", func() *Expression { return Literal(true).And(leaf("a")) }, "a"},
		{"x and true", func() *Expression { return leaf("a").And(Literal(true)) }, "a"},
		{"false and x", func() *Expression { return Literal(false).And(leaf("a")) }, "false"},
		{"x and false", func() *Expression { return leaf("a").And(Literal(false)) }, "false"},
		{"true or x", func() *Expression { return Literal(true).Or(leaf("a")) }, "true"},
		{"x or false", func() *Expression { return leaf("a").Or(Literal(false)) }, "a"},
		{"false implies x", func() *Expression { return Literal(false).Implies(leaf("a")) }, "true"},
		{"true implies x", func() *Expression { return Literal(true).Implies(leaf("a")) }, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderExpr(t, tt.build()))
		})
	}
}

func TestExpressionFlattening(t *testing.T) {
	e := leaf("a").And(leaf("b")).And(leaf("c"))
	assert.Equal(t, "(a AND b AND c)", renderExpr(t, e))

	nested := leaf("a").And(leaf("b").And(leaf("c")))
	assert.Equal(t, "(a AND b AND c)", renderExpr(t, nested))

	mixed := leaf("a").And(leaf("b")).Or(leaf("c"))
	assert.Equal(t, "((a AND b) OR c)", renderExpr(t, mixed))
}

func TestExpressionNegate(t *testing.T) {
	assert.Equal(t, "NOT (a)", renderExpr(t, leaf("a").Negate()))
	assert.Equal(t, "a", renderExpr(t, leaf("a").Negate().Negate()))
	assert.Equal(t, "NOT ((a OR b))", renderExpr(t, leaf("a").Or(leaf("b")).Negate()))
	assert.Equal(t, "(a OR b)", renderExpr(t, leaf("a").Or(leaf("b")).Negate().Negate()))
	assert.Equal(t, "(NOT (a) OR b)", renderExpr(t, leaf("a").Implies(leaf("b"))))
}

func TestExpressionUnsatisfiableStaysSmall(t *testing.T) {
	e := Literal(false)
	for i := 0; i < 10; i++ {
		e = e.And(leaf("a"))
	}
	assert.True(t, e.IsUnsatisfiable())
	assert.Empty(t, e.children)

	f := leaf("a").And(leaf("b"))
	f.MakeUnsatisfiable()
	assert.True(t, f.IsUnsatisfiable())
	assert.Equal(t, "false", renderExpr(t, f))
}

func TestExpressionConsumesArgument(t *testing.T) {
	a := leaf("a")
	b := leaf("b")
	a.And(b)
	assert.Panics(t, func() { _, _, _ = b.ToSql() })
	assert.Panics(t, func() { a.Or(b) })

	c := leaf("c")
	assert.Panics(t, func() { c.And(c) })
}

func TestExpressionClone(t *testing.T) {
	a := leaf("a").Or(leaf("b"))
	c := a.Clone()
	a.And(leaf("x"))
	c.Negate()

	assert.Equal(t, "((a OR b) AND x)", renderExpr(t, a))
	assert.Equal(t, "NOT ((a OR b))", renderExpr(t, c))
}
