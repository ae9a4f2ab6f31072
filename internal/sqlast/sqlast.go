// Package sqlast provides the small set of typed statement builders the
// planner assembles queries from. Everything here is a squirrel Sqlizer, so
// fragments compose freely and are converted to PostgreSQL numbered
// placeholders exactly once by ToSQL.
package sqlast

import (
	"fmt"
	"strings"

	"cardql/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// True and False are the boolean literals.
var (
	True  sq.Sqlizer = sq.Expr("true")
	False sq.Sqlizer = sq.Expr("false")
)

// Select starts a SELECT with the given raw column expressions.
func Select(columns ...string) sq.SelectBuilder {
	return sq.StatementBuilder.Select(columns...)
}

// As renders expr AS "alias".
func As(expr sq.Sqlizer, alias string) sq.Sqlizer {
	return sq.Alias(expr, sqlutil.QuoteIdentifier(alias))
}

// Table renders "table" AS "alias".
func Table(table, alias string) string {
	return sqlutil.QuoteIdentifier(table) + " AS " + sqlutil.QuoteIdentifier(alias)
}

// InnerJoin appends INNER JOIN "table" AS "alias" ON on.
func InnerJoin(b sq.SelectBuilder, table, alias string, on sq.Sqlizer) sq.SelectBuilder {
	return b.JoinClause(sq.ConcatExpr("INNER JOIN ", Table(table, alias), " ON ", on))
}

// InnerJoinSelect appends INNER JOIN (sub) AS "alias" ON on.
func InnerJoinSelect(b sq.SelectBuilder, sub sq.SelectBuilder, alias string, on sq.Sqlizer) sq.SelectBuilder {
	return b.JoinClause(sq.ConcatExpr("INNER JOIN (", sub, ") AS ", sqlutil.QuoteIdentifier(alias), " ON ", on))
}

// LeftJoinLateral appends LEFT JOIN LATERAL (sub) AS "alias" ON true.
func LeftJoinLateral(b sq.SelectBuilder, sub sq.SelectBuilder, alias string) sq.SelectBuilder {
	return b.JoinClause(sq.ConcatExpr("LEFT JOIN LATERAL (", sub, ") AS ", sqlutil.QuoteIdentifier(alias), " ON true"))
}

// CrossJoinLateral appends CROSS JOIN LATERAL fragment AS "alias"(columns...).
func CrossJoinLateral(b sq.SelectBuilder, fragment sq.Sqlizer, alias string, columns ...string) sq.SelectBuilder {
	return b.JoinClause(sq.ConcatExpr("CROSS JOIN LATERAL ", fragment, " AS ", aliasWithColumns(alias, columns)))
}

// MaterializedCTE prefixes b with WITH "name" AS MATERIALIZED (cte).
func MaterializedCTE(b sq.SelectBuilder, name string, cte sq.SelectBuilder) sq.SelectBuilder {
	return b.PrefixExpr(sq.ConcatExpr("WITH ", sqlutil.QuoteIdentifier(name), " AS MATERIALIZED (", cte, ")"))
}

// RowNumberOver renders row_number() OVER (PARTITION BY partition ORDER BY
// orderBy...).
func RowNumberOver(partition string, orderBy ...string) string {
	window := "PARTITION BY " + partition
	if len(orderBy) > 0 {
		window += " ORDER BY " + joinComma(orderBy)
	}
	return fmt.Sprintf("row_number() OVER (%s)", window)
}

// FunctionSource renders fn(arg) AS "alias"("column") for use in FROM.
func FunctionSource(fn, arg, alias, column string) string {
	return fmt.Sprintf("%s(%s) AS %s", fn, arg, aliasWithColumns(alias, []string{column}))
}

// Values renders VALUES (...), (...) over the given rows of raw expressions.
func Values(rows [][]string) sq.Sqlizer {
	parts := make([]string, len(rows))
	for i, row := range rows {
		parts[i] = "(" + joinComma(row) + ")"
	}
	return sq.Expr("(VALUES " + joinComma(parts) + ")")
}

// Exists renders EXISTS (sub).
func Exists(sub sq.SelectBuilder) sq.Sqlizer {
	return sq.ConcatExpr("EXISTS (", sub, ")")
}

// ToSQL renders b with PostgreSQL numbered placeholders.
func ToSQL(b sq.SelectBuilder) (string, []any, error) {
	query, args, err := b.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("failed to render query: %w", err)
	}
	return query, args, nil
}

func aliasWithColumns(alias string, columns []string) string {
	if len(columns) == 0 {
		return sqlutil.QuoteIdentifier(alias)
	}
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = sqlutil.QuoteIdentifier(col)
	}
	return sqlutil.QuoteIdentifier(alias) + "(" + joinComma(quoted) + ")"
}

func joinComma(parts []string) string {
	return strings.Join(parts, ", ")
}
