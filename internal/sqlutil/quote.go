// Package sqlutil provides PostgreSQL quoting helpers.
//
// Every helper escapes '?' as '??' so the quoted text survives squirrel's
// placeholder rewriting as a literal question mark.
package sqlutil

import "strings"

// QuoteIdentifier quotes a SQL identifier (table name, column name, alias)
// with double quotes and escapes any double quotes within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, `"`, `""`)
	return `"` + escapePlaceholders(escaped) + `"`
}

// QuoteString quotes a SQL string literal with single quotes and escapes
// any single quotes within the string by doubling them.
func QuoteString(s string) string {
	escaped := strings.ReplaceAll(s, "'", "''")
	return "'" + escapePlaceholders(escaped) + "'"
}

// QualifiedColumn renders alias.column with both parts quoted.
func QualifiedColumn(alias, column string) string {
	return QuoteIdentifier(alias) + "." + QuoteIdentifier(column)
}

func escapePlaceholders(s string) string {
	return strings.ReplaceAll(s, "?", "??")
}
