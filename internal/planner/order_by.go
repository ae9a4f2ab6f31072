package planner

import (
	"fmt"
	"strconv"

	"cardql/internal/cardschema"
	"cardql/internal/sqlutil"
)

// orderByClauses renders the ORDER BY terms for sorting the cards aliased
// table by sortBy. Missing values sort last in either direction.
func orderByClauses(table string, sortBy []string, sortDir string) ([]string, error) {
	if len(sortBy) == 0 {
		return nil, nil
	}
	direction, err := sortDirection(sortDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	if len(sortBy) == 1 && sortBy[0] == cardschema.VersionField {
		clauses := make([]string, len(cardschema.VersionColumns))
		for i, col := range cardschema.VersionColumns {
			clauses[i] = orderTerm(sqlutil.QualifiedColumn(table, col), direction)
		}
		return clauses, nil
	}

	path := NewCardPath(table)
	pushCardProperty(path, sortBy[0])
	for _, segment := range sortBy[1:] {
		if n, err := strconv.Atoi(segment); err == nil && n >= 0 {
			path.Push(Index(n))
			continue
		}
		path.Push(Key(segment))
	}
	if path.IsMissing() {
		return nil, fmt.Errorf("%w: cannot sort by %v", ErrInvalidOptions, sortBy)
	}
	return []string{orderTerm(path.Render(RenderOptions{}), direction)}, nil
}

// defaultLinkOrder orders linked cards when no sort is requested.
func defaultLinkOrder(alias string) []string {
	return []string{
		orderTerm(sqlutil.QualifiedColumn(alias, "created_at"), "ASC"),
		orderTerm(sqlutil.QualifiedColumn(alias, cardschema.IDColumn), "ASC"),
	}
}

func orderTerm(expr, direction string) string {
	return expr + " " + direction + " NULLS LAST"
}
