package planner

import (
	"fmt"
	"strconv"

	"cardql/internal/cardschema"
	"cardql/internal/sqlast"
	"cardql/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

const (
	rootAlias     = "cards"
	fenceAlias    = "fence"
	edgesColumn   = "edges"
	edgeAlias     = "edge"
	rowNumber     = "row_number"
	// PayloadColumn is the single jsonb column every compiled query returns.
	PayloadColumn = "payload"
)

// queryPlan is the frozen outcome of compiling a schema.
type queryPlan struct {
	filter  *Expression
	selects *selectMap
	links   *linkContext
	options Options
}

// build assembles the statement. Without links it is a single SELECT over
// cards. With links it is two phases: a materialized CTE finds the matching
// root cards and the edges to their matching linked cards, then the outer
// query projects each root card and expands its links from those edges.
func (p *queryPlan) build() (sq.SelectBuilder, error) {
	where := p.filter
	for _, h := range p.links.hoisted {
		where = where.And(h)
	}

	orderBy, err := orderByClauses(rootAlias, p.options.SortBy, p.options.SortDir)
	if err != nil {
		return sq.SelectBuilder{}, err
	}

	if p.links.root.empty() {
		q := sqlast.Select().
			Column(sqlast.As(renderRecord(rootAlias, p.selects, sq.Expr(emptyObject)), PayloadColumn)).
			From(sqlast.Table(cardschema.CardsTable, rootAlias))
		if !where.IsTautology() {
			q = q.Where(where)
		}
		return paginate(q.OrderBy(orderBy...), p.options), nil
	}

	fence, err := p.buildFence(where, orderBy)
	if err != nil {
		return sq.SelectBuilder{}, err
	}

	outer := sqlast.Select().
		Column(sqlast.As(renderRecord(rootAlias, p.selects, linksValue(p.links.root)), PayloadColumn)).
		From(sqlutil.QuoteIdentifier(fenceAlias))
	outer = sqlast.InnerJoin(outer, cardschema.CardsTable, rootAlias,
		sq.Expr(sqlutil.QualifiedColumn(rootAlias, cardschema.IDColumn)+" = "+sqlutil.QualifiedColumn(fenceAlias, cardschema.IDColumn)))
	for _, node := range p.links.root.nodes() {
		expansion, err := p.expand(node)
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		outer = sqlast.LeftJoinLateral(outer, expansion, node.expandAlias())
	}
	outer = sqlast.MaterializedCTE(outer, fenceAlias, fence)
	return outer.OrderBy(orderBy...), nil
}

// buildFence selects the matching root cards, paginated, together with every
// (parent, link, child) edge that satisfied the link joins.
func (p *queryPlan) buildFence(where *Expression, orderBy []string) (sq.SelectBuilder, error) {
	rootID := sqlutil.QualifiedColumn(rootAlias, cardschema.IDColumn)
	edge := func(col string) string { return sqlutil.QualifiedColumn(edgeAlias, col) }

	q := sqlast.Select(rootID).
		Column(fmt.Sprintf("jsonb_agg(DISTINCT jsonb_build_array(%s, %s, %s)) AS %s",
			edge("parent"), edge("link"), edge("child"), sqlutil.QuoteIdentifier(edgesColumn))).
		From(sqlast.Table(cardschema.CardsTable, rootAlias))

	rows := make([][]string, 0, len(p.links.all))
	for _, node := range p.links.all {
		q = joinLink(q, node)
		rows = append(rows, []string{
			sqlutil.QualifiedColumn(node.parentAlias, cardschema.IDColumn),
			strconv.Itoa(node.index),
			sqlutil.QualifiedColumn(node.alias, cardschema.IDColumn),
		})
	}
	q = sqlast.CrossJoinLateral(q, sqlast.Values(rows), edgeAlias, "parent", "link", "child")
	if !where.IsTautology() {
		q = q.Where(where)
	}
	q = q.GroupBy(rootID).OrderBy(orderBy...)
	return paginate(q, p.options), nil
}

// joinLink joins the links relation and the linked card of node, traversing
// the link forwards by name or backwards by inverse name.
func joinLink(q sq.SelectBuilder, node *linkNode) sq.SelectBuilder {
	e := func(col string) string { return sqlutil.QualifiedColumn(node.edgeAlias(), col) }
	parentID := sqlutil.QualifiedColumn(node.parentAlias, cardschema.IDColumn)
	linkedID := sqlutil.QualifiedColumn(node.alias, cardschema.IDColumn)

	edgeOn := sq.Expr(fmt.Sprintf("(%s = %s AND %s = ?) OR (%s = %s AND %s = ?)",
		e(cardschema.LinkFromColumn), parentID, e(cardschema.LinkNameColumn),
		e(cardschema.LinkToColumn), parentID, e(cardschema.LinkInverseColumn)),
		node.linkType, node.linkType)
	q = sqlast.InnerJoin(q, cardschema.LinksTable, node.edgeAlias(), edgeOn)

	target := sq.Expr(fmt.Sprintf("%s = CASE WHEN %s = %s AND %s = ? THEN %s ELSE %s END",
		linkedID, e(cardschema.LinkFromColumn), parentID, e(cardschema.LinkNameColumn),
		e(cardschema.LinkToColumn), e(cardschema.LinkFromColumn)),
		node.linkType)
	cardOn := NewExpression(target).And(node.filter)
	return sqlast.InnerJoin(q, cardschema.CardsTable, node.alias, cardOn)
}

// expand renders the lateral sub-select producing the jsonb array of cards
// linked to the current parent through node, sorted and paginated.
func (p *queryPlan) expand(node *linkNode) (sq.SelectBuilder, error) {
	e := sqlutil.QuoteIdentifier(node.edgeAlias())
	elem := sqlutil.QualifiedColumn(node.edgeAlias(), "value")
	parentID := sqlutil.QualifiedColumn(node.parentAlias, cardschema.IDColumn)

	edges := sqlast.Select().Distinct().
		Column(fmt.Sprintf("(%s->>0) AS %s", elem, sqlutil.QuoteIdentifier("parent"))).
		Column(fmt.Sprintf("(%s->>2) AS %s", elem, sqlutil.QuoteIdentifier("child"))).
		From(sqlast.FunctionSource("jsonb_array_elements", sqlutil.QualifiedColumn(fenceAlias, edgesColumn), node.edgeAlias(), "value")).
		Where(sq.Expr(fmt.Sprintf("(%s->>1)::int = ?", elem), node.index)).
		Where(sq.Expr(fmt.Sprintf("(%s->>0) = %s::text", elem, parentID)))

	orderBy, err := orderByClauses(node.alias, node.options.SortBy, node.options.SortDir)
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	if len(orderBy) == 0 {
		orderBy = defaultLinkOrder(node.alias)
	}

	ranked := sqlast.Select().
		Column(sqlast.As(renderRecord(node.alias, node.selects, linksValue(node.children)), PayloadColumn)).
		Column(sqlast.RowNumberOver(e+"."+sqlutil.QuoteIdentifier("parent"), orderBy...) + " AS " + sqlutil.QuoteIdentifier(rowNumber)).
		FromSelect(edges, e)
	ranked = sqlast.InnerJoin(ranked, cardschema.CardsTable, node.alias,
		sq.Expr(sqlutil.QualifiedColumn(node.alias, cardschema.IDColumn)+"::text = "+e+"."+sqlutil.QuoteIdentifier("child")))
	for _, child := range node.children.nodes() {
		expansion, err := p.expand(child)
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		ranked = sqlast.LeftJoinLateral(ranked, expansion, child.expandAlias())
	}

	rankedAlias := node.alias + "_ranked"
	r := func(col string) string { return sqlutil.QualifiedColumn(rankedAlias, col) }
	out := sqlast.Select(fmt.Sprintf("jsonb_agg(%s ORDER BY %s) AS %s", r(PayloadColumn), r(rowNumber), sqlutil.QuoteIdentifier(PayloadColumn))).
		FromSelect(ranked, sqlutil.QuoteIdentifier(rankedAlias))
	if node.options.Skip > 0 {
		out = out.Where(sq.Expr(r(rowNumber)+" > ?", node.options.Skip))
	}
	if node.options.Limit > 0 {
		out = out.Where(sq.Expr(r(rowNumber)+" <= ?", node.options.Skip+node.options.Limit))
	}
	return out, nil
}

// linksValue renders the links field of a card: an object mapping each link
// type to the array of expanded linked cards.
func linksValue(set *linkSet) sq.Sqlizer {
	if set.empty() {
		return sq.Expr(emptyObject)
	}
	parts := []any{"jsonb_build_object("}
	for i, linkType := range set.order {
		if i > 0 {
			parts = append(parts, ", ")
		}
		parts = append(parts, sqlutil.QuoteString(linkType), ", ")
		for j, node := range set.byType[linkType] {
			if j > 0 {
				parts = append(parts, " || ")
			}
			parts = append(parts, "COALESCE("+sqlutil.QualifiedColumn(node.expandAlias(), PayloadColumn)+", '[]'::jsonb)")
		}
	}
	return sq.ConcatExpr(append(parts, ")")...)
}

func paginate(q sq.SelectBuilder, opts Options) sq.SelectBuilder {
	if opts.Limit > 0 {
		q = q.Limit(uint64(opts.Limit))
	}
	if opts.Skip > 0 {
		q = q.Offset(uint64(opts.Skip))
	}
	return q
}
