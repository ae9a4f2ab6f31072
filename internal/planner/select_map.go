package planner

import (
	"cardql/internal/cardschema"
	"cardql/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

const emptyObject = "'{}'::jsonb"

// selectMap describes which parts of a value are projected. When all holds
// the whole value is returned; otherwise only keys are, each under its own
// condition and restricted by its own child map.
type selectMap struct {
	// all is the condition under which the whole value is projected; nil
	// means never.
	all   *Expression
	keys  map[string]*selectKey
	order []string
}

type selectKey struct {
	// cond is nil for keys that are always projected.
	cond *Expression
	// child is nil when the whole value under the key is projected.
	child *selectMap
}

func newSelectMap() *selectMap {
	return &selectMap{keys: make(map[string]*selectKey)}
}

func fullSelectMap() *selectMap {
	m := newSelectMap()
	m.all = Literal(true)
	return m
}

func (m *selectMap) clone() *selectMap {
	if m == nil {
		return nil
	}
	out := newSelectMap()
	if m.all != nil {
		out.all = m.all.Clone()
	}
	for _, key := range m.order {
		out.keys[key] = m.keys[key].clone()
		out.order = append(out.order, key)
	}
	return out
}

func (k *selectKey) clone() *selectKey {
	out := &selectKey{child: k.child.clone()}
	if k.cond != nil {
		out.cond = k.cond.Clone()
	}
	return out
}

func (m *selectMap) isFull() bool {
	return m == nil || (m.all != nil && m.all.IsTautology())
}

// selectAll projects the whole value unconditionally.
func (m *selectMap) selectAll() {
	m.all = Literal(true)
}

// projectsBeyond reports whether m projects anything other than key.
func (m *selectMap) projectsBeyond(key string) bool {
	if m.all != nil {
		return true
	}
	_, has := m.keys[key]
	return len(m.keys) > 1 || (len(m.keys) == 1 && !has)
}

// addKey projects key unconditionally, restricted by child.
func (m *selectMap) addKey(key string, child *selectMap) {
	m.mergeKey(key, &selectKey{child: child})
}

func (m *selectMap) mergeKey(key string, k *selectKey) {
	existing, ok := m.keys[key]
	if !ok {
		m.keys[key] = k
		m.order = append(m.order, key)
		return
	}
	switch {
	case existing.cond == nil:
	case k.cond == nil:
		existing.cond = nil
	default:
		existing.cond = existing.cond.Or(k.cond)
	}
	existing.child = unionMaps(existing.child, k.child)
}

// merge folds other into m unconditionally: every key either side projects
// is projected. Nested maps merge recursively.
func (m *selectMap) merge(other *selectMap) {
	if other == nil {
		m.selectAll()
		return
	}
	switch {
	case other.all == nil:
	case m.all == nil:
		m.all = other.all
	default:
		m.all = m.all.Or(other.all)
	}
	for _, key := range other.order {
		m.mergeKey(key, other.keys[key])
	}
}

func unionMaps(a, b *selectMap) *selectMap {
	if a == nil || b == nil {
		return nil
	}
	a.merge(b)
	return a
}

// mergeBranches combines the maps of anyOf branches, conds[i] being the
// filter of branch i. Keys every branch projects are projected
// unconditionally; the others are projected when one of the branches that
// selects them holds.
func mergeBranches(maps []*selectMap, conds []*Expression) *selectMap {
	out := newSelectMap()

	allEverywhere := true
	var allCond *Expression
	for i, m := range maps {
		if m.isFull() {
			allCond = orCondition(allCond, conds[i].Clone())
			continue
		}
		allEverywhere = false
		if m.all != nil {
			allCond = orCondition(allCond, conds[i].Clone().And(m.all.Clone()))
		}
	}
	if allEverywhere {
		out.selectAll()
		return out
	}
	out.all = allCond

	var order []string
	holders := make(map[string][]int)
	for i, m := range maps {
		if m.isFull() {
			continue
		}
		for _, key := range m.order {
			if _, seen := holders[key]; !seen {
				order = append(order, key)
			}
			holders[key] = append(holders[key], i)
		}
	}

	for _, key := range order {
		idx := holders[key]
		common := len(idx) == len(maps)

		var cond *Expression
		wholeValue := false
		childMaps := make([]*selectMap, 0, len(idx))
		childConds := make([]*Expression, 0, len(idx))
		for _, i := range idx {
			k := maps[i].keys[key]
			branch := conds[i].Clone()
			if k.cond != nil {
				branch = branch.And(k.cond.Clone())
			}
			cond = orCondition(cond, branch)
			if k.child == nil {
				wholeValue = true
				continue
			}
			childMaps = append(childMaps, k.child)
			childConds = append(childConds, conds[i])
		}
		if common && allKeysUnconditional(maps, idx, key) {
			cond = nil
		}

		var child *selectMap
		if !wholeValue {
			child = mergeBranches(childMaps, childConds)
		}
		out.keys[key] = &selectKey{cond: cond, child: child}
		out.order = append(out.order, key)
	}
	return out
}

func allKeysUnconditional(maps []*selectMap, idx []int, key string) bool {
	for _, i := range idx {
		if maps[i].keys[key].cond != nil {
			return false
		}
	}
	return true
}

func orCondition(acc, next *Expression) *Expression {
	if acc == nil {
		return next
	}
	return acc.Or(next)
}

// renderRecord projects the card aliased table as a jsonb object. links is
// the value of the computed links field. Properties without a column of their
// own live in the data document and are projected under its key.
func renderRecord(table string, m *selectMap, links sq.Sqlizer) sq.Sqlizer {
	full := fullRecord(table, links)
	if m.isFull() {
		return full
	}

	var (
		fragments []sq.Sqlizer
		document  *selectMap
		docIndex  int
	)
	for _, key := range m.order {
		k := m.keys[key]
		col, isColumn := cardschema.LookupColumn(key)
		if key == cardschema.DocumentColumn || (!isColumn && key != cardschema.VersionField && key != cardschema.LinksField) {
			if document == nil {
				document = newSelectMap()
				docIndex = len(fragments)
				fragments = append(fragments, nil)
			}
			if key == cardschema.DocumentColumn {
				document.merge(scopedMap(k))
			} else {
				document.mergeKey(key, k.clone())
			}
			continue
		}

		var fragment sq.Sqlizer
		switch {
		case key == cardschema.VersionField:
			fragment = buildObject(key, sq.Expr(versionExpr(table)))
		case key == cardschema.LinksField:
			fragment = buildObject(key, links)
		default:
			ref := sqlutil.QualifiedColumn(table, col.Name)
			value := sq.Sqlizer(sq.Expr(ref))
			if col.IsDocument() {
				value = renderJSON(ref, k.child)
			}
			fragment = buildObject(key, value)
		}
		fragments = append(fragments, conditional(k.cond, fragment))
	}
	if document != nil {
		source := sqlutil.QualifiedColumn(table, cardschema.DocumentColumn)
		fragments[docIndex] = buildObject(cardschema.DocumentColumn, renderJSON(source, document))
	}

	var parts []any
	for _, fragment := range fragments {
		parts = appendFragment(parts, fragment)
	}
	partial := concatObjects(parts)
	if m.all == nil {
		return partial
	}
	return sq.ConcatExpr("CASE WHEN ", m.all, " THEN ", full, " ELSE ", partial, " END")
}

// scopedMap returns the projection of the value under k with k's own
// condition pushed down onto the whole value and each of its keys.
func scopedMap(k *selectKey) *selectMap {
	if k.child == nil {
		m := newSelectMap()
		m.all = Literal(true)
		if k.cond != nil {
			m.all = k.cond.Clone()
		}
		return m
	}
	if k.cond == nil {
		return k.child.clone()
	}
	m := newSelectMap()
	if k.child.all != nil {
		m.all = k.child.all.Clone().And(k.cond.Clone())
	}
	for _, key := range k.child.order {
		ck := k.child.keys[key]
		cond := k.cond.Clone()
		if ck.cond != nil {
			cond = ck.cond.Clone().And(cond)
		}
		m.keys[key] = &selectKey{cond: cond, child: ck.child.clone()}
		m.order = append(m.order, key)
	}
	return m
}

// renderJSON projects the jsonb value source through m.
func renderJSON(source string, m *selectMap) sq.Sqlizer {
	if m.isFull() {
		return sq.Expr(source)
	}
	var parts []any
	for _, key := range m.order {
		k := m.keys[key]
		child := jsonAccess(source, []Step{Key(key)}, false)
		parts = appendFragment(parts, conditional(k.cond, presentKey(child, key, k.child)))
	}
	restricted := sq.ConcatExpr("CASE WHEN jsonb_typeof(", source, ") = 'object' THEN ",
		concatObjects(parts), " ELSE ", source, " END")
	if m.all == nil {
		return restricted
	}
	return sq.ConcatExpr("CASE WHEN ", m.all, " THEN ", source, " ELSE ", restricted, " END")
}

// presentKey renders {key: value} when source exists and {} otherwise.
func presentKey(source, key string, child *selectMap) sq.Sqlizer {
	return sq.ConcatExpr("CASE WHEN ", source, " IS NULL THEN ", emptyObject,
		" ELSE ", buildObject(key, renderJSON(source, child)), " END")
}

func conditional(cond *Expression, fragment sq.Sqlizer) sq.Sqlizer {
	if cond == nil || cond.IsTautology() {
		return fragment
	}
	return sq.ConcatExpr("CASE WHEN ", cond, " THEN ", fragment, " ELSE ", emptyObject, " END")
}

func buildObject(key string, value sq.Sqlizer) sq.Sqlizer {
	return sq.ConcatExpr("jsonb_build_object(", sqlutil.QuoteString(key), ", ", value, ")")
}

func appendFragment(parts []any, fragment sq.Sqlizer) []any {
	if len(parts) > 0 {
		parts = append(parts, " || ")
	}
	return append(parts, fragment)
}

func concatObjects(parts []any) sq.Sqlizer {
	if len(parts) == 0 {
		return sq.Expr(emptyObject)
	}
	return sq.ConcatExpr(append(append([]any{"("}, parts...), ")")...)
}

// fullRecord renders every field of the card aliased table.
func fullRecord(table string, links sq.Sqlizer) sq.Sqlizer {
	parts := []any{"jsonb_build_object("}
	for i, name := range cardschema.FieldNames() {
		if i > 0 {
			parts = append(parts, ", ")
		}
		parts = append(parts, sqlutil.QuoteString(name), ", ")
		switch name {
		case cardschema.VersionField:
			parts = append(parts, versionExpr(table))
		case cardschema.LinksField:
			parts = append(parts, links)
		default:
			parts = append(parts, sqlutil.QualifiedColumn(table, name))
		}
	}
	return sq.ConcatExpr(append(parts, ")")...)
}
