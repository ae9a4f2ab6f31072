package planner

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// maxAliasLength keeps generated aliases below PostgreSQL's 63 byte
// identifier limit, including the longest suffix appended to them.
const (
	maxAliasLength  = 63
	aliasSuffixRoom = len("_expand")
	aliasPrefixMax  = maxAliasLength - aliasSuffixRoom - 1 - 16
)

type linkFrame struct {
	linkType   string
	occurrence int
}

// linkNode is one traversed link: the linked card joined under alias,
// reached from the card aliased parentAlias.
type linkNode struct {
	linkType    string
	alias       string
	parentAlias string
	// index identifies the link in the materialized edge list.
	index int
	// path is the slash-joined chain of link types leading here.
	path string
	// filter is the join condition on the linked card; true when hoisted.
	filter   *Expression
	selects  *selectMap
	options  Options
	children *linkSet
}

func (n *linkNode) edgeAlias() string   { return n.alias + "_edge" }
func (n *linkNode) expandAlias() string { return n.alias + "_expand" }

// linkSet records links by link type, preserving every occurrence.
type linkSet struct {
	byType map[string][]*linkNode
	order  []string
}

func newLinkSet() *linkSet {
	return &linkSet{byType: make(map[string][]*linkNode)}
}

func (s *linkSet) add(n *linkNode) {
	if _, ok := s.byType[n.linkType]; !ok {
		s.order = append(s.order, n.linkType)
	}
	s.byType[n.linkType] = append(s.byType[n.linkType], n)
}

// nodes returns the links in first-seen type order.
func (s *linkSet) nodes() []*linkNode {
	var out []*linkNode
	for _, t := range s.order {
		out = append(out, s.byType[t]...)
	}
	return out
}

func (s *linkSet) empty() bool { return len(s.order) == 0 }

// linkContext tracks link traversal for one compilation.
type linkContext struct {
	frames  []linkFrame
	tables  []string
	sets    []*linkSet
	root    *linkSet
	all     []*linkNode
	hoisted []*Expression
}

func newLinkContext(rootTable string) *linkContext {
	root := newLinkSet()
	return &linkContext{tables: []string{rootTable}, sets: []*linkSet{root}, root: root}
}

// currentTable is the alias of the card currently being compiled.
func (c *linkContext) currentTable() string {
	return c.tables[len(c.tables)-1]
}

// count is the number of links recorded so far.
func (c *linkContext) count() int {
	return len(c.all)
}

// linkBuild compiles the linked card schema with the linked card aliased
// alias.
type linkBuild func(alias string, options Options) (*Expression, *selectMap, error)

// AddLink records a traversal of linkType from the current card and
// compiles its sub-schema through build with the new alias pushed. The join
// condition is the compiled filter, unless compiling it recorded further
// links: then the filter is hoisted into the outer WHERE and the join
// condition becomes true.
func (c *linkContext) AddLink(linkType string, options Options, build linkBuild) (*linkNode, error) {
	set := c.sets[len(c.sets)-1]
	frame := linkFrame{linkType: linkType, occurrence: len(set.byType[linkType])}
	c.frames = append(c.frames, frame)
	alias := aliasForFrames(c.frames, len(c.all))

	node := &linkNode{
		linkType:    linkType,
		alias:       alias,
		parentAlias: c.currentTable(),
		index:       len(c.all),
		path:        framePath(c.frames),
		options:     options,
		children:    newLinkSet(),
	}
	set.add(node)
	c.all = append(c.all, node)

	c.tables = append(c.tables, alias)
	c.sets = append(c.sets, node.children)
	before := c.count()
	filter, selects, err := build(alias, options)
	after := c.count()
	c.tables = c.tables[:len(c.tables)-1]
	c.sets = c.sets[:len(c.sets)-1]
	c.frames = c.frames[:len(c.frames)-1]
	if err != nil {
		return nil, err
	}

	node.selects = selects
	if after > before {
		c.hoisted = append(c.hoisted, filter)
		node.filter = Literal(true)
	} else {
		node.filter = filter
	}
	return node, nil
}

// aliasForFrames derives the alias of the innermost frame from the whole
// stack, so equal stacks always produce equal aliases. index is the link's
// position in the compilation and keeps aliases unique when two stacks
// share a hash.
func aliasForFrames(frames []linkFrame, index int) string {
	h := fnv.New64a()
	for _, f := range frames {
		_, _ = h.Write([]byte(f.linkType))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(strconv.Itoa(f.occurrence)))
		_, _ = h.Write([]byte{0})
	}
	suffix := fmt.Sprintf("_%016x_%d", h.Sum64(), index)
	prefix := sanitizeAlias(frames[len(frames)-1].linkType)
	if room := maxAliasLength - aliasSuffixRoom - len(suffix); len(prefix) > room {
		prefix = strings.TrimSuffix(prefix[:room], "_")
	}
	return prefix + suffix
}

func sanitizeAlias(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}
	out := strings.TrimSuffix(b.String(), "_")
	if len(out) > aliasPrefixMax {
		out = strings.TrimSuffix(out[:aliasPrefixMax], "_")
	}
	if out == "" {
		out = "link"
	}
	return out
}

func framePath(frames []linkFrame) string {
	parts := make([]string, len(frames))
	for i, f := range frames {
		parts[i] = f.linkType
	}
	return strings.Join(parts, "/")
}
