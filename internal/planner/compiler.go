package planner

import (
	"fmt"

	"cardql/internal/cardschema"
	"cardql/internal/jsonschema"
)

// compilation is the state of one Compile call.
type compilation struct {
	links            *linkContext
	textSearchConfig string
	elements         int
}

// elementAlias returns a fresh alias for an unnested array element.
func (c *compilation) elementAlias() string {
	c.elements++
	return fmt.Sprintf("item_%d", c.elements)
}

// compileResult is the outcome of compiling one schema node.
type compileResult struct {
	filter  *Expression
	selects *selectMap
	// impliesExistence is set when the filter can only hold for a value
	// that exists, making a separate existence check redundant.
	impliesExistence bool
}

// nodeCompiler compiles one schema node against the value at path.
type nodeCompiler struct {
	c      *compilation
	path   *Path
	schema *jsonschema.Schema
	// branch is set for allOf, anyOf and not branches, which are compiled
	// at the location of their parent and only contribute the properties
	// they name to the projection.
	branch      bool
	linkOptions map[string]Options

	filter     *Expression
	selects    *selectMap
	types      []string
	implies    bool
	properties map[string]*compileResult
}

// compile compiles schema against the value at path.
func (c *compilation) compile(path *Path, schema *jsonschema.Schema, branch bool, linkOptions map[string]Options) (*compileResult, error) {
	if schema.Boolean != nil {
		selects := newSelectMap()
		if !branch {
			selects.selectAll()
		}
		return &compileResult{filter: Literal(*schema.Boolean), selects: selects}, nil
	}

	n := &nodeCompiler{
		c:           c,
		path:        path,
		schema:      schema,
		branch:      branch,
		linkOptions: linkOptions,
		filter:      Literal(true),
		selects:     newSelectMap(),
		properties:  make(map[string]*compileResult),
	}
	if err := n.run(); err != nil {
		return nil, err
	}
	return &compileResult{filter: n.filter, selects: n.selects, impliesExistence: n.implies}, nil
}

func (n *nodeCompiler) and(e *Expression) {
	n.filter = n.filter.And(e)
}

func (n *nodeCompiler) run() error {
	s := n.schema

	// Keywords other keywords depend on.
	if s.Has(jsonschema.KeywordType) {
		n.types = s.Types
		n.and(n.typeCheck(s.Types))
		n.implies = true
	}
	if s.Has(jsonschema.KeywordFormat) {
		n.and(n.ifTypeThen(jsonschema.TypeString, n.formatCheck(s.Format)))
	}

	for _, k := range s.Keywords() {
		if err := n.visit(k); err != nil {
			return err
		}
	}
	return n.finalize()
}

func (n *nodeCompiler) visit(k jsonschema.Keyword) error {
	s := n.schema
	switch k {
	case jsonschema.KeywordAdditionalProperties, jsonschema.KeywordType,
		jsonschema.KeywordRequired, jsonschema.KeywordFormat:
		// Handled before the visit or in finalize.
	case jsonschema.KeywordConst:
		n.equality([]any{s.Const})
	case jsonschema.KeywordEnum:
		n.equality(s.Enum)
	case jsonschema.KeywordProperties:
		return n.compileProperties()
	case jsonschema.KeywordAllOf:
		return n.allOf()
	case jsonschema.KeywordAnyOf:
		return n.anyOf()
	case jsonschema.KeywordNot:
		return n.not()
	case jsonschema.KeywordItems:
		return n.items()
	case jsonschema.KeywordContains:
		return n.contains()
	case jsonschema.KeywordPattern:
		n.and(n.ifTypeThen(jsonschema.TypeString, n.patternCheck(s.Pattern, false)))
	case jsonschema.KeywordRegexp:
		n.and(n.ifTypeThen(jsonschema.TypeString, n.patternCheck(s.Regexp.Pattern, s.Regexp.CaseInsensitive)))
	case jsonschema.KeywordFullTextSearch:
		n.and(n.fullTextCheck(s.FullTextSearch))
	case jsonschema.KeywordFormatMinimum:
		n.and(n.ifTypeThen(jsonschema.TypeString, n.formatBound(">=", s.FormatMinimum)))
	case jsonschema.KeywordFormatMaximum:
		n.and(n.ifTypeThen(jsonschema.TypeString, n.formatBound("<=", s.FormatMaximum)))
	case jsonschema.KeywordMinimum:
		n.and(n.ifTypeThen(jsonschema.TypeNumber, n.numberCheck(">=", s.Minimum)))
	case jsonschema.KeywordMaximum:
		n.and(n.ifTypeThen(jsonschema.TypeNumber, n.numberCheck("<=", s.Maximum)))
	case jsonschema.KeywordExclusiveMinimum:
		n.and(n.ifTypeThen(jsonschema.TypeNumber, n.numberCheck(">", s.ExclusiveMinimum)))
	case jsonschema.KeywordExclusiveMaximum:
		n.and(n.ifTypeThen(jsonschema.TypeNumber, n.numberCheck("<", s.ExclusiveMaximum)))
	case jsonschema.KeywordMultipleOf:
		n.and(n.ifTypeThen(jsonschema.TypeNumber, n.multipleOfCheck(s.MultipleOf)))
	case jsonschema.KeywordMinLength:
		n.and(n.ifTypeThen(jsonschema.TypeString, n.stringLengthCheck(">=", s.MinLength)))
	case jsonschema.KeywordMaxLength:
		n.and(n.ifTypeThen(jsonschema.TypeString, n.stringLengthCheck("<=", s.MaxLength)))
	case jsonschema.KeywordMinItems:
		n.and(n.ifTypeThen(jsonschema.TypeArray, n.arrayLengthCheck(">=", s.MinItems)))
	case jsonschema.KeywordMaxItems:
		n.and(n.ifTypeThen(jsonschema.TypeArray, n.arrayLengthCheck("<=", s.MaxItems)))
	case jsonschema.KeywordMinProperties:
		n.and(n.ifTypeThen(jsonschema.TypeObject, n.propertyCountCheck(">=", s.MinProperties)))
	case jsonschema.KeywordMaxProperties:
		n.and(n.ifTypeThen(jsonschema.TypeObject, n.propertyCountCheck("<=", s.MaxProperties)))
	case jsonschema.KeywordLinks:
		return n.compileLinks()
	default:
		return jsonschema.Errorf(s.Pointer, "unsupported keyword %q", k.String())
	}
	return nil
}

// atCardRoot reports whether the node describes a whole card.
func (n *nodeCompiler) atCardRoot() bool {
	return n.path.IsRecord()
}

// withProperty runs fn with the path descended into the named property and
// restores it afterwards.
func (n *nodeCompiler) withProperty(name string, fn func()) {
	pushed := 1
	if n.atCardRoot() {
		pushed = pushCardProperty(n.path, name)
	} else {
		n.path.Push(Key(name))
	}
	defer func() {
		for i := 0; i < pushed; i++ {
			n.path.Pop()
		}
	}()
	fn()
}

func (n *nodeCompiler) compileProperties() error {
	for _, name := range n.schema.PropertyNames() {
		sub := n.schema.Properties[name]
		if n.atCardRoot() && name == cardschema.LinksField {
			n.properties[name] = &compileResult{filter: Literal(true), selects: fullSelectMap()}
			continue
		}
		var r *compileResult
		var err error
		n.withProperty(name, func() {
			r, err = n.c.compile(n.path, sub, false, nil)
		})
		if err != nil {
			return err
		}
		n.properties[name] = r
	}
	return nil
}

func (n *nodeCompiler) allOf() error {
	for _, sub := range n.schema.AllOf {
		r, err := n.c.compile(n.path, sub, true, n.linkOptions)
		if err != nil {
			return err
		}
		n.and(r.filter)
		n.selects.merge(r.selects)
		n.implies = n.implies || r.impliesExistence
	}
	return nil
}

func (n *nodeCompiler) anyOf() error {
	var filter *Expression
	maps := make([]*selectMap, 0, len(n.schema.AnyOf))
	conds := make([]*Expression, 0, len(n.schema.AnyOf))
	implies := true
	for _, sub := range n.schema.AnyOf {
		r, err := n.c.compile(n.path, sub, true, n.linkOptions)
		if err != nil {
			return err
		}
		maps = append(maps, r.selects)
		conds = append(conds, r.filter.Clone())
		implies = implies && r.impliesExistence
		filter = orCondition(filter, r.filter)
	}
	n.and(filter)
	n.selects.merge(mergeBranches(maps, conds))
	n.implies = n.implies || implies
	return nil
}

func (n *nodeCompiler) not() error {
	r, err := n.c.compile(n.path, n.schema.Not, true, n.linkOptions)
	if err != nil {
		return err
	}
	n.and(r.filter.Negate())
	return nil
}

func (n *nodeCompiler) compileLinks() error {
	for _, linkType := range n.schema.LinkTypes() {
		sub := n.schema.Links[linkType]
		unsatisfiable := false
		node, err := n.c.links.AddLink(linkType, n.linkOptions[linkType],
			func(alias string, options Options) (*Expression, *selectMap, error) {
				r, err := n.c.compile(NewCardPath(alias), sub, false, options.Links)
				if err != nil {
					return nil, nil, err
				}
				unsatisfiable = r.filter.IsUnsatisfiable()
				return r.filter, r.selects, nil
			})
		if err != nil {
			return err
		}
		n.and(NewExpression(linkFilter{node: node}))
		if unsatisfiable {
			n.filter.MakeUnsatisfiable()
		}
	}
	n.selects.addKey(cardschema.LinksField, nil)
	return nil
}

// finalize folds required and properties into the filter and settles the
// projection. Both keywords only constrain objects.
func (n *nodeCompiler) finalize() error {
	s := n.schema
	objectPred := Literal(true)
	for _, name := range s.PropertyNames() {
		r := n.properties[name]
		if n.atCardRoot() && name == cardschema.LinksField {
			continue
		}
		var presence *Expression
		n.withProperty(name, func() { presence = n.presenceCheck() })

		if s.IsRequired(name) {
			if !r.impliesExistence {
				objectPred = objectPred.And(presence)
			}
			objectPred = objectPred.And(r.filter)
			continue
		}
		if r.filter.IsTautology() {
			continue
		}
		objectPred = objectPred.And(presence.Implies(r.filter))
	}

	for _, name := range s.Required {
		if _, declared := s.Properties[name]; declared {
			continue
		}
		if n.atCardRoot() && name == cardschema.LinksField {
			continue
		}
		n.withProperty(name, func() { objectPred = objectPred.And(n.presenceCheck()) })
	}

	if ap := s.AdditionalProperties; ap != nil && ap.Boolean == nil {
		pred, err := n.additionalPropertiesCheck(ap)
		if err != nil {
			return err
		}
		objectPred = objectPred.And(pred)
	}

	if !objectPred.IsTautology() {
		n.and(n.ifTypeThen(jsonschema.TypeObject, objectPred))
	}
	n.settleProjection()
	return nil
}

func (n *nodeCompiler) settleProjection() {
	s := n.schema
	ap := s.AdditionalProperties
	closed := ap != nil && ap.Boolean != nil && !*ap.Boolean
	// Keys merged in from allOf and anyOf count as declared; the links field
	// is always added and does not.
	declared := len(s.Properties) > 0 || len(s.Required) > 0 ||
		n.selects.projectsBeyond(cardschema.LinksField)

	switch {
	case closed && declared:
	case closed:
		n.selects.selectAll()
	case ap != nil:
		// additionalProperties true or a schema keeps every key.
		n.selects.selectAll()
	case !n.branch:
		n.selects.selectAll()
	}

	for _, name := range s.PropertyNames() {
		n.selects.addKey(name, n.properties[name].selects)
	}
	for _, name := range s.Required {
		n.selects.addKey(name, nil)
	}
}
