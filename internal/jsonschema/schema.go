// Package jsonschema decodes card query schemas: a restricted JSON Schema
// dialect extended with $$links traversal, regexp and fullTextSearch.
//
// Decoding performs every structural assertion the compiler relies on, so a
// *Schema that decoded without error only needs semantic checks.
package jsonschema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Regexp is the value of the regexp keyword.
type Regexp struct {
	Pattern         string
	CaseInsensitive bool
}

// Schema is one decoded schema node.
type Schema struct {
	// Pointer locates the node in the source document.
	Pointer string
	// Boolean is set for the boolean schemas true and false.
	Boolean *bool

	present uint64

	Types                []string
	Const                any
	Enum                 []any
	Properties           map[string]*Schema
	Required             []string
	AdditionalProperties *Schema
	AllOf                []*Schema
	AnyOf                []*Schema
	Not                  *Schema
	Items                *Schema
	TupleItems           []*Schema
	Contains             *Schema
	Pattern              string
	Regexp               Regexp
	FullTextSearch       string
	Format               string
	FormatMinimum        string
	FormatMaximum        string
	Minimum              float64
	Maximum              float64
	ExclusiveMinimum     float64
	ExclusiveMaximum     float64
	MultipleOf           float64
	MinLength            int
	MaxLength            int
	MinItems             int
	MaxItems             int
	MinProperties        int
	MaxProperties        int
	Links                map[string]*Schema
}

// Has reports whether the keyword is present on the node.
func (s *Schema) Has(k Keyword) bool {
	return s.present&(1<<uint(k)) != 0
}

// Keywords returns the present keywords in dispatch order.
func (s *Schema) Keywords() []Keyword {
	var out []Keyword
	for k := Keyword(0); k < keywordCount; k++ {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// PropertyNames returns the declared property names, sorted.
func (s *Schema) PropertyNames() []string {
	return sortedKeys(s.Properties)
}

// LinkTypes returns the $$links link types, sorted.
func (s *Schema) LinkTypes() []string {
	return sortedKeys(s.Links)
}

// IsRequired reports whether name is listed in required.
func (s *Schema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// IsTuple reports whether items is given as an array of schemas.
func (s *Schema) IsTuple() bool {
	return s.Has(KeywordItems) && s.Items == nil
}

// Bool returns a boolean schema.
func Bool(v bool) *Schema {
	return &Schema{Boolean: &v}
}

func (s *Schema) set(k Keyword) {
	s.present |= 1 << uint(k)
}

func sortedKeys(m map[string]*Schema) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Parse decodes a JSON schema document.
func Parse(data []byte) (*Schema, error) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, Errorf("", "decode JSON: %v", err)
	}
	return FromValue(raw)
}

// ParseYAML decodes a YAML schema document.
func ParseYAML(data []byte) (*Schema, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, Errorf("", "decode YAML: %v", err)
	}
	return FromValue(raw)
}

// FromValue decodes an already unmarshalled document. Numbers may be any Go
// numeric type or json.Number; they are normalized to json.Number so large
// integers keep their exact digits.
func FromValue(v any) (*Schema, error) {
	normalized, err := normalizeValue(v, "")
	if err != nil {
		return nil, err
	}
	return parseNode(normalized, "", true)
}

// NormalizeValue converts a decoded JSON or YAML value to the canonical
// representation used by Const and Enum.
func NormalizeValue(v any) (any, error) {
	return normalizeValue(v, "")
}

func normalizeValue(v any, pointer string) (any, error) {
	switch val := v.(type) {
	case nil, bool, string:
		return val, nil
	case json.Number:
		if _, err := val.Float64(); err != nil {
			return nil, Errorf(pointer, "invalid number %q", val.String())
		}
		return val, nil
	case int:
		return json.Number(strconv.Itoa(val)), nil
	case int64:
		return json.Number(strconv.FormatInt(val, 10)), nil
	case int32:
		return json.Number(strconv.FormatInt(int64(val), 10)), nil
	case uint64:
		return json.Number(strconv.FormatUint(val, 10)), nil
	case uint:
		return json.Number(strconv.FormatUint(uint64(val), 10)), nil
	case float32:
		return floatNumber(float64(val), pointer)
	case float64:
		return floatNumber(val, pointer)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			n, err := normalizeValue(item, JoinPointer(pointer, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			n, err := normalizeValue(item, JoinPointer(pointer, k))
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			key := fmt.Sprint(k)
			n, err := normalizeValue(item, JoinPointer(pointer, key))
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	default:
		return nil, Errorf(pointer, "unsupported value of type %T", v)
	}
}

// parseNode decodes one schema node. linksAllowed is true only at a card
// root and at a linked-card root.
func parseNode(v any, pointer string, linksAllowed bool) (*Schema, error) {
	switch val := v.(type) {
	case bool:
		s := Bool(val)
		s.Pointer = pointer
		return s, nil
	case map[string]any:
		return parseObject(val, pointer, linksAllowed)
	default:
		return nil, Errorf(pointer, "schema must be an object or a boolean, got %s", describe(v))
	}
}

func parseObject(obj map[string]any, pointer string, linksAllowed bool) (*Schema, error) {
	s := &Schema{Pointer: pointer}
	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := obj[name]
		at := JoinPointer(pointer, name)
		if _, ok := annotations[name]; ok {
			continue
		}
		k, ok := LookupKeyword(name)
		if !ok {
			return nil, Errorf(pointer, "unsupported keyword %q", name)
		}
		if k == KeywordLinks && !linksAllowed {
			return nil, Errorf(at, "$$links is only allowed at the root of a card schema")
		}
		if err := s.decodeKeyword(k, value, at); err != nil {
			return nil, err
		}
		s.set(k)
	}

	if s.Has(KeywordFormatMinimum) || s.Has(KeywordFormatMaximum) {
		if !s.Has(KeywordFormat) {
			return nil, Errorf(pointer, "formatMinimum and formatMaximum require format")
		}
		if s.Format != "date-time" && s.Format != "date" {
			return nil, Errorf(pointer, "formatMinimum and formatMaximum are not supported for format %q", s.Format)
		}
	}
	return s, nil
}

func (s *Schema) decodeKeyword(k Keyword, v any, at string) error {
	var err error
	switch k {
	case KeywordType:
		s.Types, err = decodeTypes(v, at)
	case KeywordConst:
		s.Const = v
	case KeywordEnum:
		values, ok := v.([]any)
		if !ok {
			return Errorf(at, "enum must be an array")
		}
		s.Enum = values
	case KeywordProperties:
		s.Properties, err = decodeSchemaMap(v, at)
	case KeywordRequired:
		s.Required, err = decodeStrings(v, at)
	case KeywordAdditionalProperties:
		s.AdditionalProperties, err = parseNode(v, at, false)
	case KeywordAllOf:
		s.AllOf, err = decodeSchemaList(v, at)
	case KeywordAnyOf:
		s.AnyOf, err = decodeSchemaList(v, at)
	case KeywordNot:
		s.Not, err = parseNode(v, at, false)
	case KeywordItems:
		if list, ok := v.([]any); ok {
			s.TupleItems, err = decodeSchemaItems(list, at)
		} else {
			s.Items, err = parseNode(v, at, false)
		}
	case KeywordContains:
		s.Contains, err = parseNode(v, at, false)
	case KeywordPattern:
		s.Pattern, err = decodeString(v, at)
	case KeywordRegexp:
		s.Regexp, err = decodeRegexp(v, at)
	case KeywordFullTextSearch:
		s.FullTextSearch, err = decodeFullTextSearch(v, at)
	case KeywordFormat:
		s.Format, err = decodeString(v, at)
	case KeywordFormatMinimum:
		s.FormatMinimum, err = decodeString(v, at)
	case KeywordFormatMaximum:
		s.FormatMaximum, err = decodeString(v, at)
	case KeywordMinimum:
		s.Minimum, err = decodeNumber(v, at)
	case KeywordMaximum:
		s.Maximum, err = decodeNumber(v, at)
	case KeywordExclusiveMinimum:
		s.ExclusiveMinimum, err = decodeNumber(v, at)
	case KeywordExclusiveMaximum:
		s.ExclusiveMaximum, err = decodeNumber(v, at)
	case KeywordMultipleOf:
		s.MultipleOf, err = decodeNumber(v, at)
		if err == nil && s.MultipleOf <= 0 {
			err = Errorf(at, "multipleOf must be greater than zero")
		}
	case KeywordMinLength:
		s.MinLength, err = decodeCount(v, at)
	case KeywordMaxLength:
		s.MaxLength, err = decodeCount(v, at)
	case KeywordMinItems:
		s.MinItems, err = decodeCount(v, at)
	case KeywordMaxItems:
		s.MaxItems, err = decodeCount(v, at)
	case KeywordMinProperties:
		s.MinProperties, err = decodeCount(v, at)
	case KeywordMaxProperties:
		s.MaxProperties, err = decodeCount(v, at)
	case KeywordLinks:
		s.Links, err = decodeLinks(v, at)
	}
	return err
}

func decodeTypes(v any, at string) ([]string, error) {
	var names []string
	switch val := v.(type) {
	case string:
		names = []string{val}
	case []any:
		strs, err := decodeStrings(val, at)
		if err != nil {
			return nil, err
		}
		names = strs
	default:
		return nil, Errorf(at, "type must be a string or an array of strings")
	}
	for _, name := range names {
		if _, ok := typeNames[name]; !ok {
			return nil, Errorf(at, "unknown type %q", name)
		}
	}
	return names, nil
}

func decodeSchemaMap(v any, at string) (map[string]*Schema, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, Errorf(at, "expected an object of schemas")
	}
	out := make(map[string]*Schema, len(obj))
	for name, raw := range obj {
		sub, err := parseNode(raw, JoinPointer(at, name), false)
		if err != nil {
			return nil, err
		}
		out[name] = sub
	}
	return out, nil
}

func decodeLinks(v any, at string) (map[string]*Schema, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, Errorf(at, "$$links must be an object of schemas")
	}
	out := make(map[string]*Schema, len(obj))
	for linkType, raw := range obj {
		if strings.TrimSpace(linkType) == "" {
			return nil, Errorf(at, "link type must not be empty")
		}
		sub, err := parseNode(raw, JoinPointer(at, linkType), true)
		if err != nil {
			return nil, err
		}
		out[linkType] = sub
	}
	return out, nil
}

func decodeSchemaList(v any, at string) ([]*Schema, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, Errorf(at, "expected an array of schemas")
	}
	if len(list) == 0 {
		return nil, Errorf(at, "expected at least one schema")
	}
	return decodeSchemaItems(list, at)
}

func decodeSchemaItems(list []any, at string) ([]*Schema, error) {
	out := make([]*Schema, len(list))
	for i, raw := range list {
		sub, err := parseNode(raw, JoinPointer(at, strconv.Itoa(i)), false)
		if err != nil {
			return nil, err
		}
		out[i] = sub
	}
	return out, nil
}

func decodeStrings(v any, at string) ([]string, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, Errorf(at, "expected an array of strings")
	}
	out := make([]string, len(list))
	for i, item := range list {
		str, ok := item.(string)
		if !ok {
			return nil, Errorf(JoinPointer(at, strconv.Itoa(i)), "expected a string, got %s", describe(item))
		}
		out[i] = str
	}
	return out, nil
}

func decodeString(v any, at string) (string, error) {
	str, ok := v.(string)
	if !ok {
		return "", Errorf(at, "expected a string, got %s", describe(v))
	}
	return str, nil
}

func floatNumber(f float64, pointer string) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, Errorf(pointer, "invalid number %v", f)
	}
	return json.Number(strconv.FormatFloat(f, 'g', -1, 64)), nil
}

func decodeNumber(v any, at string) (float64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, Errorf(at, "expected a number, got %s", describe(v))
	}
	f, err := n.Float64()
	if err != nil {
		return 0, Errorf(at, "number %s is out of range", n.String())
	}
	return f, nil
}

func decodeCount(v any, at string) (int, error) {
	f, err := decodeNumber(v, at)
	if err != nil || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, Errorf(at, "expected a non-negative integer, got %s", describe(v))
	}
	return int(f), nil
}

func decodeRegexp(v any, at string) (Regexp, error) {
	switch val := v.(type) {
	case string:
		return Regexp{Pattern: val}, nil
	case map[string]any:
		var re Regexp
		for key, raw := range val {
			str, ok := raw.(string)
			if !ok {
				return Regexp{}, Errorf(JoinPointer(at, key), "expected a string, got %s", describe(raw))
			}
			switch key {
			case "pattern":
				re.Pattern = str
			case "flags":
				for _, flag := range str {
					switch flag {
					case 'i':
						re.CaseInsensitive = true
					case 'g', 'm', 's', 'u', 'y':
					default:
						return Regexp{}, Errorf(JoinPointer(at, key), "unsupported regexp flag %q", flag)
					}
				}
			default:
				return Regexp{}, Errorf(at, "unsupported regexp field %q", key)
			}
		}
		if _, ok := val["pattern"]; !ok {
			return Regexp{}, Errorf(at, "regexp requires a pattern")
		}
		return re, nil
	default:
		return Regexp{}, Errorf(at, "regexp must be a string or an object")
	}
}

func decodeFullTextSearch(v any, at string) (string, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return "", Errorf(at, "fullTextSearch must be an object")
	}
	term, ok := obj["term"].(string)
	if !ok {
		return "", Errorf(at, "fullTextSearch requires a string term")
	}
	for key := range obj {
		if key != "term" {
			return "", Errorf(at, "unsupported fullTextSearch field %q", key)
		}
	}
	return term, nil
}

// TypeOf returns the JSON Schema type name of a normalized value. Integral
// numbers report "integer".
func TypeOf(v any) string {
	switch val := v.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBoolean
	case string:
		return TypeString
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return TypeInteger
		}
		return TypeNumber
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return TypeInteger
		}
		f, err := val.Float64()
		if err == nil && f == math.Trunc(f) && !math.IsInf(f, 0) {
			return TypeInteger
		}
		return TypeNumber
	case []any:
		return TypeArray
	case map[string]any:
		return TypeObject
	default:
		return "unknown"
	}
}

func describe(v any) string {
	t := TypeOf(v)
	if t == "unknown" {
		return fmt.Sprintf("%T", v)
	}
	return t
}
