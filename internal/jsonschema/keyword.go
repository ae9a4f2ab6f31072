package jsonschema

// Keyword identifies a supported schema keyword. The set is closed; the
// compiler dispatches on it with a switch.
type Keyword int

// Keywords in dispatch order.
const (
	KeywordAdditionalProperties Keyword = iota
	KeywordType
	KeywordRequired
	KeywordFormat
	KeywordConst
	KeywordEnum
	KeywordProperties
	KeywordAllOf
	KeywordAnyOf
	KeywordNot
	KeywordItems
	KeywordContains
	KeywordPattern
	KeywordRegexp
	KeywordFullTextSearch
	KeywordFormatMinimum
	KeywordFormatMaximum
	KeywordMinimum
	KeywordMaximum
	KeywordExclusiveMinimum
	KeywordExclusiveMaximum
	KeywordMultipleOf
	KeywordMinLength
	KeywordMaxLength
	KeywordMinItems
	KeywordMaxItems
	KeywordMinProperties
	KeywordMaxProperties
	KeywordLinks

	keywordCount
)

var keywordNames = [keywordCount]string{
	KeywordAdditionalProperties: "additionalProperties",
	KeywordType:                 "type",
	KeywordRequired:             "required",
	KeywordFormat:               "format",
	KeywordConst:                "const",
	KeywordEnum:                 "enum",
	KeywordProperties:           "properties",
	KeywordAllOf:                "allOf",
	KeywordAnyOf:                "anyOf",
	KeywordNot:                  "not",
	KeywordItems:                "items",
	KeywordContains:             "contains",
	KeywordPattern:              "pattern",
	KeywordRegexp:               "regexp",
	KeywordFullTextSearch:       "fullTextSearch",
	KeywordFormatMinimum:        "formatMinimum",
	KeywordFormatMaximum:        "formatMaximum",
	KeywordMinimum:              "minimum",
	KeywordMaximum:              "maximum",
	KeywordExclusiveMinimum:     "exclusiveMinimum",
	KeywordExclusiveMaximum:     "exclusiveMaximum",
	KeywordMultipleOf:           "multipleOf",
	KeywordMinLength:            "minLength",
	KeywordMaxLength:            "maxLength",
	KeywordMinItems:             "minItems",
	KeywordMaxItems:             "maxItems",
	KeywordMinProperties:        "minProperties",
	KeywordMaxProperties:        "maxProperties",
	KeywordLinks:                "$$links",
}

var keywordsByName = func() map[string]Keyword {
	m := make(map[string]Keyword, len(keywordNames))
	for k, name := range keywordNames {
		m[name] = Keyword(k)
	}
	return m
}()

// annotations are accepted anywhere and have no effect on compilation.
var annotations = map[string]struct{}{
	"title":       {},
	"description": {},
	"$id":         {},
	"$schema":     {},
	"examples":    {},
	"default":     {},
	"$comment":    {},
}

// LookupKeyword resolves a keyword name.
func LookupKeyword(name string) (Keyword, bool) {
	k, ok := keywordsByName[name]
	return k, ok
}

func (k Keyword) String() string {
	if k < 0 || k >= keywordCount {
		return "unknown"
	}
	return keywordNames[k]
}

// Known JSON Schema type names.
const (
	TypeNull    = "null"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeNumber  = "number"
	TypeString  = "string"
	TypeInteger = "integer"
)

var typeNames = map[string]struct{}{
	TypeNull: {}, TypeBoolean: {}, TypeObject: {}, TypeArray: {},
	TypeNumber: {}, TypeString: {}, TypeInteger: {},
}
