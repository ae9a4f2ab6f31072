// Package cardschema describes the fixed relational layout cards and links
// are stored in: column names, SQL kinds, the JSON type each column exposes,
// and nullability.
package cardschema

// Kind is the SQL storage category of a column or of an array element.
type Kind int

const (
	// KindText is a text-like scalar.
	KindText Kind = iota
	// KindUUID is a uuid scalar, compared as text.
	KindUUID
	// KindBoolean is a boolean scalar.
	KindBoolean
	// KindInteger is an integer scalar.
	KindInteger
	// KindTimestamp is a timestamptz scalar exposed as an ISO 8601 string.
	KindTimestamp
	// KindJSON is a jsonb document.
	KindJSON
	// KindTextArray is a native text[] array.
	KindTextArray
	// KindJSONArray is a native jsonb[] array.
	KindJSONArray
)

// Table and field names shared by the compiler and the store.
const (
	CardsTable = "cards"
	LinksTable = "links"

	IDColumn       = "id"
	DocumentColumn = "data"

	// VersionField is the virtual major.minor.patch string.
	VersionField = "version"
	// LinksField holds the computed link results of a card.
	LinksField = "links"

	LinkFromColumn    = "fromid"
	LinkToColumn      = "toid"
	LinkNameColumn    = "name"
	LinkInverseColumn = "inversename"
)

// VersionColumns are the numeric components of the virtual version field,
// most significant first.
var VersionColumns = []string{"version_major", "version_minor", "version_patch"}

// Column describes one physical card column.
type Column struct {
	Name     string
	Kind     Kind
	Nullable bool
}

var columns = []Column{
	{Name: "id", Kind: KindUUID},
	{Name: "slug", Kind: KindText},
	{Name: "type", Kind: KindText},
	{Name: "name", Kind: KindText, Nullable: true},
	{Name: "tags", Kind: KindTextArray},
	{Name: "markers", Kind: KindTextArray},
	{Name: "active", Kind: KindBoolean},
	{Name: "created_at", Kind: KindTimestamp},
	{Name: "updated_at", Kind: KindTimestamp, Nullable: true},
	{Name: "linked_at", Kind: KindJSON},
	{Name: "requires", Kind: KindJSONArray},
	{Name: "capabilities", Kind: KindJSONArray},
	{Name: "data", Kind: KindJSON},
}

var columnIndex = func() map[string]int {
	index := make(map[string]int, len(columns))
	for i, col := range columns {
		index[col.Name] = i
	}
	return index
}()

// Columns returns the card columns in output order.
func Columns() []Column {
	out := make([]Column, len(columns))
	copy(out, columns)
	return out
}

// LookupColumn returns the column with the given name.
func LookupColumn(name string) (Column, bool) {
	i, ok := columnIndex[name]
	if !ok {
		return Column{}, false
	}
	return columns[i], true
}

// FieldNames returns every top-level key of a projected card, in output order.
func FieldNames() []string {
	names := make([]string, 0, len(columns)+2)
	for _, col := range columns {
		names = append(names, col.Name)
		if col.Name == "type" {
			names = append(names, VersionField)
		}
	}
	return append(names, LinksField)
}

// IsArray reports whether the column is a native SQL array.
func (c Column) IsArray() bool {
	return c.Kind == KindTextArray || c.Kind == KindJSONArray
}

// IsDocument reports whether the column is a jsonb document addressed with
// JSON operators below depth one.
func (c Column) IsDocument() bool {
	return c.Kind == KindJSON
}

// ElementKind returns the kind of the elements of an array column.
func (c Column) ElementKind() Kind {
	switch c.Kind {
	case KindTextArray:
		return KindText
	case KindJSONArray:
		return KindJSON
	default:
		return c.Kind
	}
}

// JSONType returns the JSON Schema type name a non-null value of the column
// has.
func (c Column) JSONType() string {
	return c.Kind.JSONType()
}

// JSONType returns the JSON Schema type name a non-null value of this kind
// has. Documents report "object".
func (k Kind) JSONType() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindJSON:
		return "object"
	case KindTextArray, KindJSONArray:
		return "array"
	default:
		return "string"
	}
}

// Format returns the JSON Schema string format values of the column always
// satisfy, or "" when none applies.
func (c Column) Format() string {
	switch c.Kind {
	case KindTimestamp:
		return "date-time"
	case KindUUID:
		return "uuid"
	default:
		return ""
	}
}
