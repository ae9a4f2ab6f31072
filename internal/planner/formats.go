package planner

import (
	"github.com/google/uuid"
)

// formatPatterns are the POSIX regular expressions string formats are
// checked with. Formats not listed here are accepted without a check.
var formatPatterns = map[string]string{
	"date-time": `^\d{4}-\d{2}-\d{2}[Tt ]\d{2}:\d{2}:\d{2}(\.\d+)?([Zz]|[+-]\d{2}(:?\d{2})?)$`,
	"date":      `^\d{4}-\d{2}-\d{2}$`,
	"time":      `^\d{2}:\d{2}:\d{2}(\.\d+)?([Zz]|[+-]\d{2}(:?\d{2})?)?$`,
	"email":     `^[^@\s]+@[^@\s]+\.[^@\s]+$`,
	"uuid":      `^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`,
	"uri":       `^[A-Za-z][A-Za-z0-9+.-]*:\S*$`,
	"ipv4":      `^((25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)$`,
	"hostname":  `^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)*$`,
}

// formatCasts are the SQL types formatMinimum and formatMaximum compare in.
var formatCasts = map[string]string{
	"date-time": "timestamptz",
	"date":      "date",
}

// isCanonicalUUID reports whether s is a uuid in the lower-case hyphenated
// form PostgreSQL renders uuid values as text.
func isCanonicalUUID(s string) bool {
	id, err := uuid.Parse(s)
	return err == nil && id.String() == s
}
