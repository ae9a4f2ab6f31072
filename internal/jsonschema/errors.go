package jsonschema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSchema is matched by every schema error.
var ErrInvalidSchema = errors.New("invalid schema")

// InvalidSchemaError reports a structural problem at a location in the
// schema document.
type InvalidSchemaError struct {
	// Pointer is the JSON pointer of the offending schema node.
	Pointer string
	Message string
}

func (e *InvalidSchemaError) Error() string {
	pointer := e.Pointer
	if pointer == "" {
		pointer = "/"
	}
	return fmt.Sprintf("invalid schema at %s: %s", pointer, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidSchema.
func (e *InvalidSchemaError) Unwrap() error {
	return ErrInvalidSchema
}

// Errorf builds an InvalidSchemaError at pointer.
func Errorf(pointer, format string, args ...any) error {
	return &InvalidSchemaError{Pointer: pointer, Message: fmt.Sprintf(format, args...)}
}

// JoinPointer appends one reference token to a JSON pointer.
func JoinPointer(pointer string, token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	token = strings.ReplaceAll(token, "/", "~1")
	return pointer + "/" + token
}
