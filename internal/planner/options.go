package planner

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidOptions is matched by every query options error.
var ErrInvalidOptions = errors.New("invalid query options")

// Options control ordering and pagination of a query, and of every linked
// collection by link type.
type Options struct {
	// Limit caps the number of results; zero means no limit.
	Limit int
	// Skip drops the first results.
	Skip int
	// SortBy is a path from the card root, such as ["data", "timestamp"] or
	// ["version"].
	SortBy []string
	// SortDir is "asc" (the default) or "desc".
	SortDir string
	// Links holds the options of linked collections, keyed by link type.
	Links map[string]Options
}

func (o Options) validate(at string) error {
	if o.Limit < 0 {
		return fmt.Errorf("%w: %slimit must not be negative", ErrInvalidOptions, at)
	}
	if o.Skip < 0 {
		return fmt.Errorf("%w: %sskip must not be negative", ErrInvalidOptions, at)
	}
	if _, err := sortDirection(o.SortDir); err != nil {
		return fmt.Errorf("%w: %s%v", ErrInvalidOptions, at, err)
	}
	for i, segment := range o.SortBy {
		if strings.TrimSpace(segment) == "" {
			return fmt.Errorf("%w: %ssortBy segment %d is empty", ErrInvalidOptions, at, i)
		}
	}
	for linkType, linkOpts := range o.Links {
		if err := linkOpts.validate(at + "links[" + linkType + "]."); err != nil {
			return err
		}
	}
	return nil
}

func sortDirection(dir string) (string, error) {
	switch strings.ToLower(dir) {
	case "", "asc":
		return "ASC", nil
	case "desc":
		return "DESC", nil
	default:
		return "", fmt.Errorf("sortDir must be asc or desc, got %q", dir)
	}
}
