package planner

import (
	"errors"
	"fmt"
)

// ErrLimitExceeded is matched by every plan limit violation.
var ErrLimitExceeded = errors.New("query limit exceeded")

type limitError string

func (e limitError) Error() string { return string(e) }

func (e limitError) Is(target error) bool { return target == ErrLimitExceeded }

// PlanLimits defines cost limits applied during compilation. Zero disables a
// limit.
type PlanLimits struct {
	// MaxLinks caps the number of link traversals in one query.
	MaxLinks int
	// MaxLinkDepth caps how deeply $$links may nest.
	MaxLinkDepth int
}

// PlanCost captures the link cost of a compiled query.
type PlanCost struct {
	Links     int
	LinkDepth int
}

func estimateCost(links *linkContext) PlanCost {
	return PlanCost{Links: len(links.all), LinkDepth: linkSetDepth(links.root)}
}

func linkSetDepth(set *linkSet) int {
	depth := 0
	for _, n := range set.nodes() {
		if d := 1 + linkSetDepth(n.children); d > depth {
			depth = d
		}
	}
	return depth
}

func validateLimits(cost PlanCost, limits PlanLimits) error {
	if limits.MaxLinks > 0 && cost.Links > limits.MaxLinks {
		return limitError(fmt.Sprintf("query exceeds maximum link count of %d (links: %d)", limits.MaxLinks, cost.Links))
	}
	if limits.MaxLinkDepth > 0 && cost.LinkDepth > limits.MaxLinkDepth {
		return limitError(fmt.Sprintf("query exceeds maximum link depth of %d (depth: %d)", limits.MaxLinkDepth, cost.LinkDepth))
	}
	return nil
}
