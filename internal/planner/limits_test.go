package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateCostNestedLinks(t *testing.T) {
	ctx := newLinkContext("cards")
	leafBuild := func(string, Options) (*Expression, *selectMap, error) {
		return Literal(true), fullSelectMap(), nil
	}
	_, err := ctx.AddLink("a", Options{}, func(string, Options) (*Expression, *selectMap, error) {
		if _, err := ctx.AddLink("b", Options{}, func(string, Options) (*Expression, *selectMap, error) {
			_, err := ctx.AddLink("c", Options{}, leafBuild)
			return Literal(true), fullSelectMap(), err
		}); err != nil {
			return nil, nil, err
		}
		return Literal(true), fullSelectMap(), nil
	})
	require.NoError(t, err)
	_, err = ctx.AddLink("d", Options{}, leafBuild)
	require.NoError(t, err)

	assert.Equal(t, PlanCost{Links: 4, LinkDepth: 3}, estimateCost(ctx))
}

func TestValidateLimits(t *testing.T) {
	cost := PlanCost{Links: 4, LinkDepth: 3}
	require.NoError(t, validateLimits(cost, PlanLimits{}))
	require.NoError(t, validateLimits(cost, PlanLimits{MaxLinks: 4, MaxLinkDepth: 3}))
	require.EqualError(t, validateLimits(cost, PlanLimits{MaxLinks: 3}), "query exceeds maximum link count of 3 (links: 4)")
	err := validateLimits(cost, PlanLimits{MaxLinkDepth: 2})
	require.EqualError(t, err, "query exceeds maximum link depth of 2 (depth: 3)")
	require.ErrorIs(t, err, ErrLimitExceeded)
}
