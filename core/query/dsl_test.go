package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryFilterClone(t *testing.T) {
	t.Run("deep copies nested groups", func(t *testing.T) {
		original := And(
			Condition("status", ComparisonOperatorEq, "open"),
			Or(
				Condition("priority", ComparisonOperatorIn, []any{"high", "urgent"}),
				Condition("owner", ComparisonOperatorEq, "alice"),
			),
		)
		clone := original.Clone()
		require.NotNil(t, clone)

		clone.Group.Conditions[0].Condition.Value = "closed"
		inner := clone.Group.Conditions[1].Group
		inner.Conditions[0].Condition.Value = []any{"low"}

		assert.Equal(t, "open", original.Group.Conditions[0].Condition.Value)
		assert.Equal(t, []any{"high", "urgent"}, original.Group.Conditions[1].Group.Conditions[0].Condition.Value)
	})

	t.Run("clone of nil is nil", func(t *testing.T) {
		var filter *QueryFilter
		assert.Nil(t, filter.Clone())
	})

	t.Run("clone copies slice values", func(t *testing.T) {
		original := Condition("tags", ComparisonOperatorIn, []any{"a", "b"})
		clone := original.Clone()
		clone.Condition.Value.([]any)[0] = "mutated"
		assert.Equal(t, "a", original.Condition.Value.([]any)[0])
	})
}

func TestQueryFilterDepth(t *testing.T) {
	tests := []struct {
		name   string
		filter QueryFilter
		depth  int
	}{
		{
			name:   "bare condition",
			filter: Condition("a", ComparisonOperatorEq, 1),
			depth:  1,
		},
		{
			name:   "flat group",
			filter: And(Condition("a", ComparisonOperatorEq, 1), Condition("b", ComparisonOperatorEq, 2)),
			depth:  2,
		},
		{
			name: "nested group",
			filter: And(
				Condition("a", ComparisonOperatorEq, 1),
				Or(Condition("b", ComparisonOperatorEq, 2), Not(Condition("c", ComparisonOperatorEq, 3))),
			),
			depth: 4,
		},
		{
			name:   "empty group",
			filter: And(),
			depth:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.depth, tt.filter.Depth())
		})
	}
}

func TestQueryFilterFields(t *testing.T) {
	filter := And(
		Condition("status", ComparisonOperatorEq, "open"),
		Or(
			Condition("owner", ComparisonOperatorEq, "alice"),
			Condition("status", ComparisonOperatorNeq, "closed"),
		),
		Not(Condition("archived", ComparisonOperatorExists, nil)),
	)
	assert.Equal(t, []string{"archived", "owner", "status"}, filter.Fields())
}

func TestQueryClone(t *testing.T) {
	limit := &PaginationOptions{Limit: 10, Offset: 20}
	filter := Condition("status", ComparisonOperatorEq, "open")
	original := &Query{
		Collection: "task",
		Filters:    &filter,
		Projection: &ProjectionConfiguration{Include: []string{"id", "title"}},
		Sort:       []SortConfiguration{{Field: "title", Direction: SortDirectionAsc}},
		Pagination: limit,
		Aggregations: []AggregationConfiguration{
			{Type: AggregationTypeCount, Alias: "count"},
		},
	}

	clone := original.Clone()
	clone.Filters.Condition.Value = "closed"
	clone.Projection.Include[0] = "mutated"
	clone.Sort[0].Field = "mutated"
	clone.Pagination.Limit = 99
	clone.Aggregations[0].Alias = "mutated"

	assert.Equal(t, "open", original.Filters.Condition.Value)
	assert.Equal(t, "id", original.Projection.Include[0])
	assert.Equal(t, "title", original.Sort[0].Field)
	assert.Equal(t, 10, original.Pagination.Limit)
	assert.Equal(t, "count", original.Aggregations[0].Alias)
}

func TestComparisonOperatorIsStandard(t *testing.T) {
	for _, op := range GetStandardComparisonOperators() {
		assert.True(t, op.IsStandard(), "operator %q should be standard", op)
	}
	assert.False(t, ComparisonOperator("geo_within").IsStandard())
	assert.False(t, ComparisonOperator("").IsStandard())
}
