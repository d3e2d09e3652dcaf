package query

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateFilterShapes(t *testing.T) {
	tests := []struct {
		name     string
		raw      any
		expected QueryFilter
	}{
		{
			name:     "triple clause",
			raw:      []any{"status", "=", "open"},
			expected: Condition("status", ComparisonOperatorEq, "open"),
		},
		{
			name:     "triple clause with word operator",
			raw:      []any{"priority", "in", []any{"high", "urgent"}},
			expected: Condition("priority", ComparisonOperatorIn, []any{"high", "urgent"}),
		},
		{
			name:     "two element exists clause",
			raw:      []any{"deleted_at", "is_null"},
			expected: Condition("deleted_at", ComparisonOperatorNotExists, nil),
		},
		{
			name: "implicit and over clause list",
			raw: []any{
				[]any{"status", "=", "open"},
				[]any{"priority", "=", "high"},
			},
			expected: And(
				Condition("status", ComparisonOperatorEq, "open"),
				Condition("priority", ComparisonOperatorEq, "high"),
			),
		},
		{
			name: "tokenized or list",
			raw: []any{
				[]any{"owner", "=", "alice"},
				"or",
				[]any{"owner", "=", "bob"},
			},
			expected: Or(
				Condition("owner", ComparisonOperatorEq, "alice"),
				Condition("owner", ComparisonOperatorEq, "bob"),
			),
		},
		{
			name:     "field to value map is equality",
			raw:      map[string]any{"status": "open"},
			expected: Condition("status", ComparisonOperatorEq, "open"),
		},
		{
			name:     "field to operator map",
			raw:      map[string]any{"estimate": map[string]any{">=": 3}},
			expected: Condition("estimate", ComparisonOperatorGte, 3),
		},
		{
			name: "explicit or group",
			raw: map[string]any{
				"or": []any{
					map[string]any{"owner": "alice"},
					map[string]any{"owner": "bob"},
				},
			},
			expected: Or(
				Condition("owner", ComparisonOperatorEq, "alice"),
				Condition("owner", ComparisonOperatorEq, "bob"),
			),
		},
		{
			name: "not wraps a single clause",
			raw:  map[string]any{"not": map[string]any{"archived": true}},
			expected: Not(
				Condition("archived", ComparisonOperatorEq, true),
			),
		},
		{
			name: "multi key map becomes and",
			raw:  map[string]any{"priority": "high", "status": "open"},
			expected: And(
				Condition("priority", ComparisonOperatorEq, "high"),
				Condition("status", ComparisonOperatorEq, "open"),
			),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TranslateFilters(tt.raw)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.expected, *got)
		})
	}
}

func TestTranslateFilterErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  any
	}{
		{name: "unknown operator", raw: []any{"loc", "geo_within", 5}},
		{name: "in without array operand", raw: []any{"status", "in", "open"}},
		{name: "mixed combinators", raw: []any{
			[]any{"a", "=", 1}, "or", []any{"b", "=", 2}, "and", []any{"c", "=", 3},
		}},
		{name: "token after implicit and", raw: []any{
			[]any{"a", "=", 1}, []any{"b", "=", 2}, "or", []any{"c", "=", 3},
		}},
		{name: "trailing token", raw: []any{[]any{"a", "=", 1}, "or"}},
		{name: "bare scalar clause", raw: []any{42, "=", 1}},
		{name: "not with clause list", raw: map[string]any{
			"not": []any{map[string]any{"a": 1}, map[string]any{"b": 2}, "extra"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TranslateFilters(tt.raw)
			require.Error(t, err)
			var translationErr *TranslationError
			assert.True(t, errors.As(err, &translationErr), "expected a TranslationError, got %v", err)
			assert.NotEmpty(t, translationErr.Reason)
		})
	}
}

func TestTranslateQuery(t *testing.T) {
	t.Run("full request", func(t *testing.T) {
		raw := map[string]any{
			"filters": map[string]any{"status": "open"},
			"fields":  []any{"id", "title"},
			"sort":    []any{"-priority", "title"},
			"top":     10,
			"skip":    20,
			"aggregate": []any{
				"count",
				map[string]any{"type": "avg", "field": "estimate"},
			},
		}
		q, err := Translate("task", raw)
		require.NoError(t, err)

		assert.Equal(t, "task", q.Collection)
		require.NotNil(t, q.Filters)
		assert.Equal(t, Condition("status", ComparisonOperatorEq, "open"), *q.Filters)
		require.NotNil(t, q.Projection)
		assert.Equal(t, []string{"id", "title"}, q.Projection.Include)
		require.Len(t, q.Sort, 2)
		assert.Equal(t, SortConfiguration{Field: "priority", Direction: SortDirectionDesc}, q.Sort[0])
		assert.Equal(t, SortConfiguration{Field: "title", Direction: SortDirectionAsc}, q.Sort[1])
		require.NotNil(t, q.Pagination)
		assert.Equal(t, 10, q.Pagination.Limit)
		assert.Equal(t, 20, q.Pagination.Offset)
		require.Len(t, q.Aggregations, 2)
		assert.Equal(t, AggregationConfiguration{Type: AggregationTypeCount, Alias: "count"}, q.Aggregations[0])
		assert.Equal(t, AggregationConfiguration{Type: AggregationTypeAvg, Field: "estimate", Alias: "avg_estimate"}, q.Aggregations[1])
	})

	t.Run("page and size convert to limit and offset", func(t *testing.T) {
		q, err := Translate("task", map[string]any{"page": 3, "size": 25})
		require.NoError(t, err)
		require.NotNil(t, q.Pagination)
		assert.Equal(t, 25, q.Pagination.Limit)
		assert.Equal(t, 50, q.Pagination.Offset)
	})

	t.Run("page with top conflicts", func(t *testing.T) {
		_, err := Translate("task", map[string]any{"page": 2, "size": 10, "top": 5})
		require.Error(t, err)
	})

	t.Run("unknown request key is rejected", func(t *testing.T) {
		_, err := Translate("task", map[string]any{"filtres": map[string]any{"a": 1}})
		require.Error(t, err)
		var translationErr *TranslationError
		require.True(t, errors.As(err, &translationErr))
		assert.Contains(t, translationErr.Reason, "filtres")
	})

	t.Run("empty request", func(t *testing.T) {
		q, err := Translate("task", map[string]any{})
		require.NoError(t, err)
		assert.Nil(t, q.Filters)
		assert.Nil(t, q.Pagination)
	})
}

func TestTranslateDeterminism(t *testing.T) {
	raw := map[string]any{
		"filters": map[string]any{
			"status":   "open",
			"priority": map[string]any{"in": []any{"high", "urgent"}},
			"or": []any{
				map[string]any{"owner": "alice"},
				map[string]any{"estimate": map[string]any{">": 5}},
			},
		},
		"sort": []any{"-priority"},
		"top":  10,
	}

	first, err := Translate("task", raw)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		next, err := Translate("task", raw)
		require.NoError(t, err)
		assert.Equal(t, first, next, "translation %d diverged", i)
	}
}

func TestTranslateDepthLimit(t *testing.T) {
	deep := any(map[string]any{"leaf": 1})
	for i := 0; i < DefaultMaxFilterDepth+4; i++ {
		deep = map[string]any{"not": deep}
	}
	_, err := TranslateFilters(deep)
	require.Error(t, err)
	var translationErr *TranslationError
	require.True(t, errors.As(err, &translationErr))
	assert.Contains(t, translationErr.Reason, "depth")
}

func TestParseOperator(t *testing.T) {
	tests := []struct {
		raw      string
		expected ComparisonOperator
	}{
		{raw: "=", expected: ComparisonOperatorEq},
		{raw: "==", expected: ComparisonOperatorEq},
		{raw: "eq", expected: ComparisonOperatorEq},
		{raw: "!=", expected: ComparisonOperatorNeq},
		{raw: "<>", expected: ComparisonOperatorNeq},
		{raw: ">=", expected: ComparisonOperatorGte},
		{raw: "not_in", expected: ComparisonOperatorNin},
		{raw: "NOT_IN", expected: ComparisonOperatorNin},
		{raw: "like", expected: ComparisonOperatorLike},
		{raw: "is_null", expected: ComparisonOperatorNotExists},
		{raw: "is_not_null", expected: ComparisonOperatorExists},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			op, err := ParseOperator(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, op)
		})
	}

	_, err := ParseOperator("geo_within")
	require.Error(t, err)
	var translationErr *TranslationError
	assert.True(t, errors.As(err, &translationErr))
}
