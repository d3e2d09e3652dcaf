package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-daraja/core/query"
	"github.com/asaidimu/go-daraja/core/schema"
)

func boolPtr(b bool) *bool { return &b }

func analyzedObject() *schema.Object {
	return &schema.Object{
		Name:       "task",
		Version:    "1.0.0",
		PrimaryKey: "id",
		Fields: map[string]*schema.FieldDefinition{
			"id":       {Name: "id", Type: schema.FieldTypeString},
			"code":     {Name: "code", Type: schema.FieldTypeString, Unique: boolPtr(true)},
			"title":    {Name: "title", Type: schema.FieldTypeString},
			"priority": {Name: "priority", Type: schema.FieldTypeEnum, Values: []any{"low", "medium", "high"}},
			"owner":    {Name: "owner", Type: schema.FieldTypeString},
			"estimate": {Name: "estimate", Type: schema.FieldTypeNumber},
			"label": {Name: "label", Type: schema.FieldTypeString, Computed: &schema.ComputedField{
				Expression: "title + ' (' + priority + ')'",
				DependsOn:  []string{"title", "priority"},
			}},
		},
		Indexes: []schema.IndexDefinition{
			{Name: "task_priority_idx", Fields: []string{"priority"}, Type: schema.IndexTypeNormal},
			{Name: "task_code_key", Fields: []string{"code"}, Type: schema.IndexTypeUnique},
		},
	}
}

func TestExplainBoundedIndexedEquality(t *testing.T) {
	obj := analyzedObject()
	q := query.NewQueryBuilder("task").Where("priority").Eq("high").Limit(10).Build()

	exp := Explain(q, obj)
	assert.Equal(t, "task", exp.Object)
	assert.Equal(t, int64(10), exp.EstimatedRows)
	assert.Equal(t, []string{"task_priority_idx"}, exp.IndexesApplicable)
	assert.Empty(t, exp.Warnings)
	assert.Empty(t, exp.Suggestions)
	assert.Equal(t, 1, exp.ComplexityScore)
}

func TestExplainPointLookupNeedsNoLimit(t *testing.T) {
	obj := analyzedObject()

	t.Run("primary key", func(t *testing.T) {
		q := query.NewQueryBuilder("task").Where("id").Eq("t1").Build()
		exp := Explain(q, obj)
		assert.Equal(t, int64(1), exp.EstimatedRows)
		assert.Equal(t, []string{"task_pk"}, exp.IndexesApplicable)
		assert.Empty(t, exp.Warnings)
		assert.Equal(t, 1, exp.ComplexityScore)
	})

	t.Run("unique field", func(t *testing.T) {
		q := query.NewQueryBuilder("task").Where("code").Eq("T-99").Build()
		exp := Explain(q, obj)
		assert.Equal(t, int64(1), exp.EstimatedRows)
		assert.Equal(t, []string{"task_code_key"}, exp.IndexesApplicable)
		assert.Empty(t, exp.Warnings)
	})
}

func TestExplainUnboundedScan(t *testing.T) {
	obj := analyzedObject()
	exp := Explain(&query.Query{Collection: "task"}, obj)

	assert.Equal(t, int64(1000), exp.EstimatedRows)
	assert.Equal(t, 5, exp.ComplexityScore)
	require.Len(t, exp.Warnings, 1)
	assert.Contains(t, exp.Warnings[0], "returns every row")
	require.Len(t, exp.Suggestions, 1)
	assert.Contains(t, exp.Suggestions[0], "set a limit")
	assert.Empty(t, exp.IndexesApplicable)
}

func TestExplainUnindexedFilterField(t *testing.T) {
	obj := analyzedObject()
	q := query.NewQueryBuilder("task").Where("owner").Eq("alice").Limit(10).Build()

	exp := Explain(q, obj)
	assert.Equal(t, int64(10), exp.EstimatedRows)
	assert.Contains(t, exp.Warnings, `no index covers filter field "owner"`)
	assert.Contains(t, exp.Suggestions, `add an index on "owner"`)
	assert.Empty(t, exp.IndexesApplicable)
}

func TestExplainOperatorWarnings(t *testing.T) {
	obj := analyzedObject()

	t.Run("leading wildcard like", func(t *testing.T) {
		q := query.NewQueryBuilder("task").Where("title").Like("%urgent%").Limit(20).Build()
		exp := Explain(q, obj)
		assert.Contains(t, exp.Warnings, `no index covers filter field "title"`)
		assert.Contains(t, exp.Warnings, `like pattern on "title" starts with a wildcard and cannot use an index`)
	})

	t.Run("anchored like", func(t *testing.T) {
		q := query.NewQueryBuilder("task").Where("title").Like("urgent%").Limit(20).Build()
		exp := Explain(q, obj)
		assert.Equal(t, []string{`no index covers filter field "title"`}, exp.Warnings)
	})

	t.Run("negated operator", func(t *testing.T) {
		q := query.NewQueryBuilder("task").Where("priority").Neq("low").Limit(20).Build()
		exp := Explain(q, obj)
		assert.Equal(t, []string{`negated operator "neq" on "priority" cannot narrow an index scan`}, exp.Warnings)
	})

	t.Run("contains without full-text index", func(t *testing.T) {
		q := query.NewQueryBuilder("task").Where("title").Contains("urgent").Limit(20).Build()
		exp := Explain(q, obj)
		assert.Contains(t, exp.Warnings, `contains on "title" needs a full-text index to avoid scanning every candidate row`)
	})

	t.Run("contains with full-text index", func(t *testing.T) {
		fts := analyzedObject()
		fts.Indexes = append(fts.Indexes, schema.IndexDefinition{
			Name: "task_title_fts", Fields: []string{"title"}, Type: schema.IndexTypeFullText,
		})
		q := query.NewQueryBuilder("task").Where("title").Contains("urgent").Limit(20).Build()
		exp := Explain(q, fts)
		assert.Empty(t, exp.Warnings)
		assert.Equal(t, []string{"task_title_fts"}, exp.IndexesApplicable)
	})
}

func TestExplainComputedFieldMovesWork(t *testing.T) {
	obj := analyzedObject()

	t.Run("filter", func(t *testing.T) {
		q := query.NewQueryBuilder("task").Where("label").Eq("x (high)").Limit(5).Build()
		exp := Explain(q, obj)
		assert.Equal(t, []string{`filter on computed field "label" runs in the engine after the backend scan`}, exp.Warnings)
		assert.Equal(t, int64(5), exp.EstimatedRows)
	})

	t.Run("sort", func(t *testing.T) {
		q := query.NewQueryBuilder("task").OrderByAsc("label").Limit(5).Build()
		exp := Explain(q, obj)
		assert.Equal(t, []string{`sort on computed field "label" runs in the engine after the backend scan`}, exp.Warnings)
	})

	t.Run("aggregation", func(t *testing.T) {
		q := query.NewQueryBuilder("task").Aggregate(query.AggregationTypeSum, "label", "labels").Build()
		exp := Explain(q, obj)
		assert.Equal(t, []string{`aggregation "labels" targets computed field "label", which compilation rejects`}, exp.Warnings)
	})
}

func TestExplainComplexityAndEstimate(t *testing.T) {
	obj := analyzedObject()
	f := query.And(
		query.Condition("owner", query.ComparisonOperatorEq, "alice"),
		query.Or(
			query.Condition("priority", query.ComparisonOperatorEq, "high"),
			query.Condition("priority", query.ComparisonOperatorEq, "medium"),
			query.Condition("priority", query.ComparisonOperatorEq, "low"),
		),
	)
	q := &query.Query{Collection: "task", Filters: &f}

	exp := Explain(q, obj)
	// 4 conditions, 1 nested group, 2 extra or branches, nothing bounding.
	assert.Equal(t, 15, exp.ComplexityScore)
	assert.Equal(t, int64(27), exp.EstimatedRows)
	assert.Equal(t, []string{"task_priority_idx"}, exp.IndexesApplicable)
	assert.Contains(t, exp.Warnings, "no limit: result size is bounded only by the filter")
}

func TestExplainInListEstimate(t *testing.T) {
	obj := analyzedObject()
	q := query.NewQueryBuilder("task").Where("priority").In("high", "medium").Limit(500).Build()

	exp := Explain(q, obj)
	assert.Equal(t, int64(200), exp.EstimatedRows)
}

func TestExplainSortSuggestions(t *testing.T) {
	obj := analyzedObject()

	q := query.NewQueryBuilder("task").OrderByAsc("owner").Limit(10).Build()
	exp := Explain(q, obj)
	assert.Contains(t, exp.Suggestions, `add an index on "owner" to serve the sort`)
	assert.Empty(t, exp.Warnings)

	q = query.NewQueryBuilder("task").OrderByDesc("priority").Limit(10).Build()
	exp = Explain(q, obj)
	assert.Equal(t, []string{"task_priority_idx"}, exp.IndexesApplicable)
	assert.Empty(t, exp.Suggestions)
}

func TestExplainDeepFilterWarning(t *testing.T) {
	obj := analyzedObject()
	f := query.Condition("owner", query.ComparisonOperatorEq, "alice")
	for i := 0; i < 9; i++ {
		f = query.And(f)
	}
	q := &query.Query{Collection: "task", Filters: &f, Pagination: &query.PaginationOptions{Limit: 10}}

	exp := Explain(q, obj)
	assert.Contains(t, exp.Warnings, "filter nests 10 levels deep; consider flattening")
}

func TestExplainAggregationsBoundResult(t *testing.T) {
	obj := analyzedObject()
	q := query.NewQueryBuilder("task").
		Count("total").
		Aggregate(query.AggregationTypeAvg, "estimate", "avg_estimate").
		Build()

	exp := Explain(q, obj)
	assert.Equal(t, int64(1), exp.EstimatedRows)
	assert.Equal(t, 0, exp.ComplexityScore)
	assert.Empty(t, exp.Warnings)
}

func TestExplainUndeclaredField(t *testing.T) {
	obj := analyzedObject()
	q := query.NewQueryBuilder("task").Where("missing").Eq(1).Limit(10).Build()

	exp := Explain(q, obj)
	assert.Contains(t, exp.Warnings, `filter references undeclared field "missing"`)
}

func TestExplainDeterminism(t *testing.T) {
	obj := analyzedObject()
	f := query.And(
		query.Condition("owner", query.ComparisonOperatorEq, "alice"),
		query.Or(
			query.Condition("priority", query.ComparisonOperatorIn, []any{"high", "medium"}),
			query.Condition("label", query.ComparisonOperatorEq, "x (high)"),
		),
	)
	q := &query.Query{
		Collection: "task",
		Filters:    &f,
		Sort:       []query.SortConfiguration{{Field: "owner", Direction: query.SortDirectionAsc}},
	}

	first := Explain(q, obj)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Explain(q, obj))
	}
}
