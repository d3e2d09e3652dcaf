package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/query"
	"github.com/asaidimu/go-daraja/core/schema"
)

func planObject() *schema.Object {
	required := true
	return &schema.Object{
		Name:       "task",
		Version:    "1",
		PrimaryKey: "id",
		Fields: map[string]*schema.FieldDefinition{
			"id":       {Name: "id", Type: schema.FieldTypeString, Required: &required},
			"title":    {Name: "title", Type: schema.FieldTypeString},
			"priority": {Name: "priority", Type: schema.FieldTypeString},
			"estimate": {Name: "estimate", Type: schema.FieldTypeInteger},
			"label": {
				Name: "label",
				Type: schema.FieldTypeString,
				Computed: &schema.ComputedField{
					Expression: "title + ' (' + priority + ')'",
					DependsOn:  []string{"title", "priority"},
				},
			},
		},
	}
}

func TestParameterize(t *testing.T) {
	filter := query.And(
		query.Condition("status", query.ComparisonOperatorEq, "open"),
		query.Condition("priority", query.ComparisonOperatorIn, []any{"high", "urgent"}),
		query.Condition("archived", query.ComparisonOperatorNotExists, nil),
	)

	skeleton, slots, values := Parameterize(&filter)
	require.NotNil(t, skeleton)

	require.Len(t, slots, 3)
	assert.Equal(t, driver.ParameterSlot{Name: "status", Ordinal: 1}, slots[0])
	assert.Equal(t, driver.ParameterSlot{Name: "priority[0]", Ordinal: 2}, slots[1])
	assert.Equal(t, driver.ParameterSlot{Name: "priority[1]", Ordinal: 3}, slots[2])
	assert.Equal(t, []any{"open", "high", "urgent"}, values)

	conds := skeleton.Group.Conditions
	assert.Equal(t, driver.ParamRef{Ordinal: 1}, conds[0].Condition.Value)
	assert.Equal(t, driver.ParamList{Ordinals: []int{2, 3}}, conds[1].Condition.Value)
	assert.Nil(t, conds[2].Condition.Value)

	// The input tree keeps its literals.
	assert.Equal(t, "open", filter.Group.Conditions[0].Condition.Value)
	assert.Equal(t, []any{"high", "urgent"}, filter.Group.Conditions[1].Condition.Value)
}

func TestInstantiate(t *testing.T) {
	filter := query.And(
		query.Condition("status", query.ComparisonOperatorEq, "open"),
		query.Condition("priority", query.ComparisonOperatorIn, []any{"high", "urgent"}),
	)
	skeleton, _, values := Parameterize(&filter)

	concrete, err := Instantiate(skeleton, values)
	require.NoError(t, err)
	assert.Equal(t, filter, *concrete)

	rebound, err := Instantiate(skeleton, []any{"closed", "low", "medium"})
	require.NoError(t, err)
	assert.Equal(t, "closed", rebound.Group.Conditions[0].Condition.Value)
	assert.Equal(t, []any{"low", "medium"}, rebound.Group.Conditions[1].Condition.Value)

	_, err = Instantiate(skeleton, []any{"only-one"})
	require.Error(t, err)
}

func TestShapeKey(t *testing.T) {
	obj := planObject()

	build := func(priorities []any, limit int) (*query.Query, string) {
		q := query.NewQueryBuilder("task").
			Where("priority").In(priorities...).
			OrderByDesc("priority").
			Limit(limit).
			Build()
		skeleton, _, _ := Parameterize(q.Filters)
		key, _ := ShapeKey("sqlite", obj, q, skeleton)
		return q, key
	}

	t.Run("same structure different literals share a key", func(t *testing.T) {
		_, key1 := build([]any{"high", "urgent"}, 10)
		_, key2 := build([]any{"low", "medium"}, 10)
		assert.Equal(t, key1, key2)
	})

	t.Run("list arity is structure", func(t *testing.T) {
		_, key1 := build([]any{"high", "urgent"}, 10)
		_, key2 := build([]any{"high", "urgent", "low"}, 10)
		assert.NotEqual(t, key1, key2)
	})

	t.Run("window is structure", func(t *testing.T) {
		_, key1 := build([]any{"high"}, 10)
		_, key2 := build([]any{"high"}, 20)
		assert.NotEqual(t, key1, key2)
	})

	t.Run("backend and version separate keys", func(t *testing.T) {
		q := query.NewQueryBuilder("task").Where("title").Eq("x").Build()
		skeleton, _, _ := Parameterize(q.Filters)
		key1, _ := ShapeKey("sqlite", obj, q, skeleton)
		key2, _ := ShapeKey("postgres", obj, q, skeleton)
		assert.NotEqual(t, key1, key2)

		bumped := planObject()
		bumped.Version = "2"
		key3, _ := ShapeKey("sqlite", bumped, q, skeleton)
		assert.NotEqual(t, key1, key3)
	})

	t.Run("shape is readable", func(t *testing.T) {
		q := query.NewQueryBuilder("task").Where("priority").In("a", "b").Build()
		skeleton, _, _ := Parameterize(q.Filters)
		_, shape := ShapeKey("sqlite", obj, q, skeleton)
		assert.Contains(t, shape, "priority in @x2")
		assert.Contains(t, shape, "task@1")
	})
}
