package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/plan"
	"github.com/asaidimu/go-daraja/core/query"
	"github.com/asaidimu/go-daraja/core/schema"
)

func invoiceObject() *schema.Object {
	required := true
	unique := true
	return &schema.Object{
		Name:       "invoice",
		Version:    "1.3.0",
		PrimaryKey: "id",
		Fields: map[string]*schema.FieldDefinition{
			"id":       {Name: "id", Type: schema.FieldTypeString, Required: &required},
			"number":   {Name: "number", Type: schema.FieldTypeString, Unique: &unique},
			"customer": {Name: "customer", Type: schema.FieldTypeString, Required: &required},
			"status": {Name: "status", Type: schema.FieldTypeEnum,
				Values: []any{"draft", "sent", "paid"}, Default: "draft"},
			"amount": {Name: "amount", Type: schema.FieldTypeDecimal},
			"issued": {Name: "issued", Type: schema.FieldTypeString},
			"items":  {Name: "items", Type: schema.FieldTypeArray},
			"paid":   {Name: "paid", Type: schema.FieldTypeBoolean, Default: false},
			"display_total": {Name: "display_total", Type: schema.FieldTypeString, Computed: &schema.ComputedField{
				Expression: "'#' + number + ' ' + status",
				DependsOn:  []string{"number", "status"},
			}},
		},
		Indexes: []schema.IndexDefinition{
			{Name: "invoice_status_idx", Fields: []string{"status"}, Type: schema.IndexTypeNormal},
			{Name: "invoice_number_uniq", Fields: []string{"number"}, Type: schema.IndexTypeUnique},
			{Name: "invoice_search_fts", Fields: []string{"customer", "number"}, Type: schema.IndexTypeFullText},
		},
	}
}

// lowerQuery parameterizes the filter the way the planner does, then lowers
// the query to SQL.
func lowerQuery(t *testing.T, q *query.Query) (*SelectPlan, []driver.ParameterSlot, []any) {
	t.Helper()
	skeleton, _, values := plan.Parameterize(q.Filters)
	q.Filters = skeleton
	native, slots, err := New(nil, nil, nil).BuildPlan(q, invoiceObject())
	require.NoError(t, err)
	sel, ok := native.(*SelectPlan)
	require.True(t, ok)
	return sel, slots, values
}

func TestBuildPlanLowersParameterizedFilters(t *testing.T) {
	q := query.NewQueryBuilder("invoice").
		WhereGroup(schema.LogicalAnd).
		Where("status").Eq("sent").
		WhereGroup(schema.LogicalOr).
		Where("customer").In("acme", "globex").
		Where("amount").Gt(250.0).
		End().
		Build()

	sel, slots, values := lowerQuery(t, q)
	assert.Equal(t,
		`SELECT * FROM "invoice" WHERE ("status" = $1 AND ("customer" IN ($2, $3) OR "amount" > $4));`,
		sel.SQL)
	assert.False(t, sel.Aggregated)
	assert.Equal(t, []any{"sent", "acme", "globex", 250.0}, values)

	require.Len(t, slots, 4)
	for i, slot := range slots {
		assert.Equal(t, i+1, slot.Ordinal)
	}
	assert.Equal(t, "status", slots[0].Name)
	assert.Equal(t, "customer[0]", slots[1].Name)
	assert.Equal(t, "customer[1]", slots[2].Name)
	assert.Equal(t, "amount", slots[3].Name)
}

func TestSelectRendersSortAndWindow(t *testing.T) {
	t.Run("limit and offset", func(t *testing.T) {
		q := query.NewQueryBuilder("invoice").
			OrderByDesc("amount").
			OrderByAsc("id").
			Limit(10).
			Offset(20).
			Build()
		sel, _, _ := lowerQuery(t, q)
		assert.Equal(t,
			`SELECT * FROM "invoice" ORDER BY "amount" DESC, "id" ASC LIMIT 10 OFFSET 20;`,
			sel.SQL)
	})

	t.Run("offset alone needs no limit", func(t *testing.T) {
		q := query.NewQueryBuilder("invoice").Offset(5).Build()
		sel, _, _ := lowerQuery(t, q)
		assert.Equal(t, `SELECT * FROM "invoice" OFFSET 5;`, sel.SQL)
	})

	t.Run("computed sort is refused", func(t *testing.T) {
		q := query.NewQueryBuilder("invoice").OrderByAsc("display_total").Build()
		_, _, err := New(nil, nil, nil).BuildPlan(q, invoiceObject())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "computed, not stored")
	})
}

func TestSelectProjections(t *testing.T) {
	t.Run("include", func(t *testing.T) {
		q := query.NewQueryBuilder("invoice").Select("customer", "id").Build()
		sel, _, _ := lowerQuery(t, q)
		assert.Equal(t, `SELECT "customer", "id" FROM "invoice";`, sel.SQL)
	})

	t.Run("exclude enumerates remaining stored columns", func(t *testing.T) {
		q := query.NewQueryBuilder("invoice").Exclude("items", "paid").Build()
		sel, _, _ := lowerQuery(t, q)
		assert.Equal(t,
			`SELECT "amount", "customer", "id", "issued", "number", "status" FROM "invoice";`,
			sel.SQL)
	})

	t.Run("unknown field is refused", func(t *testing.T) {
		q := query.NewQueryBuilder("invoice").Select("vat").Build()
		_, _, err := New(nil, nil, nil).BuildPlan(q, invoiceObject())
		require.Error(t, err)
		assert.Contains(t, err.Error(), `has no field "vat"`)
	})
}

func TestSelectAggregates(t *testing.T) {
	q := query.NewQueryBuilder("invoice").
		Where("status").Eq("paid").
		Count("total").
		Aggregate(query.AggregationTypeSum, "amount", "amount_total").
		OrderByAsc("id").
		Limit(3).
		Build()

	sel, slots, values := lowerQuery(t, q)
	assert.Equal(t,
		`SELECT COUNT(*) AS "total", SUM("amount") AS "amount_total" FROM "invoice" WHERE "status" = $1;`,
		sel.SQL)
	assert.True(t, sel.Aggregated)
	assert.Equal(t, []any{"paid"}, values)
	require.Len(t, slots, 1)
}

func TestWhereOperatorLowering(t *testing.T) {
	cases := []struct {
		name  string
		build func() *query.Query
		want  string
	}{
		{
			name:  "exists renders without placeholder",
			build: func() *query.Query { return query.NewQueryBuilder("invoice").Where("issued").Exists().Build() },
			want:  `SELECT * FROM "invoice" WHERE "issued" IS NOT NULL;`,
		},
		{
			name:  "not exists",
			build: func() *query.Query { return query.NewQueryBuilder("invoice").Where("issued").NotExists().Build() },
			want:  `SELECT * FROM "invoice" WHERE "issued" IS NULL;`,
		},
		{
			name:  "in over empty list matches nothing",
			build: func() *query.Query { return query.NewQueryBuilder("invoice").Where("status").In().Build() },
			want:  `SELECT * FROM "invoice" WHERE 1=0;`,
		},
		{
			name:  "not in over empty list matches everything",
			build: func() *query.Query { return query.NewQueryBuilder("invoice").Where("status").Nin().Build() },
			want:  `SELECT * FROM "invoice" WHERE 1=1;`,
		},
		{
			name: "not wraps its child",
			build: func() *query.Query {
				return query.NewQueryBuilder("invoice").
					WhereGroup(schema.LogicalNot).
					Where("status").Eq("draft").
					End().
					Build()
			},
			want: `SELECT * FROM "invoice" WHERE NOT ("status" = $1);`,
		},
		{
			name: "empty group renders as tautology",
			build: func() *query.Query {
				return query.NewQueryBuilder("invoice").WhereGroup(schema.LogicalAnd).End().Build()
			},
			want: `SELECT * FROM "invoice" WHERE 1=1;`,
		},
		{
			name:  "contains concatenates wildcards in sql",
			build: func() *query.Query { return query.NewQueryBuilder("invoice").Where("customer").Contains("corp").Build() },
			want:  `SELECT * FROM "invoice" WHERE "customer" LIKE '%' || $1 || '%';`,
		},
		{
			name:  "starts with",
			build: func() *query.Query { return query.NewQueryBuilder("invoice").Where("number").StartsWith("INV-").Build() },
			want:  `SELECT * FROM "invoice" WHERE "number" LIKE $1 || '%';`,
		},
		{
			name:  "ends with",
			build: func() *query.Query { return query.NewQueryBuilder("invoice").Where("number").EndsWith("-2026").Build() },
			want:  `SELECT * FROM "invoice" WHERE "number" LIKE '%' || $1;`,
		},
		{
			name:  "like passes the pattern through",
			build: func() *query.Query { return query.NewQueryBuilder("invoice").Where("number").Like("INV-%").Build() },
			want:  `SELECT * FROM "invoice" WHERE "number" LIKE $1;`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sel, _, _ := lowerQuery(t, tc.build())
			assert.Equal(t, tc.want, sel.SQL)
		})
	}

	t.Run("custom operators have no lowering", func(t *testing.T) {
		q := query.NewQueryBuilder("invoice").Where("customer").Custom("overdue_by", 30).Build()
		skeleton, _, _ := plan.Parameterize(q.Filters)
		q.Filters = skeleton
		_, _, err := New(nil, nil, nil).BuildPlan(q, invoiceObject())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no postgres lowering")
	})
}

func TestInsertSQL(t *testing.T) {
	b := New(nil, nil, nil)
	g := b.builder(invoiceObject())

	doc := schema.Document{
		"id":       "inv-1",
		"number":   "INV-0001",
		"customer": "acme",
		"status":   "sent",
		"amount":   125.50,
		"items":    []any{"consulting", "travel"},
	}

	t.Run("returning", func(t *testing.T) {
		sql, args, err := g.insertSQL(doc, true)
		require.NoError(t, err)
		assert.Equal(t,
			`INSERT INTO "invoice" ("amount", "customer", "id", "items", "number", "status") VALUES ($1, $2, $3, $4, $5, $6) RETURNING *;`,
			sql)
		assert.Equal(t, []any{125.50, "acme", "inv-1", `["consulting","travel"]`, "INV-0001", "sent"}, args)
	})

	t.Run("without returning", func(t *testing.T) {
		sql, _, err := g.insertSQL(doc, false)
		require.NoError(t, err)
		assert.Equal(t,
			`INSERT INTO "invoice" ("amount", "customer", "id", "items", "number", "status") VALUES ($1, $2, $3, $4, $5, $6);`,
			sql)
	})

	t.Run("computed field is refused", func(t *testing.T) {
		_, _, err := g.insertSQL(schema.Document{"id": "inv-2", "display_total": "#2"}, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "computed, not stored")
	})

	t.Run("empty document is refused", func(t *testing.T) {
		_, _, err := g.insertSQL(schema.Document{}, false)
		require.Error(t, err)
	})
}

func TestUpdateSQL(t *testing.T) {
	g := New(nil, nil, nil).builder(invoiceObject())
	q := query.NewQueryBuilder("invoice").Where("id").Eq("inv-1").Build()

	sql, args, err := g.updateSQL(schema.Document{"status": "paid", "amount": 99.5}, q.Filters)
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "invoice" SET "amount" = $1, "status" = $2 WHERE "id" = $3;`, sql)
	assert.Equal(t, []any{99.5, "paid", "inv-1"}, args)

	t.Run("parameterized filter is refused", func(t *testing.T) {
		skeleton, _, _ := plan.Parameterize(q.Filters)
		_, _, err := g.updateSQL(schema.Document{"status": "paid"}, skeleton)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parameter references")
	})
}

func TestDeleteSQL(t *testing.T) {
	g := New(nil, nil, nil).builder(invoiceObject())
	q := query.NewQueryBuilder("invoice").Where("status").Eq("draft").Build()

	sql, args, err := g.deleteSQL(q.Filters)
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "invoice" WHERE "status" = $1;`, sql)
	assert.Equal(t, []any{"draft"}, args)

	t.Run("backend refuses unfiltered deletes", func(t *testing.T) {
		b := New(nil, nil, nil)
		_, err := b.ExecuteCommand(context.Background(), &driver.Command{
			Kind:   driver.CommandDelete,
			Object: invoiceObject(),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "without a filter")
	})
}

func TestTablePrefixAppliesToStatements(t *testing.T) {
	b := New(nil, nil, &Options{TablePrefix: "app_"})
	q := query.NewQueryBuilder("invoice").Where("status").Eq("sent").Build()
	skeleton, _, _ := plan.Parameterize(q.Filters)
	q.Filters = skeleton

	native, _, err := b.BuildPlan(q, invoiceObject())
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "app_invoice" WHERE "status" = $1;`, native.(*SelectPlan).SQL)
}
