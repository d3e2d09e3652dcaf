package query

import (
	"fmt"
	"strings"

	"github.com/asaidimu/go-daraja/core/schema"
)

// QueryBuilder provides a fluent API for constructing Query values. Filters
// added through successive Where/WhereGroup calls merge under a logical AND.
type QueryBuilder struct {
	query Query
}

// NewQueryBuilder creates a builder targeting collection.
func NewQueryBuilder(collection string) *QueryBuilder {
	return &QueryBuilder{query: Query{Collection: collection}}
}

// Build returns the constructed query. The builder can keep being used; the
// returned query is a deep copy.
func (qb *QueryBuilder) Build() *Query {
	return qb.query.Clone()
}

// Clone creates an independent copy of the builder in its current state.
func (qb *QueryBuilder) Clone() *QueryBuilder {
	return &QueryBuilder{query: *qb.query.Clone()}
}

// Reset clears everything but the collection.
func (qb *QueryBuilder) Reset() *QueryBuilder {
	qb.query = Query{Collection: qb.query.Collection}
	return qb
}

// mergeFilter ANDs a new filter onto whatever the builder holds.
func (qb *QueryBuilder) mergeFilter(filter QueryFilter) {
	if qb.query.Filters == nil {
		qb.query.Filters = &filter
		return
	}
	existing := *qb.query.Filters
	if existing.IsGroup() && existing.Group.Operator == LogicalOperatorAnd {
		existing.Group.Conditions = append(existing.Group.Conditions, filter)
		qb.query.Filters = &existing
		return
	}
	combined := And(existing, filter)
	qb.query.Filters = &combined
}

// Where begins a filter condition on field.
func (qb *QueryBuilder) Where(field string) *FilterConditionBuilder {
	return &FilterConditionBuilder{parent: qb, field: field}
}

// WhereGroup begins a group of conditions combined with operator.
func (qb *QueryBuilder) WhereGroup(operator schema.LogicalOperator) *FilterGroupBuilder {
	return &FilterGroupBuilder{parent: qb, operator: operator}
}

// FilterConditionBuilder builds a single comparison and returns to the query
// builder.
type FilterConditionBuilder struct {
	parent *QueryBuilder
	field  string
}

// Eq adds an equality condition.
func (fcb *FilterConditionBuilder) Eq(value FilterValue) *QueryBuilder {
	return fcb.add(ComparisonOperatorEq, value)
}

// Neq adds a not-equal condition.
func (fcb *FilterConditionBuilder) Neq(value FilterValue) *QueryBuilder {
	return fcb.add(ComparisonOperatorNeq, value)
}

// Lt adds a less-than condition.
func (fcb *FilterConditionBuilder) Lt(value FilterValue) *QueryBuilder {
	return fcb.add(ComparisonOperatorLt, value)
}

// Lte adds a less-than-or-equal condition.
func (fcb *FilterConditionBuilder) Lte(value FilterValue) *QueryBuilder {
	return fcb.add(ComparisonOperatorLte, value)
}

// Gt adds a greater-than condition.
func (fcb *FilterConditionBuilder) Gt(value FilterValue) *QueryBuilder {
	return fcb.add(ComparisonOperatorGt, value)
}

// Gte adds a greater-than-or-equal condition.
func (fcb *FilterConditionBuilder) Gte(value FilterValue) *QueryBuilder {
	return fcb.add(ComparisonOperatorGte, value)
}

// In adds a set-membership condition.
func (fcb *FilterConditionBuilder) In(values ...FilterValue) *QueryBuilder {
	return fcb.add(ComparisonOperatorIn, values)
}

// Nin adds a negated set-membership condition.
func (fcb *FilterConditionBuilder) Nin(values ...FilterValue) *QueryBuilder {
	return fcb.add(ComparisonOperatorNin, values)
}

// Like adds a SQL LIKE pattern condition.
func (fcb *FilterConditionBuilder) Like(pattern string) *QueryBuilder {
	return fcb.add(ComparisonOperatorLike, pattern)
}

// Contains adds a substring or element containment condition.
func (fcb *FilterConditionBuilder) Contains(value FilterValue) *QueryBuilder {
	return fcb.add(ComparisonOperatorContains, value)
}

// NotContains adds a negated containment condition.
func (fcb *FilterConditionBuilder) NotContains(value FilterValue) *QueryBuilder {
	return fcb.add(ComparisonOperatorNotContains, value)
}

// StartsWith adds a prefix condition.
func (fcb *FilterConditionBuilder) StartsWith(value FilterValue) *QueryBuilder {
	return fcb.add(ComparisonOperatorStartsWith, value)
}

// EndsWith adds a suffix condition.
func (fcb *FilterConditionBuilder) EndsWith(value FilterValue) *QueryBuilder {
	return fcb.add(ComparisonOperatorEndsWith, value)
}

// Exists adds a present-and-not-null condition.
func (fcb *FilterConditionBuilder) Exists() *QueryBuilder {
	return fcb.add(ComparisonOperatorExists, nil)
}

// NotExists adds an absent-or-null condition.
func (fcb *FilterConditionBuilder) NotExists() *QueryBuilder {
	return fcb.add(ComparisonOperatorNotExists, nil)
}

// Custom adds a condition with a custom comparison operator.
func (fcb *FilterConditionBuilder) Custom(operator ComparisonOperator, value FilterValue) *QueryBuilder {
	return fcb.add(operator, value)
}

func (fcb *FilterConditionBuilder) add(operator ComparisonOperator, value FilterValue) *QueryBuilder {
	fcb.parent.mergeFilter(Condition(fcb.field, operator, value))
	return fcb.parent
}

// FilterGroupBuilder builds a group of conditions. Groups nest: WhereGroup
// inside a group returns a child builder whose End folds it into the parent.
type FilterGroupBuilder struct {
	parent      *QueryBuilder
	parentGroup *FilterGroupBuilder
	operator    schema.LogicalOperator
	conditions  []QueryFilter
}

// Where adds a condition on field to the group.
func (fgb *FilterGroupBuilder) Where(field string) *GroupConditionBuilder {
	return &GroupConditionBuilder{group: fgb, field: field}
}

// WhereGroup opens a nested group inside this one.
func (fgb *FilterGroupBuilder) WhereGroup(operator schema.LogicalOperator) *FilterGroupBuilder {
	return &FilterGroupBuilder{parentGroup: fgb, operator: operator}
}

// End closes the group. A nested group folds into its parent group; a
// top-level group merges into the query.
func (fgb *FilterGroupBuilder) End() *QueryBuilder {
	filter := QueryFilter{Group: &FilterGroup{Operator: fgb.operator, Conditions: fgb.conditions}}
	if fgb.parentGroup != nil {
		fgb.parentGroup.conditions = append(fgb.parentGroup.conditions, filter)
		return fgb.parentGroup.End()
	}
	fgb.parent.mergeFilter(filter)
	return fgb.parent
}

// EndGroup closes a nested group and returns to its parent group builder.
func (fgb *FilterGroupBuilder) EndGroup() *FilterGroupBuilder {
	if fgb.parentGroup == nil {
		return fgb
	}
	filter := QueryFilter{Group: &FilterGroup{Operator: fgb.operator, Conditions: fgb.conditions}}
	fgb.parentGroup.conditions = append(fgb.parentGroup.conditions, filter)
	return fgb.parentGroup
}

// GroupConditionBuilder builds a comparison inside a group.
type GroupConditionBuilder struct {
	group *FilterGroupBuilder
	field string
}

// Eq adds an equality condition to the group.
func (gcb *GroupConditionBuilder) Eq(value FilterValue) *FilterGroupBuilder {
	return gcb.add(ComparisonOperatorEq, value)
}

// Neq adds a not-equal condition to the group.
func (gcb *GroupConditionBuilder) Neq(value FilterValue) *FilterGroupBuilder {
	return gcb.add(ComparisonOperatorNeq, value)
}

// Lt adds a less-than condition to the group.
func (gcb *GroupConditionBuilder) Lt(value FilterValue) *FilterGroupBuilder {
	return gcb.add(ComparisonOperatorLt, value)
}

// Lte adds a less-than-or-equal condition to the group.
func (gcb *GroupConditionBuilder) Lte(value FilterValue) *FilterGroupBuilder {
	return gcb.add(ComparisonOperatorLte, value)
}

// Gt adds a greater-than condition to the group.
func (gcb *GroupConditionBuilder) Gt(value FilterValue) *FilterGroupBuilder {
	return gcb.add(ComparisonOperatorGt, value)
}

// Gte adds a greater-than-or-equal condition to the group.
func (gcb *GroupConditionBuilder) Gte(value FilterValue) *FilterGroupBuilder {
	return gcb.add(ComparisonOperatorGte, value)
}

// In adds a set-membership condition to the group.
func (gcb *GroupConditionBuilder) In(values ...FilterValue) *FilterGroupBuilder {
	return gcb.add(ComparisonOperatorIn, values)
}

// Nin adds a negated set-membership condition to the group.
func (gcb *GroupConditionBuilder) Nin(values ...FilterValue) *FilterGroupBuilder {
	return gcb.add(ComparisonOperatorNin, values)
}

// Like adds a SQL LIKE pattern condition to the group.
func (gcb *GroupConditionBuilder) Like(pattern string) *FilterGroupBuilder {
	return gcb.add(ComparisonOperatorLike, pattern)
}

// Contains adds a containment condition to the group.
func (gcb *GroupConditionBuilder) Contains(value FilterValue) *FilterGroupBuilder {
	return gcb.add(ComparisonOperatorContains, value)
}

// Exists adds a present-and-not-null condition to the group.
func (gcb *GroupConditionBuilder) Exists() *FilterGroupBuilder {
	return gcb.add(ComparisonOperatorExists, nil)
}

// NotExists adds an absent-or-null condition to the group.
func (gcb *GroupConditionBuilder) NotExists() *FilterGroupBuilder {
	return gcb.add(ComparisonOperatorNotExists, nil)
}

// Custom adds a condition with a custom operator to the group.
func (gcb *GroupConditionBuilder) Custom(operator ComparisonOperator, value FilterValue) *FilterGroupBuilder {
	return gcb.add(operator, value)
}

func (gcb *GroupConditionBuilder) add(operator ComparisonOperator, value FilterValue) *FilterGroupBuilder {
	gcb.group.conditions = append(gcb.group.conditions, Condition(gcb.field, operator, value))
	return gcb.group
}

// OrderBy adds a sort key.
func (qb *QueryBuilder) OrderBy(field string, direction SortDirection) *QueryBuilder {
	qb.query.Sort = append(qb.query.Sort, SortConfiguration{Field: field, Direction: direction})
	return qb
}

// OrderByAsc adds an ascending sort key.
func (qb *QueryBuilder) OrderByAsc(field string) *QueryBuilder {
	return qb.OrderBy(field, SortDirectionAsc)
}

// OrderByDesc adds a descending sort key.
func (qb *QueryBuilder) OrderByDesc(field string) *QueryBuilder {
	return qb.OrderBy(field, SortDirectionDesc)
}

// Limit sets the maximum number of records to return.
func (qb *QueryBuilder) Limit(limit int) *QueryBuilder {
	if qb.query.Pagination == nil {
		qb.query.Pagination = &PaginationOptions{}
	}
	qb.query.Pagination.Limit = limit
	return qb
}

// Offset sets the starting offset of the result window.
func (qb *QueryBuilder) Offset(offset int) *QueryBuilder {
	if qb.query.Pagination == nil {
		qb.query.Pagination = &PaginationOptions{}
	}
	qb.query.Pagination.Offset = offset
	return qb
}

// Select restricts result rows to the given fields.
func (qb *QueryBuilder) Select(fields ...string) *QueryBuilder {
	if qb.query.Projection == nil {
		qb.query.Projection = &ProjectionConfiguration{}
	}
	qb.query.Projection.Include = append(qb.query.Projection.Include, fields...)
	return qb
}

// Exclude removes fields from result rows after Include is applied.
func (qb *QueryBuilder) Exclude(fields ...string) *QueryBuilder {
	if qb.query.Projection == nil {
		qb.query.Projection = &ProjectionConfiguration{}
	}
	qb.query.Projection.Exclude = append(qb.query.Projection.Exclude, fields...)
	return qb
}

// Aggregate adds an aggregation over field under alias.
func (qb *QueryBuilder) Aggregate(aggType AggregationType, field, alias string) *QueryBuilder {
	if alias == "" {
		if field == "" {
			alias = string(aggType)
		} else {
			alias = fmt.Sprintf("%s_%s", aggType, field)
		}
	}
	qb.query.Aggregations = append(qb.query.Aggregations, AggregationConfiguration{
		Type:  aggType,
		Field: field,
		Alias: alias,
	})
	return qb
}

// Count adds a row-count aggregation.
func (qb *QueryBuilder) Count(alias string) *QueryBuilder {
	if alias == "" {
		alias = "count"
	}
	return qb.Aggregate(AggregationTypeCount, "", alias)
}

// QueryValidationError describes one structural problem found in a query.
type QueryValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// QueryValidationResult aggregates structural problems found in a query.
type QueryValidationResult struct {
	IsValid bool                   `json:"isValid"`
	Errors  []QueryValidationError `json:"errors"`
}

// Validate checks the structural invariants of a query: non-empty
// collection, well-formed filter union nodes, known operators (standard or
// not, operators must be non-empty), sane pagination, and named sort fields.
func (q *Query) Validate() *QueryValidationResult {
	result := &QueryValidationResult{IsValid: true}
	fail := func(field, message string) {
		result.IsValid = false
		result.Errors = append(result.Errors, QueryValidationError{Field: field, Message: message})
	}

	if strings.TrimSpace(q.Collection) == "" {
		fail("collection", "collection name is required")
	}
	validateFilterNode(q.Filters, fail)

	if q.Pagination != nil {
		if q.Pagination.Limit < 0 {
			fail("pagination.limit", "limit cannot be negative")
		}
		if q.Pagination.Offset < 0 {
			fail("pagination.offset", "offset cannot be negative")
		}
	}
	for i, s := range q.Sort {
		if s.Field == "" {
			fail(fmt.Sprintf("sort[%d].field", i), "sort field is required")
		}
		if s.Direction != SortDirectionAsc && s.Direction != SortDirectionDesc {
			fail(fmt.Sprintf("sort[%d].direction", i), fmt.Sprintf("unknown sort direction %q", s.Direction))
		}
	}
	for i, agg := range q.Aggregations {
		if agg.Alias == "" {
			fail(fmt.Sprintf("aggregations[%d].alias", i), "aggregation alias is required")
		}
		if agg.Field == "" && agg.Type != AggregationTypeCount {
			fail(fmt.Sprintf("aggregations[%d].field", i), fmt.Sprintf("aggregation %q requires a field", agg.Type))
		}
	}
	return result
}

func validateFilterNode(filter *QueryFilter, fail func(field, message string)) {
	if filter == nil {
		return
	}
	if filter.Condition != nil && filter.Group != nil {
		fail("filters", "filter cannot be both a condition and a group")
		return
	}
	if filter.Condition == nil && filter.Group == nil {
		fail("filters", "filter requires a condition or a group")
		return
	}
	if filter.Condition != nil {
		if filter.Condition.Field == "" {
			fail("filters", "filter condition requires a field")
		}
		if filter.Condition.Operator == "" {
			fail("filters", "filter condition requires an operator")
		}
		return
	}
	switch filter.Group.Operator {
	case LogicalOperatorAnd, LogicalOperatorOr:
	case LogicalOperatorNot:
		if len(filter.Group.Conditions) != 1 {
			fail("filters", fmt.Sprintf("not group requires exactly one child, got %d", len(filter.Group.Conditions)))
		}
	default:
		fail("filters", fmt.Sprintf("unknown logical operator %q", filter.Group.Operator))
	}
	for i := range filter.Group.Conditions {
		validateFilterNode(&filter.Group.Conditions[i], fail)
	}
}
