// Package query defines the structured query language shared by every
// backend: a recursive filter tree, sort, projection, pagination and
// aggregation combined under a single Query value. Queries are built by the
// fluent builder, by Translate from caller-supplied shorthand, or directly,
// and are treated as immutable once constructed: every rewrite pass returns
// a new tree so the original stays inspectable.
package query

import (
	"sort"

	"github.com/asaidimu/go-daraja/core/schema"
)

// Logical operators for combining filter conditions.
const (
	LogicalOperatorAnd schema.LogicalOperator = "and"
	LogicalOperatorOr  schema.LogicalOperator = "or"
	LogicalOperatorNot schema.LogicalOperator = "not"
)

// ComparisonOperator defines the set of operators that can be used in a
// filter condition.
type ComparisonOperator string

// Supported comparison operators.
const (
	ComparisonOperatorEq          ComparisonOperator = "eq"
	ComparisonOperatorNeq         ComparisonOperator = "neq"
	ComparisonOperatorLt          ComparisonOperator = "lt"
	ComparisonOperatorLte         ComparisonOperator = "lte"
	ComparisonOperatorGt          ComparisonOperator = "gt"
	ComparisonOperatorGte         ComparisonOperator = "gte"
	ComparisonOperatorIn          ComparisonOperator = "in"
	ComparisonOperatorNin         ComparisonOperator = "nin"
	ComparisonOperatorLike        ComparisonOperator = "like"
	ComparisonOperatorContains    ComparisonOperator = "contains"
	ComparisonOperatorNotContains ComparisonOperator = "ncontains"
	ComparisonOperatorStartsWith  ComparisonOperator = "startswith"
	ComparisonOperatorEndsWith    ComparisonOperator = "endswith"
	ComparisonOperatorExists      ComparisonOperator = "exists"
	ComparisonOperatorNotExists   ComparisonOperator = "nexists"
)

// FilterValue represents the value used in a filter condition. It is an
// alias so that []FilterValue and []any are interchangeable at call sites.
type FilterValue = any

// FilterCondition defines a single comparison against one field.
type FilterCondition struct {
	Field    string             `json:"field"`
	Operator ComparisonOperator `json:"operator"`
	Value    FilterValue        `json:"value,omitempty"`
}

// FilterGroup combines multiple filters under a logical operator. A "not"
// group carries exactly one child; "and"/"or" groups with zero children
// evaluate to true everywhere.
type FilterGroup struct {
	Operator   schema.LogicalOperator `json:"operator"`
	Conditions []QueryFilter          `json:"conditions"`
}

// QueryFilter is a union: exactly one of Condition or Group is set.
type QueryFilter struct {
	Condition *FilterCondition `json:",omitempty"`
	Group     *FilterGroup     `json:",omitempty"`
}

// IsCondition reports whether the filter is a single comparison.
func (f *QueryFilter) IsCondition() bool {
	return f != nil && f.Condition != nil
}

// IsGroup reports whether the filter is a logical group.
func (f *QueryFilter) IsGroup() bool {
	return f != nil && f.Group != nil
}

// Clone returns a deep copy of the filter tree, including list-valued
// condition operands, so that no later caller can reach into a compiled
// filter through a shared slice.
func (f *QueryFilter) Clone() *QueryFilter {
	if f == nil {
		return nil
	}
	clone := &QueryFilter{}
	if f.Condition != nil {
		cond := *f.Condition
		cond.Value = cloneFilterValue(cond.Value)
		clone.Condition = &cond
	}
	if f.Group != nil {
		group := &FilterGroup{Operator: f.Group.Operator}
		if f.Group.Conditions != nil {
			group.Conditions = make([]QueryFilter, len(f.Group.Conditions))
			for i := range f.Group.Conditions {
				child := f.Group.Conditions[i].Clone()
				group.Conditions[i] = *child
			}
		}
		clone.Group = group
	}
	return clone
}

func cloneFilterValue(value FilterValue) FilterValue {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneFilterValue(item)
		}
		return out
	case []string:
		return append([]string(nil), v...)
	case []int:
		return append([]int(nil), v...)
	case []int64:
		return append([]int64(nil), v...)
	case []float64:
		return append([]float64(nil), v...)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = cloneFilterValue(item)
		}
		return out
	default:
		return value
	}
}

// Depth returns the maximum nesting depth of the filter tree. A bare
// condition has depth 1.
func (f *QueryFilter) Depth() int {
	if f == nil {
		return 0
	}
	if f.Condition != nil {
		return 1
	}
	if f.Group == nil {
		return 0
	}
	max := 0
	for i := range f.Group.Conditions {
		if d := f.Group.Conditions[i].Depth(); d > max {
			max = d
		}
	}
	return max + 1
}

// Fields returns the sorted set of field names referenced anywhere in the
// filter tree.
func (f *QueryFilter) Fields() []string {
	set := make(map[string]struct{})
	f.collectFields(set)
	fields := make([]string, 0, len(set))
	for name := range set {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

func (f *QueryFilter) collectFields(set map[string]struct{}) {
	if f == nil {
		return
	}
	if f.Condition != nil {
		set[f.Condition.Field] = struct{}{}
	}
	if f.Group != nil {
		for i := range f.Group.Conditions {
			f.Group.Conditions[i].collectFields(set)
		}
	}
}

// Condition builds a single-comparison filter.
func Condition(field string, operator ComparisonOperator, value FilterValue) QueryFilter {
	return QueryFilter{Condition: &FilterCondition{Field: field, Operator: operator, Value: value}}
}

// And groups filters under a logical AND.
func And(filters ...QueryFilter) QueryFilter {
	return QueryFilter{Group: &FilterGroup{Operator: LogicalOperatorAnd, Conditions: filters}}
}

// Or groups filters under a logical OR.
func Or(filters ...QueryFilter) QueryFilter {
	return QueryFilter{Group: &FilterGroup{Operator: LogicalOperatorOr, Conditions: filters}}
}

// Not negates a single filter.
func Not(filter QueryFilter) QueryFilter {
	return QueryFilter{Group: &FilterGroup{Operator: LogicalOperatorNot, Conditions: []QueryFilter{filter}}}
}

// SortDirection specifies the direction for sorting.
type SortDirection string

// Supported sort directions.
const (
	SortDirectionAsc  SortDirection = "asc"
	SortDirectionDesc SortDirection = "desc"
)

// SortConfiguration defines the sorting order for a specific field.
type SortConfiguration struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

// PaginationOptions bounds the result window. A zero Limit means unbounded.
type PaginationOptions struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ProjectionConfiguration selects which fields appear in result rows. An
// empty Include means all fields visible to the caller; Exclude is applied
// after Include.
type ProjectionConfiguration struct {
	Include []string `json:",omitempty"`
	Exclude []string `json:",omitempty"`
}

// AggregationType specifies the type of aggregation to be performed.
type AggregationType string

// Supported aggregation types.
const (
	AggregationTypeCount AggregationType = "count"
	AggregationTypeSum   AggregationType = "sum"
	AggregationTypeAvg   AggregationType = "avg"
	AggregationTypeMin   AggregationType = "min"
	AggregationTypeMax   AggregationType = "max"
)

// AggregationConfiguration defines an aggregation over a field. Count may
// leave Field empty to count rows.
type AggregationConfiguration struct {
	Type  AggregationType `json:"type"`
	Field string          `json:"field,omitempty"`
	Alias string          `json:"alias"`
}

// Query is the canonical form of one logical query: the target collection
// plus everything that shapes its result set.
type Query struct {
	Collection   string                     `json:"collection"`
	Filters      *QueryFilter               `json:",omitempty"`
	Projection   *ProjectionConfiguration   `json:",omitempty"`
	Sort         []SortConfiguration        `json:",omitempty"`
	Pagination   *PaginationOptions         `json:",omitempty"`
	Aggregations []AggregationConfiguration `json:",omitempty"`
}

// Clone returns a deep copy of the query.
func (q *Query) Clone() *Query {
	if q == nil {
		return nil
	}
	clone := &Query{Collection: q.Collection}
	clone.Filters = q.Filters.Clone()
	if q.Projection != nil {
		clone.Projection = &ProjectionConfiguration{
			Include: append([]string(nil), q.Projection.Include...),
			Exclude: append([]string(nil), q.Projection.Exclude...),
		}
	}
	if q.Sort != nil {
		clone.Sort = append([]SortConfiguration(nil), q.Sort...)
	}
	if q.Pagination != nil {
		p := *q.Pagination
		clone.Pagination = &p
	}
	if q.Aggregations != nil {
		clone.Aggregations = append([]AggregationConfiguration(nil), q.Aggregations...)
	}
	return clone
}

// standardComparisonOperators is the set of built-in comparison operators.
var standardComparisonOperators = map[ComparisonOperator]struct{}{
	ComparisonOperatorEq:          {},
	ComparisonOperatorNeq:         {},
	ComparisonOperatorLt:          {},
	ComparisonOperatorLte:         {},
	ComparisonOperatorGt:          {},
	ComparisonOperatorGte:         {},
	ComparisonOperatorIn:          {},
	ComparisonOperatorNin:         {},
	ComparisonOperatorLike:        {},
	ComparisonOperatorContains:    {},
	ComparisonOperatorNotContains: {},
	ComparisonOperatorStartsWith:  {},
	ComparisonOperatorEndsWith:    {},
	ComparisonOperatorExists:      {},
	ComparisonOperatorNotExists:   {},
}

// IsStandard checks if a comparison operator is one of the built-in set.
func (c ComparisonOperator) IsStandard() bool {
	_, ok := standardComparisonOperators[c]
	return ok
}

// GetStandardComparisonOperators returns the built-in comparison operators
// in sorted order.
func GetStandardComparisonOperators() []ComparisonOperator {
	ops := make([]ComparisonOperator, 0, len(standardComparisonOperators))
	for op := range standardComparisonOperators {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}
