// Package analyzer inspects queries around execution without ever changing
// them: Explain reads a query's shape against object metadata before it
// runs, Profiler times a single execution, and Statistics keeps rolling
// per-object telemetry fed from the engine's event stream. Everything in
// this package annotates; nothing blocks, rewrites or retries a query.
package analyzer

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/asaidimu/go-daraja/core/query"
	"github.com/asaidimu/go-daraja/core/schema"
)

const (
	// baselineRowEstimate stands in for the table statistics the execution
	// protocol does not expose. Row estimates compare query shapes against
	// each other rather than predict real cardinality.
	baselineRowEstimate = 1000

	// deepFilterThreshold is the nesting depth past which a filter earns a
	// warning.
	deepFilterThreshold = 8
)

// Explanation is a pre-execution read on a query's shape. Warnings and
// suggestions annotate the query but never stop it from compiling or
// running.
type Explanation struct {
	Object            string   `json:"object"`
	EstimatedRows     int64    `json:"estimatedRows"`
	IndexesApplicable []string `json:"indexesApplicable,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
	Suggestions       []string `json:"suggestions,omitempty"`
	ComplexityScore   int      `json:"complexityScore"`
}

// Explain scores a query against the object it targets. The output is a
// deterministic function of the query and the object metadata, so repeated
// calls with equal inputs produce equal explanations.
func Explain(q *query.Query, obj *schema.Object) *Explanation {
	if q == nil {
		q = &query.Query{}
	}
	if obj == nil {
		obj = &schema.Object{Name: q.Collection}
	}

	in := &inspector{obj: obj, seen: make(map[string]struct{})}
	if unbounded(q, obj) {
		if vacuousFilter(q.Filters) {
			in.warn("no filter and no limit: returns every row of %q", obj.Name)
		} else {
			in.warn("no limit: result size is bounded only by the filter")
		}
		in.suggest("set a limit when the full result set is not needed")
	}
	if d := q.Filters.Depth(); d > deepFilterThreshold {
		in.warn("filter nests %d levels deep; consider flattening", d)
	}
	in.filter(q.Filters)
	in.sortKeys(q.Sort)
	in.aggregations(q.Aggregations)

	return &Explanation{
		Object:            obj.Name,
		EstimatedRows:     estimateRows(q, obj),
		IndexesApplicable: applicableIndexes(q, obj),
		Warnings:          in.warnings,
		Suggestions:       in.suggestions,
		ComplexityScore:   complexityScore(q, obj),
	}
}

// complexityScore grades the query shape:
//
//	+1 for each comparison condition
//	+2 for each group nested below the root
//	+2 for each branch of an "or" group beyond the first
//	+1 for each "not" group
//	+5 when nothing bounds the result: no limit, no aggregation and no
//	   unique-field point lookup
func complexityScore(q *query.Query, obj *schema.Object) int {
	score := filterComplexity(q.Filters, 0)
	if unbounded(q, obj) {
		score += 5
	}
	return score
}

func filterComplexity(f *query.QueryFilter, level int) int {
	if f == nil {
		return 0
	}
	if f.Condition != nil {
		return 1
	}
	if f.Group == nil {
		return 0
	}
	score := 0
	if level > 0 {
		score += 2
	}
	switch f.Group.Operator {
	case query.LogicalOperatorOr:
		if n := len(f.Group.Conditions); n > 1 {
			score += 2 * (n - 1)
		}
	case query.LogicalOperatorNot:
		score++
	}
	for i := range f.Group.Conditions {
		score += filterComplexity(&f.Group.Conditions[i], level+1)
	}
	return score
}

// unbounded reports whether nothing caps the result set. Aggregations
// collapse the result to one row and a single equality on a unique field
// returns at most one, so neither counts as unbounded.
func unbounded(q *query.Query, obj *schema.Object) bool {
	if len(q.Aggregations) > 0 {
		return false
	}
	if q.Pagination != nil && q.Pagination.Limit > 0 {
		return false
	}
	return !pointLookup(q.Filters, obj)
}

// pointLookup reports whether the filter is a single equality on a unique
// field, optionally wrapped in a one-child "and" group.
func pointLookup(f *query.QueryFilter, obj *schema.Object) bool {
	if f == nil {
		return false
	}
	if f.Group != nil && f.Group.Operator == query.LogicalOperatorAnd && len(f.Group.Conditions) == 1 {
		return pointLookup(&f.Group.Conditions[0], obj)
	}
	if f.Condition == nil {
		return false
	}
	return f.Condition.Operator == query.ComparisonOperatorEq && uniqueField(obj, f.Condition.Field)
}

// vacuousFilter reports whether the filter matches every row: nil, or
// "and"/"or" groups all the way down with no conditions.
func vacuousFilter(f *query.QueryFilter) bool {
	if f == nil {
		return true
	}
	if f.Condition != nil {
		return false
	}
	if f.Group == nil {
		return true
	}
	if f.Group.Operator == query.LogicalOperatorNot {
		return false
	}
	for i := range f.Group.Conditions {
		if !vacuousFilter(&f.Group.Conditions[i]) {
			return false
		}
	}
	return true
}

// estimateRows applies default per-operator selectivities to the baseline
// row count, then clamps to the query's limit. With aggregations the result
// is a single aggregate row.
func estimateRows(q *query.Query, obj *schema.Object) int64 {
	if len(q.Aggregations) > 0 {
		return 1
	}
	rows := int64(math.Round(baselineRowEstimate * filterSelectivity(q.Filters, obj)))
	if rows < 1 {
		rows = 1
	}
	if q.Pagination != nil && q.Pagination.Limit > 0 && rows > int64(q.Pagination.Limit) {
		rows = int64(q.Pagination.Limit)
	}
	return rows
}

func filterSelectivity(f *query.QueryFilter, obj *schema.Object) float64 {
	if f == nil {
		return 1
	}
	if f.Condition != nil {
		return conditionSelectivity(f.Condition, obj)
	}
	if f.Group == nil || len(f.Group.Conditions) == 0 {
		return 1
	}
	switch f.Group.Operator {
	case query.LogicalOperatorNot:
		return 1 - filterSelectivity(&f.Group.Conditions[0], obj)
	case query.LogicalOperatorOr:
		miss := 1.0
		for i := range f.Group.Conditions {
			miss *= 1 - filterSelectivity(&f.Group.Conditions[i], obj)
		}
		return 1 - miss
	default:
		sel := 1.0
		for i := range f.Group.Conditions {
			sel *= filterSelectivity(&f.Group.Conditions[i], obj)
		}
		return sel
	}
}

func conditionSelectivity(c *query.FilterCondition, obj *schema.Object) float64 {
	switch c.Operator {
	case query.ComparisonOperatorEq:
		if uniqueField(obj, c.Field) {
			return 1.0 / baselineRowEstimate
		}
		return 0.1
	case query.ComparisonOperatorIn:
		per := 0.1
		if uniqueField(obj, c.Field) {
			per = 1.0 / baselineRowEstimate
		}
		sel := per * float64(operandCount(c.Value))
		if sel > 1 {
			sel = 1
		}
		return sel
	case query.ComparisonOperatorNeq, query.ComparisonOperatorNin,
		query.ComparisonOperatorNotContains, query.ComparisonOperatorExists:
		return 0.9
	case query.ComparisonOperatorNotExists:
		return 0.1
	case query.ComparisonOperatorLt, query.ComparisonOperatorLte,
		query.ComparisonOperatorGt, query.ComparisonOperatorGte:
		return 1.0 / 3
	case query.ComparisonOperatorLike, query.ComparisonOperatorContains,
		query.ComparisonOperatorStartsWith, query.ComparisonOperatorEndsWith:
		return 0.25
	default:
		return 0.5
	}
}

func operandCount(value query.FilterValue) int {
	switch v := value.(type) {
	case []any:
		return len(v)
	case []string:
		return len(v)
	case []int:
		return len(v)
	case []int64:
		return len(v)
	case []float64:
		return len(v)
	default:
		return 1
	}
}

// uniqueField reports whether at most one row can hold a given value of the
// field: the primary key, a unique field, or the leading and only field of
// a unique index.
func uniqueField(obj *schema.Object, field string) bool {
	if field == obj.PrimaryKey {
		return true
	}
	if def := obj.Field(field); def != nil && def.Unique != nil && *def.Unique {
		return true
	}
	idx := obj.IndexFor(field)
	if idx == nil || len(idx.Fields) != 1 {
		return false
	}
	if idx.Type == schema.IndexTypeUnique || idx.Type == schema.IndexTypePrimary {
		return true
	}
	return idx.Unique != nil && *idx.Unique
}

// applicableIndexes lists the indexes whose leading field appears in the
// filter or the sort, in sorted order.
func applicableIndexes(q *query.Query, obj *schema.Object) []string {
	set := make(map[string]struct{})
	if q.Filters != nil {
		for _, field := range q.Filters.Fields() {
			if idx := obj.IndexFor(field); idx != nil {
				set[idx.Name] = struct{}{}
			}
		}
	}
	for _, s := range q.Sort {
		if idx := obj.IndexFor(s.Field); idx != nil {
			set[idx.Name] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// inspector accumulates deduplicated warnings and suggestions while walking
// a query.
type inspector struct {
	obj         *schema.Object
	warnings    []string
	suggestions []string
	seen        map[string]struct{}
}

func (in *inspector) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if _, ok := in.seen["w:"+msg]; ok {
		return
	}
	in.seen["w:"+msg] = struct{}{}
	in.warnings = append(in.warnings, msg)
}

func (in *inspector) suggest(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if _, ok := in.seen["s:"+msg]; ok {
		return
	}
	in.seen["s:"+msg] = struct{}{}
	in.suggestions = append(in.suggestions, msg)
}

func (in *inspector) filter(f *query.QueryFilter) {
	if f == nil {
		return
	}
	if f.Condition != nil {
		in.condition(f.Condition)
		return
	}
	if f.Group == nil {
		return
	}
	for i := range f.Group.Conditions {
		in.filter(&f.Group.Conditions[i])
	}
}

func (in *inspector) condition(c *query.FilterCondition) {
	def := in.obj.Field(c.Field)
	if def == nil {
		in.warn("filter references undeclared field %q", c.Field)
		return
	}
	if def.IsComputed() {
		in.warn("filter on computed field %q runs in the engine after the backend scan", c.Field)
		return
	}
	idx := in.obj.IndexFor(c.Field)
	if idx == nil {
		in.warn("no index covers filter field %q", c.Field)
		in.suggest("add an index on %q", c.Field)
	}
	switch c.Operator {
	case query.ComparisonOperatorNeq, query.ComparisonOperatorNin, query.ComparisonOperatorNotContains:
		in.warn("negated operator %q on %q cannot narrow an index scan", c.Operator, c.Field)
	case query.ComparisonOperatorLike:
		if s, ok := c.Value.(string); ok && strings.HasPrefix(s, "%") {
			in.warn("like pattern on %q starts with a wildcard and cannot use an index", c.Field)
		}
	case query.ComparisonOperatorContains:
		if idx == nil || idx.Type != schema.IndexTypeFullText {
			in.warn("contains on %q needs a full-text index to avoid scanning every candidate row", c.Field)
		}
	}
}

func (in *inspector) sortKeys(sorts []query.SortConfiguration) {
	for _, s := range sorts {
		def := in.obj.Field(s.Field)
		if def == nil {
			in.warn("sort references undeclared field %q", s.Field)
			continue
		}
		if def.IsComputed() {
			in.warn("sort on computed field %q runs in the engine after the backend scan", s.Field)
			continue
		}
		if in.obj.IndexFor(s.Field) == nil {
			in.suggest("add an index on %q to serve the sort", s.Field)
		}
	}
}

func (in *inspector) aggregations(aggs []query.AggregationConfiguration) {
	for _, agg := range aggs {
		if agg.Field == "" {
			continue
		}
		def := in.obj.Field(agg.Field)
		if def == nil {
			in.warn("aggregation %q references undeclared field %q", agg.Alias, agg.Field)
			continue
		}
		if def.IsComputed() {
			in.warn("aggregation %q targets computed field %q, which compilation rejects", agg.Alias, agg.Field)
		}
	}
}
