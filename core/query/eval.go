package query

import (
	"fmt"
	"maps"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/asaidimu/go-daraja/core/schema"
	"go.uber.org/zap"
)

// PredicateFunction is a pure Go function implementing a non-standard filter
// operator against one document.
type PredicateFunction func(doc schema.Document, field string, args FilterValue) (bool, error)

// Evaluator applies filter trees, projections, sorting, pagination and
// aggregations to in-memory documents. Backends without a native predicate
// engine execute queries through it; the execution pipeline uses it for
// post-filters that could not be pushed down.
type Evaluator struct {
	predicates map[ComparisonOperator]PredicateFunction
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		predicates: make(map[ComparisonOperator]PredicateFunction),
		logger:     logger,
	}
}

// RegisterPredicate registers a Go function for a custom (non-standard)
// comparison operator.
func (e *Evaluator) RegisterPredicate(operator ComparisonOperator, fn PredicateFunction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.predicates[operator] = fn
	e.logger.Debug("registered predicate", zap.String("operator", string(operator)))
}

// Match evaluates a filter tree against one document. A nil filter matches
// everything.
func (e *Evaluator) Match(filter *QueryFilter, doc schema.Document) (bool, error) {
	if filter == nil {
		return true, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.evaluate(filter, doc)
}

// FilterDocuments returns the documents matching the filter, preserving
// input order.
func (e *Evaluator) FilterDocuments(docs []schema.Document, filter *QueryFilter) ([]schema.Document, error) {
	if filter == nil {
		return docs, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	matched := make([]schema.Document, 0, len(docs))
	for _, doc := range docs {
		passes, err := e.evaluate(filter, doc)
		if err != nil {
			return nil, err
		}
		if passes {
			matched = append(matched, doc)
		}
	}
	return matched, nil
}

func (e *Evaluator) evaluate(filter *QueryFilter, doc schema.Document) (bool, error) {
	if filter.Condition != nil {
		cond := filter.Condition
		if !cond.Operator.IsStandard() {
			fn, ok := e.predicates[cond.Operator]
			if !ok {
				return false, fmt.Errorf("no predicate registered for operator %q", cond.Operator)
			}
			return fn(doc, cond.Field, cond.Value)
		}
		return evaluateCondition(cond, doc)
	}
	if filter.Group != nil {
		group := filter.Group
		switch group.Operator {
		case schema.LogicalAnd:
			for i := range group.Conditions {
				passes, err := e.evaluate(&group.Conditions[i], doc)
				if err != nil || !passes {
					return false, err
				}
			}
			return true, nil
		case schema.LogicalOr:
			// An empty group matches everything, same as an empty AND.
			if len(group.Conditions) == 0 {
				return true, nil
			}
			for i := range group.Conditions {
				passes, err := e.evaluate(&group.Conditions[i], doc)
				if err != nil {
					return false, err
				}
				if passes {
					return true, nil
				}
			}
			return false, nil
		case schema.LogicalNot:
			if len(group.Conditions) != 1 {
				return false, fmt.Errorf("not group requires exactly one child, got %d", len(group.Conditions))
			}
			passes, err := e.evaluate(&group.Conditions[0], doc)
			if err != nil {
				return false, err
			}
			return !passes, nil
		default:
			return false, fmt.Errorf("unsupported logical operator %q", group.Operator)
		}
	}
	return false, fmt.Errorf("filter has neither condition nor group")
}

// evaluateCondition applies one standard comparison. Absent or nil fields
// fail every comparison except nexists, mirroring SQL NULL semantics.
func evaluateCondition(cond *FilterCondition, doc schema.Document) (bool, error) {
	value, present := doc[cond.Field]
	switch cond.Operator {
	case ComparisonOperatorExists:
		return present && value != nil, nil
	case ComparisonOperatorNotExists:
		return !present || value == nil, nil
	}
	if !present || value == nil {
		// NIN over a list the row cannot be in still holds.
		if cond.Operator == ComparisonOperatorNin && len(operandList(cond.Value)) == 0 {
			return true, nil
		}
		return false, nil
	}

	switch cond.Operator {
	case ComparisonOperatorEq:
		return ValuesEqual(value, cond.Value), nil
	case ComparisonOperatorNeq:
		return !ValuesEqual(value, cond.Value), nil
	case ComparisonOperatorGt, ComparisonOperatorGte, ComparisonOperatorLt, ComparisonOperatorLte:
		cmp, ok := CompareValues(value, cond.Value)
		if !ok {
			return false, fmt.Errorf("cannot compare %T with %T for operator %q", value, cond.Value, cond.Operator)
		}
		switch cond.Operator {
		case ComparisonOperatorGt:
			return cmp > 0, nil
		case ComparisonOperatorGte:
			return cmp >= 0, nil
		case ComparisonOperatorLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case ComparisonOperatorIn:
		for _, candidate := range operandList(cond.Value) {
			if ValuesEqual(value, candidate) {
				return true, nil
			}
		}
		return false, nil
	case ComparisonOperatorNin:
		for _, candidate := range operandList(cond.Value) {
			if ValuesEqual(value, candidate) {
				return false, nil
			}
		}
		return true, nil
	case ComparisonOperatorLike:
		pattern, ok := cond.Value.(string)
		if !ok {
			return false, fmt.Errorf("like requires a string pattern, got %T", cond.Value)
		}
		return likeMatch(pattern, fmt.Sprintf("%v", value)), nil
	case ComparisonOperatorContains:
		return containsMatch(value, cond.Value), nil
	case ComparisonOperatorNotContains:
		return !containsMatch(value, cond.Value), nil
	case ComparisonOperatorStartsWith:
		return strings.HasPrefix(fmt.Sprintf("%v", value), fmt.Sprintf("%v", cond.Value)), nil
	case ComparisonOperatorEndsWith:
		return strings.HasSuffix(fmt.Sprintf("%v", value), fmt.Sprintf("%v", cond.Value)), nil
	default:
		return false, fmt.Errorf("unsupported comparison operator %q", cond.Operator)
	}
}

func operandList(value FilterValue) []any {
	switch list := value.(type) {
	case []any:
		return list
	case []string:
		out := make([]any, len(list))
		for i, v := range list {
			out[i] = v
		}
		return out
	case []int:
		out := make([]any, len(list))
		for i, v := range list {
			out[i] = v
		}
		return out
	case []int64:
		out := make([]any, len(list))
		for i, v := range list {
			out[i] = v
		}
		return out
	case []float64:
		out := make([]any, len(list))
		for i, v := range list {
			out[i] = v
		}
		return out
	default:
		return nil
	}
}

// likeMatch interprets a SQL LIKE pattern: % matches any run, _ one
// character. Matching is case-sensitive for portability across backends.
func likeMatch(pattern, text string) bool {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

func containsMatch(value any, operand FilterValue) bool {
	switch v := value.(type) {
	case string:
		return strings.Contains(v, fmt.Sprintf("%v", operand))
	case []any:
		for _, item := range v {
			if ValuesEqual(item, operand) {
				return true
			}
		}
		return false
	default:
		return strings.Contains(fmt.Sprintf("%v", v), fmt.Sprintf("%v", operand))
	}
}

// SortDocuments stable-sorts documents by the sort configuration. Missing
// and nil values order before present values in ascending direction.
func SortDocuments(docs []schema.Document, sortSpec []SortConfiguration) {
	if len(sortSpec) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, s := range sortSpec {
			a, aok := docs[i][s.Field]
			b, bok := docs[j][s.Field]
			if a == nil {
				aok = false
			}
			if b == nil {
				bok = false
			}
			var cmp int
			switch {
			case !aok && !bok:
				cmp = 0
			case !aok:
				cmp = -1
			case !bok:
				cmp = 1
			default:
				c, ok := CompareValues(a, b)
				if !ok {
					c = strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
				}
				cmp = c
			}
			if cmp == 0 {
				continue
			}
			if s.Direction == SortDirectionDesc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// Paginate applies the result window to docs.
func Paginate(docs []schema.Document, p *PaginationOptions) []schema.Document {
	if p == nil {
		return docs
	}
	start := p.Offset
	if start < 0 {
		start = 0
	}
	if start >= len(docs) {
		return nil
	}
	end := len(docs)
	if p.Limit > 0 && start+p.Limit < end {
		end = start + p.Limit
	}
	return docs[start:end]
}

// Project reduces each document to the configured projection. Include empty
// means all fields; Exclude is applied afterwards. Documents are copied,
// never mutated.
func Project(docs []schema.Document, projection *ProjectionConfiguration) []schema.Document {
	if projection == nil || (len(projection.Include) == 0 && len(projection.Exclude) == 0) {
		return docs
	}
	includeAll := len(projection.Include) == 0
	includeSet := make(map[string]struct{}, len(projection.Include))
	for _, name := range projection.Include {
		includeSet[name] = struct{}{}
	}
	excludeSet := make(map[string]struct{}, len(projection.Exclude))
	for _, name := range projection.Exclude {
		excludeSet[name] = struct{}{}
	}

	projected := make([]schema.Document, 0, len(docs))
	for _, doc := range docs {
		row := make(schema.Document, len(doc))
		if includeAll {
			maps.Copy(row, doc)
		} else {
			for name, value := range doc {
				if _, ok := includeSet[name]; ok {
					row[name] = value
				}
			}
		}
		for name := range excludeSet {
			delete(row, name)
		}
		projected = append(projected, row)
	}
	return projected
}

// Aggregate computes the configured aggregations over docs. Sum/avg/min/max
// over zero numeric values yield nil, matching SQL aggregate semantics;
// count is always a number.
func Aggregate(docs []schema.Document, aggs []AggregationConfiguration) (map[string]any, error) {
	if len(aggs) == 0 {
		return nil, nil
	}
	results := make(map[string]any, len(aggs))
	for _, agg := range aggs {
		switch agg.Type {
		case AggregationTypeCount:
			if agg.Field == "" {
				results[agg.Alias] = int64(len(docs))
				continue
			}
			var count int64
			for _, doc := range docs {
				if v, ok := doc[agg.Field]; ok && v != nil {
					count++
				}
			}
			results[agg.Alias] = count
		case AggregationTypeSum, AggregationTypeAvg:
			var sum float64
			var n int64
			for _, doc := range docs {
				v, ok := doc[agg.Field]
				if !ok || v == nil {
					continue
				}
				f, ok := ToFloat64(v)
				if !ok {
					return nil, fmt.Errorf("aggregation %q over non-numeric value %T in field %q", agg.Type, v, agg.Field)
				}
				sum += f
				n++
			}
			if n == 0 {
				results[agg.Alias] = nil
			} else if agg.Type == AggregationTypeSum {
				results[agg.Alias] = sum
			} else {
				results[agg.Alias] = sum / float64(n)
			}
		case AggregationTypeMin, AggregationTypeMax:
			var best any
			for _, doc := range docs {
				v, ok := doc[agg.Field]
				if !ok || v == nil {
					continue
				}
				if best == nil {
					best = v
					continue
				}
				cmp, ok := CompareValues(v, best)
				if !ok {
					return nil, fmt.Errorf("aggregation %q over incomparable values in field %q", agg.Type, agg.Field)
				}
				if (agg.Type == AggregationTypeMin && cmp < 0) || (agg.Type == AggregationTypeMax && cmp > 0) {
					best = v
				}
			}
			results[agg.Alias] = best
		default:
			return nil, fmt.Errorf("unsupported aggregation type %q", agg.Type)
		}
	}
	return results, nil
}
