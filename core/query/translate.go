package query

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// DefaultMaxFilterDepth caps filter nesting accepted from callers. Deeper
// trees are rejected at translation so that adversarial input cannot drive
// unbounded recursion later in the pipeline.
const DefaultMaxFilterDepth = 32

// TranslationError reports malformed caller input, carrying the offending
// fragment so protocol layers can point at what was wrong.
type TranslationError struct {
	Reason   string
	Fragment any
}

func (e *TranslationError) Error() string {
	if e.Fragment == nil {
		return fmt.Sprintf("query translation failed: %s", e.Reason)
	}
	return fmt.Sprintf("query translation failed: %s (fragment: %v)", e.Reason, e.Fragment)
}

func translationErrorf(fragment any, format string, args ...any) error {
	return &TranslationError{Reason: fmt.Sprintf(format, args...), Fragment: fragment}
}

// operatorAliases maps every accepted operator spelling to its canonical
// form. Symbolic spellings come from callers that forward expression syntax
// verbatim; word spellings from JSON protocols.
var operatorAliases = map[string]ComparisonOperator{
	"=":            ComparisonOperatorEq,
	"==":           ComparisonOperatorEq,
	"eq":           ComparisonOperatorEq,
	"!=":           ComparisonOperatorNeq,
	"<>":           ComparisonOperatorNeq,
	"ne":           ComparisonOperatorNeq,
	"neq":          ComparisonOperatorNeq,
	">":            ComparisonOperatorGt,
	"gt":           ComparisonOperatorGt,
	">=":           ComparisonOperatorGte,
	"gte":          ComparisonOperatorGte,
	"<":            ComparisonOperatorLt,
	"lt":           ComparisonOperatorLt,
	"<=":           ComparisonOperatorLte,
	"lte":          ComparisonOperatorLte,
	"in":           ComparisonOperatorIn,
	"nin":          ComparisonOperatorNin,
	"not_in":       ComparisonOperatorNin,
	"notin":        ComparisonOperatorNin,
	"like":         ComparisonOperatorLike,
	"contains":     ComparisonOperatorContains,
	"ncontains":    ComparisonOperatorNotContains,
	"not_contains": ComparisonOperatorNotContains,
	"startswith":   ComparisonOperatorStartsWith,
	"starts_with":  ComparisonOperatorStartsWith,
	"endswith":     ComparisonOperatorEndsWith,
	"ends_with":    ComparisonOperatorEndsWith,
	"exists":       ComparisonOperatorExists,
	"not_null":     ComparisonOperatorExists,
	"is_not_null":  ComparisonOperatorExists,
	"nexists":      ComparisonOperatorNotExists,
	"not_exists":   ComparisonOperatorNotExists,
	"is_null":      ComparisonOperatorNotExists,
}

// ParseOperator resolves an operator spelling to its canonical form.
func ParseOperator(s string) (ComparisonOperator, error) {
	if op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return op, nil
	}
	return "", translationErrorf(s, "unknown comparison operator %q", s)
}

// Translator normalizes loosely-typed caller queries into canonical Query
// values. Translation is pure: the same input always produces a structurally
// identical Query.
type Translator struct {
	// MaxDepth bounds filter nesting; values <= 0 fall back to
	// DefaultMaxFilterDepth.
	MaxDepth int
}

// NewTranslator returns a Translator with default limits.
func NewTranslator() *Translator {
	return &Translator{MaxDepth: DefaultMaxFilterDepth}
}

// Translate is a convenience wrapper around a default Translator.
func Translate(collection string, raw any) (*Query, error) {
	return NewTranslator().Translate(collection, raw)
}

// TranslateFilters is a convenience wrapper around a default Translator.
func TranslateFilters(raw any) (*QueryFilter, error) {
	return NewTranslator().TranslateFilters(raw)
}

// Translate converts a unified query (a map with filters/fields/sort/
// pagination keys, a bare filter array, or nil for "everything") into a
// canonical Query for collection.
func (t *Translator) Translate(collection string, raw any) (*Query, error) {
	if collection == "" {
		return nil, translationErrorf(nil, "query requires a collection name")
	}
	q := &Query{Collection: collection}
	if raw == nil {
		return q, nil
	}

	switch input := raw.(type) {
	case []any:
		filters, err := t.TranslateFilters(input)
		if err != nil {
			return nil, err
		}
		q.Filters = filters
		return q, nil
	case map[string]any:
		return t.translateMap(q, input)
	default:
		return nil, translationErrorf(raw, "unsupported query shape %T", raw)
	}
}

func (t *Translator) translateMap(q *Query, input map[string]any) (*Query, error) {
	limits := paginationInput{}
	keys := make([]string, 0, len(input))
	for key := range input {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := input[key]
		switch key {
		case "filters", "filter", "where":
			filters, err := t.TranslateFilters(value)
			if err != nil {
				return nil, err
			}
			q.Filters = filters
		case "fields", "select":
			include, err := parseFieldList(value)
			if err != nil {
				return nil, err
			}
			if q.Projection == nil {
				q.Projection = &ProjectionConfiguration{}
			}
			q.Projection.Include = include
		case "exclude":
			exclude, err := parseFieldList(value)
			if err != nil {
				return nil, err
			}
			if q.Projection == nil {
				q.Projection = &ProjectionConfiguration{}
			}
			q.Projection.Exclude = exclude
		case "sort", "order", "orderBy", "order_by":
			sortSpec, err := parseSort(value)
			if err != nil {
				return nil, err
			}
			q.Sort = sortSpec
		case "top", "limit":
			n, err := parsePageNumber(key, value, 0)
			if err != nil {
				return nil, err
			}
			limits.setLimit(key, n)
		case "skip", "offset":
			n, err := parsePageNumber(key, value, 0)
			if err != nil {
				return nil, err
			}
			limits.setOffset(key, n)
		case "page":
			n, err := parsePageNumber(key, value, 1)
			if err != nil {
				return nil, err
			}
			limits.page = &n
		case "size", "pageSize", "page_size":
			n, err := parsePageNumber(key, value, 1)
			if err != nil {
				return nil, err
			}
			limits.size = &n
		case "aggregate", "aggregations":
			aggs, err := parseAggregations(value)
			if err != nil {
				return nil, err
			}
			q.Aggregations = aggs
		default:
			return nil, translationErrorf(key, "unknown query key %q", key)
		}
	}

	pagination, err := limits.resolve()
	if err != nil {
		return nil, err
	}
	q.Pagination = pagination
	return q, nil
}

// TranslateFilters converts filter shorthand into a canonical filter tree.
// Accepted shapes:
//
//   - ["field", "op", value]: a single comparison;
//   - [clause, "and", clause, ...]: clauses joined by interleaved combinator
//     tokens, left to right; runs of one combinator collapse into one group,
//     mixing "and" and "or" at the same level is an error;
//   - [clause, clause, ...]: token-less sequences combine under AND;
//   - {"field": value}: implicit equality, AND-combined in field order;
//   - {"field": {"op": value}}: explicit operators per field;
//   - {"and": [...]} / {"or": [...]} / {"not": clause}: explicit grouping.
func (t *Translator) TranslateFilters(raw any) (*QueryFilter, error) {
	if raw == nil {
		return nil, nil
	}
	filter, err := t.translateClause(raw, 1)
	if err != nil {
		return nil, err
	}
	return filter, nil
}

func (t *Translator) maxDepth() int {
	if t.MaxDepth > 0 {
		return t.MaxDepth
	}
	return DefaultMaxFilterDepth
}

func (t *Translator) translateClause(raw any, depth int) (*QueryFilter, error) {
	if depth > t.maxDepth() {
		return nil, translationErrorf(raw, "filter nesting exceeds maximum depth %d", t.maxDepth())
	}
	switch clause := raw.(type) {
	case []any:
		return t.translateArray(clause, depth)
	case map[string]any:
		return t.translateObject(clause, depth)
	case QueryFilter:
		return &clause, nil
	case *QueryFilter:
		return clause, nil
	default:
		return nil, translationErrorf(raw, "unsupported filter clause %T", raw)
	}
}

func (t *Translator) translateArray(clause []any, depth int) (*QueryFilter, error) {
	if len(clause) == 0 {
		return nil, translationErrorf(clause, "empty filter array")
	}
	if cond, ok, err := t.tryTriple(clause); err != nil {
		return nil, err
	} else if ok {
		return cond, nil
	}

	hasToken := false
	for _, element := range clause {
		if _, ok := combinatorToken(element); ok {
			hasToken = true
			break
		}
	}

	// Token-less sequences combine under AND.
	if !hasToken {
		children := make([]QueryFilter, 0, len(clause))
		for _, element := range clause {
			child, err := t.translateClause(element, depth+1)
			if err != nil {
				return nil, err
			}
			children = append(children, *child)
		}
		if len(children) == 1 {
			return &children[0], nil
		}
		return &QueryFilter{Group: &FilterGroup{Operator: LogicalOperatorAnd, Conditions: children}}, nil
	}

	// Tokenized sequences must alternate strictly: clause token clause ...
	if len(clause)%2 == 0 {
		return nil, translationErrorf(clause, "tokenized filter sequence ends on a combinator")
	}
	var combinator string
	children := make([]QueryFilter, 0, len(clause)/2+1)
	for i, element := range clause {
		if i%2 == 1 {
			token, ok := combinatorToken(element)
			if !ok {
				return nil, translationErrorf(element, "expected combinator between conditions, got %v", element)
			}
			if combinator == "" {
				combinator = token
			} else if combinator != token {
				return nil, translationErrorf(clause,
					"cannot mix %q and %q at one nesting level without explicit grouping", combinator, token)
			}
			continue
		}
		if token, ok := combinatorToken(element); ok {
			return nil, translationErrorf(clause, "combinator %q must appear between conditions", token)
		}
		child, err := t.translateClause(element, depth+1)
		if err != nil {
			return nil, err
		}
		children = append(children, *child)
	}

	op := LogicalOperatorAnd
	if combinator == "or" {
		op = LogicalOperatorOr
	}
	return &QueryFilter{Group: &FilterGroup{Operator: op, Conditions: children}}, nil
}

// tryTriple recognizes the ["field", "op", value] shape. The middle element
// must parse as an operator; otherwise the array is treated as a sequence.
func (t *Translator) tryTriple(clause []any) (*QueryFilter, bool, error) {
	if len(clause) != 2 && len(clause) != 3 {
		return nil, false, nil
	}
	field, ok := clause[0].(string)
	if !ok {
		return nil, false, nil
	}
	opText, ok := clause[1].(string)
	if !ok {
		return nil, false, nil
	}
	if _, isToken := combinatorToken(opText); isToken {
		return nil, false, nil
	}
	op, err := ParseOperator(opText)
	if err != nil {
		if len(clause) == 2 {
			// Two-element arrays that are not [field, unary-op] are sequences.
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(clause) == 2 {
		if op != ComparisonOperatorExists && op != ComparisonOperatorNotExists {
			return nil, false, translationErrorf(clause, "operator %q requires a value", opText)
		}
		filter := Condition(field, op, nil)
		return &filter, true, nil
	}
	value := clause[2]
	if err := checkOperandShape(op, value, clause); err != nil {
		return nil, false, err
	}
	filter := Condition(field, op, value)
	return &filter, true, nil
}

func (t *Translator) translateObject(clause map[string]any, depth int) (*QueryFilter, error) {
	if len(clause) == 0 {
		return nil, translationErrorf(clause, "empty filter object")
	}
	keys := make([]string, 0, len(clause))
	for key := range clause {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var children []QueryFilter
	for _, key := range keys {
		value := clause[key]
		switch key {
		case "and", "or":
			items, ok := value.([]any)
			if !ok {
				return nil, translationErrorf(value, "%q grouping requires an array", key)
			}
			var group []QueryFilter
			for _, item := range items {
				child, err := t.translateClause(item, depth+1)
				if err != nil {
					return nil, err
				}
				group = append(group, *child)
			}
			op := LogicalOperatorAnd
			if key == "or" {
				op = LogicalOperatorOr
			}
			children = append(children, QueryFilter{Group: &FilterGroup{Operator: op, Conditions: group}})
		case "not":
			child, err := t.translateClause(value, depth+1)
			if err != nil {
				return nil, err
			}
			children = append(children, Not(*child))
		default:
			field, err := t.translateFieldValue(key, value, depth)
			if err != nil {
				return nil, err
			}
			children = append(children, field...)
		}
	}
	if len(children) == 1 {
		return &children[0], nil
	}
	return &QueryFilter{Group: &FilterGroup{Operator: LogicalOperatorAnd, Conditions: children}}, nil
}

func (t *Translator) translateFieldValue(field string, value any, depth int) ([]QueryFilter, error) {
	opMap, ok := value.(map[string]any)
	if !ok {
		return []QueryFilter{Condition(field, ComparisonOperatorEq, value)}, nil
	}
	if len(opMap) == 0 {
		return nil, translationErrorf(value, "empty operator map for field %q", field)
	}
	ops := make([]string, 0, len(opMap))
	for opText := range opMap {
		ops = append(ops, opText)
	}
	sort.Strings(ops)

	var filters []QueryFilter
	for _, opText := range ops {
		op, err := ParseOperator(opText)
		if err != nil {
			return nil, err
		}
		operand := opMap[opText]
		if err := checkOperandShape(op, operand, opMap); err != nil {
			return nil, err
		}
		filters = append(filters, Condition(field, op, operand))
	}
	return filters, nil
}

func combinatorToken(element any) (string, bool) {
	token, ok := element.(string)
	if !ok {
		return "", false
	}
	switch strings.ToLower(token) {
	case "and", "or":
		return strings.ToLower(token), true
	}
	return "", false
}

func checkOperandShape(op ComparisonOperator, value any, fragment any) error {
	switch op {
	case ComparisonOperatorIn, ComparisonOperatorNin:
		switch value.(type) {
		case []any, []string, []int, []int64, []float64:
			return nil
		}
		return translationErrorf(fragment, "operator %q requires an array operand", op)
	case ComparisonOperatorExists, ComparisonOperatorNotExists:
		if value != nil {
			if _, ok := value.(bool); !ok {
				return translationErrorf(fragment, "operator %q takes no operand", op)
			}
		}
		return nil
	default:
		return nil
	}
}

func parseFieldList(value any) ([]string, error) {
	switch list := value.(type) {
	case string:
		parts := strings.Split(list, ",")
		fields := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				fields = append(fields, trimmed)
			}
		}
		if len(fields) == 0 {
			return nil, translationErrorf(value, "empty field list")
		}
		return fields, nil
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		fields := make([]string, 0, len(list))
		for _, item := range list {
			name, ok := item.(string)
			if !ok {
				return nil, translationErrorf(item, "field names must be strings, got %T", item)
			}
			fields = append(fields, name)
		}
		return fields, nil
	default:
		return nil, translationErrorf(value, "unsupported field list shape %T", value)
	}
}

func parseSort(value any) ([]SortConfiguration, error) {
	switch spec := value.(type) {
	case string:
		return []SortConfiguration{parseSortField(spec)}, nil
	case map[string]any:
		single, err := parseSortMap(spec)
		if err != nil {
			return nil, err
		}
		return []SortConfiguration{single}, nil
	case []any:
		var sorts []SortConfiguration
		for _, item := range spec {
			switch entry := item.(type) {
			case string:
				sorts = append(sorts, parseSortField(entry))
			case map[string]any:
				single, err := parseSortMap(entry)
				if err != nil {
					return nil, err
				}
				sorts = append(sorts, single)
			case []any:
				if len(entry) != 2 {
					return nil, translationErrorf(entry, "sort pairs need exactly [field, direction]")
				}
				field, fok := entry[0].(string)
				dir, dok := entry[1].(string)
				if !fok || !dok {
					return nil, translationErrorf(entry, "sort pairs need string field and direction")
				}
				direction, err := parseSortDirection(dir)
				if err != nil {
					return nil, err
				}
				sorts = append(sorts, SortConfiguration{Field: field, Direction: direction})
			default:
				return nil, translationErrorf(item, "unsupported sort entry %T", item)
			}
		}
		return sorts, nil
	default:
		return nil, translationErrorf(value, "unsupported sort shape %T", value)
	}
}

func parseSortField(spec string) SortConfiguration {
	spec = strings.TrimSpace(spec)
	if strings.HasPrefix(spec, "-") {
		return SortConfiguration{Field: spec[1:], Direction: SortDirectionDesc}
	}
	if strings.HasPrefix(spec, "+") {
		return SortConfiguration{Field: spec[1:], Direction: SortDirectionAsc}
	}
	return SortConfiguration{Field: spec, Direction: SortDirectionAsc}
}

func parseSortMap(spec map[string]any) (SortConfiguration, error) {
	rawField, ok := spec["field"]
	if !ok {
		return SortConfiguration{}, translationErrorf(spec, "sort object requires a field key")
	}
	field, ok := rawField.(string)
	if !ok {
		return SortConfiguration{}, translationErrorf(spec, "sort field must be a string")
	}
	direction := SortDirectionAsc
	if rawDir, ok := spec["direction"]; ok {
		dirText, ok := rawDir.(string)
		if !ok {
			return SortConfiguration{}, translationErrorf(spec, "sort direction must be a string")
		}
		parsed, err := parseSortDirection(dirText)
		if err != nil {
			return SortConfiguration{}, err
		}
		direction = parsed
	}
	return SortConfiguration{Field: field, Direction: direction}, nil
}

func parseSortDirection(dir string) (SortDirection, error) {
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "asc", "ascending":
		return SortDirectionAsc, nil
	case "desc", "descending":
		return SortDirectionDesc, nil
	default:
		return "", translationErrorf(dir, "unknown sort direction %q", dir)
	}
}

func parseAggregations(value any) ([]AggregationConfiguration, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, translationErrorf(value, "aggregations must be an array")
	}
	var aggs []AggregationConfiguration
	for _, item := range items {
		switch entry := item.(type) {
		case string:
			if strings.ToLower(entry) != string(AggregationTypeCount) {
				return nil, translationErrorf(entry, "bare aggregation %q is not supported, only \"count\"", entry)
			}
			aggs = append(aggs, AggregationConfiguration{Type: AggregationTypeCount, Alias: "count"})
		case map[string]any:
			agg, err := parseAggregationMap(entry)
			if err != nil {
				return nil, err
			}
			aggs = append(aggs, agg)
		default:
			return nil, translationErrorf(item, "unsupported aggregation entry %T", item)
		}
	}
	return aggs, nil
}

func parseAggregationMap(entry map[string]any) (AggregationConfiguration, error) {
	rawType, ok := entry["type"]
	if !ok {
		return AggregationConfiguration{}, translationErrorf(entry, "aggregation requires a type")
	}
	typeText, ok := rawType.(string)
	if !ok {
		return AggregationConfiguration{}, translationErrorf(entry, "aggregation type must be a string")
	}
	var aggType AggregationType
	switch AggregationType(strings.ToLower(typeText)) {
	case AggregationTypeCount, AggregationTypeSum, AggregationTypeAvg, AggregationTypeMin, AggregationTypeMax:
		aggType = AggregationType(strings.ToLower(typeText))
	default:
		return AggregationConfiguration{}, translationErrorf(typeText, "unknown aggregation type %q", typeText)
	}

	field := ""
	if rawField, ok := entry["field"]; ok {
		field, ok = rawField.(string)
		if !ok {
			return AggregationConfiguration{}, translationErrorf(entry, "aggregation field must be a string")
		}
	}
	if field == "" && aggType != AggregationTypeCount {
		return AggregationConfiguration{}, translationErrorf(entry, "aggregation %q requires a field", aggType)
	}

	alias := ""
	if rawAlias, ok := entry["alias"]; ok {
		alias, ok = rawAlias.(string)
		if !ok {
			return AggregationConfiguration{}, translationErrorf(entry, "aggregation alias must be a string")
		}
	}
	if alias == "" {
		if field == "" {
			alias = string(aggType)
		} else {
			alias = fmt.Sprintf("%s_%s", aggType, field)
		}
	}
	return AggregationConfiguration{Type: aggType, Field: field, Alias: alias}, nil
}

// paginationInput tracks which pagination spellings appeared so that
// conflicting families can be rejected instead of silently preferring one.
type paginationInput struct {
	limit     *int
	limitKey  string
	offset    *int
	offsetKey string
	page      *int
	size      *int
}

func (p *paginationInput) setLimit(key string, n int) {
	p.limit = &n
	p.limitKey = key
}

func (p *paginationInput) setOffset(key string, n int) {
	p.offset = &n
	p.offsetKey = key
}

func (p *paginationInput) resolve() (*PaginationOptions, error) {
	if p.page != nil || p.size != nil {
		if p.limit != nil || p.offset != nil {
			return nil, translationErrorf(nil, "page/size cannot be combined with limit/offset spellings")
		}
		if p.size == nil {
			return nil, translationErrorf(nil, "page requires a size")
		}
		page := 1
		if p.page != nil {
			page = *p.page
		}
		return &PaginationOptions{Limit: *p.size, Offset: (page - 1) * *p.size}, nil
	}
	if p.limit == nil && p.offset == nil {
		return nil, nil
	}
	result := &PaginationOptions{}
	if p.limit != nil {
		result.Limit = *p.limit
	}
	if p.offset != nil {
		result.Offset = *p.offset
	}
	return result, nil
}

func parsePageNumber(key string, value any, min int) (int, error) {
	f, ok := ToFloat64(value)
	if !ok {
		return 0, translationErrorf(value, "%s must be a number, got %T", key, value)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, translationErrorf(value, "%s must be finite", key)
	}
	if f != math.Trunc(f) {
		return 0, translationErrorf(value, "%s must be a whole number", key)
	}
	n := int(f)
	if n < min {
		return 0, translationErrorf(value, "%s must be >= %d", key, min)
	}
	return n, nil
}
