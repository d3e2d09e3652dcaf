package postgres

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/query"
	"github.com/asaidimu/go-daraja/core/schema"
)

// sqlBuilder lowers canonical queries and commands against one object to
// PostgreSQL statements. Filter trees render in walk order: a parameterized
// reference becomes $N where N is its ordinal and records its slot, a
// literal becomes the next free $N and collects its argument, so
// placeholder numbers always line up with what executes.
type sqlBuilder struct {
	obj   *schema.Object
	table string
}

// whereState accumulates placeholder bookkeeping while a filter renders.
// Plans produce slots, command filters produce args; a statement never
// legitimately mixes the two.
type whereState struct {
	slots []driver.ParameterSlot
	args  []any
}

// quoteIdentifier quotes a table or column name for PostgreSQL.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (g *sqlBuilder) column(field string) (string, error) {
	def := g.obj.Field(field)
	if def == nil {
		return "", errors.Newf("object %q has no field %q", g.obj.Name, field)
	}
	if def.IsComputed() {
		return "", errors.Newf("field %q of %q is computed, not stored", field, g.obj.Name)
	}
	return quoteIdentifier(field), nil
}

// selectSQL renders one read. Aggregations replace the column list and drop
// ordering; sort and window render only when the plan kept them native.
func (g *sqlBuilder) selectSQL(q *query.Query) (string, []driver.ParameterSlot, error) {
	if q == nil {
		return "", nil, errors.New("nil query")
	}
	columns, err := g.selectColumns(q)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(quoteIdentifier(g.table))

	state := &whereState{}
	if q.Filters != nil {
		where, err := g.whereClause(q.Filters, state)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	if len(state.args) > 0 {
		return "", nil, errors.New("query plan filter carries literal values, expected parameter references")
	}

	if len(q.Aggregations) == 0 {
		if len(q.Sort) > 0 {
			clauses := make([]string, 0, len(q.Sort))
			for _, s := range q.Sort {
				col, err := g.column(s.Field)
				if err != nil {
					return "", nil, err
				}
				dir := "ASC"
				if s.Direction == query.SortDirectionDesc {
					dir = "DESC"
				}
				clauses = append(clauses, col+" "+dir)
			}
			sb.WriteString(" ORDER BY ")
			sb.WriteString(strings.Join(clauses, ", "))
		}
		if q.Pagination != nil {
			if q.Pagination.Limit > 0 {
				fmt.Fprintf(&sb, " LIMIT %d", q.Pagination.Limit)
			}
			if q.Pagination.Offset > 0 {
				fmt.Fprintf(&sb, " OFFSET %d", q.Pagination.Offset)
			}
		}
	}
	sb.WriteString(";")
	return sb.String(), state.slots, nil
}

func (g *sqlBuilder) selectColumns(q *query.Query) ([]string, error) {
	if len(q.Aggregations) > 0 {
		return g.aggregateColumns(q.Aggregations)
	}
	projection := q.Projection
	if projection == nil || (len(projection.Include) == 0 && len(projection.Exclude) == 0) {
		return []string{"*"}, nil
	}
	if len(projection.Include) > 0 {
		columns := make([]string, 0, len(projection.Include))
		for _, field := range projection.Include {
			col, err := g.column(field)
			if err != nil {
				return nil, err
			}
			columns = append(columns, col)
		}
		return columns, nil
	}
	// An exclude-only projection enumerates the remaining stored columns.
	excluded := make(map[string]struct{}, len(projection.Exclude))
	for _, field := range projection.Exclude {
		excluded[field] = struct{}{}
	}
	var columns []string
	for _, name := range g.obj.StoredFieldNames() {
		if _, skip := excluded[name]; skip {
			continue
		}
		columns = append(columns, quoteIdentifier(name))
	}
	if len(columns) == 0 {
		return nil, errors.Newf("projection excludes every stored field of %q", g.obj.Name)
	}
	return columns, nil
}

func (g *sqlBuilder) aggregateColumns(aggs []query.AggregationConfiguration) ([]string, error) {
	columns := make([]string, 0, len(aggs))
	for _, agg := range aggs {
		var expr string
		switch agg.Type {
		case query.AggregationTypeCount:
			if agg.Field == "" {
				expr = "COUNT(*)"
			} else {
				col, err := g.column(agg.Field)
				if err != nil {
					return nil, err
				}
				expr = "COUNT(" + col + ")"
			}
		case query.AggregationTypeSum, query.AggregationTypeAvg,
			query.AggregationTypeMin, query.AggregationTypeMax:
			col, err := g.column(agg.Field)
			if err != nil {
				return nil, err
			}
			expr = strings.ToUpper(string(agg.Type)) + "(" + col + ")"
		default:
			return nil, errors.Newf("unsupported aggregation %q", agg.Type)
		}
		alias := agg.Alias
		if alias == "" {
			alias = string(agg.Type)
		}
		columns = append(columns, expr+" AS "+quoteIdentifier(alias))
	}
	return columns, nil
}

// whereClause renders a filter node. Empty groups render as "1=1" rather
// than vanishing, so every allocated placeholder keeps its number and an
// always-true branch keeps its meaning inside OR and NOT.
func (g *sqlBuilder) whereClause(filter *query.QueryFilter, state *whereState) (string, error) {
	if filter == nil {
		return "1=1", nil
	}
	if filter.Condition != nil {
		return g.condition(filter.Condition, state)
	}
	if filter.Group != nil {
		group := filter.Group
		if group.Operator == schema.LogicalNot {
			if len(group.Conditions) != 1 {
				return "", errors.Newf("not group requires exactly one child, got %d", len(group.Conditions))
			}
			inner, err := g.whereClause(&group.Conditions[0], state)
			if err != nil {
				return "", err
			}
			return "NOT (" + inner + ")", nil
		}
		if len(group.Conditions) == 0 {
			return "1=1", nil
		}
		clauses := make([]string, 0, len(group.Conditions))
		for i := range group.Conditions {
			clause, err := g.whereClause(&group.Conditions[i], state)
			if err != nil {
				return "", err
			}
			clauses = append(clauses, clause)
		}
		var op string
		switch group.Operator {
		case schema.LogicalAnd:
			op = " AND "
		case schema.LogicalOr:
			op = " OR "
		default:
			return "", errors.Newf("unsupported logical operator %q", group.Operator)
		}
		return "(" + strings.Join(clauses, op) + ")", nil
	}
	return "", errors.New("filter has neither condition nor group")
}

func (g *sqlBuilder) condition(cond *query.FilterCondition, state *whereState) (string, error) {
	col, err := g.column(cond.Field)
	if err != nil {
		return "", err
	}
	switch cond.Operator {
	case query.ComparisonOperatorExists:
		return col + " IS NOT NULL", nil
	case query.ComparisonOperatorNotExists:
		return col + " IS NULL", nil
	case query.ComparisonOperatorIn, query.ComparisonOperatorNin:
		placeholders, err := g.listPlaceholders(cond, state)
		if err != nil {
			return "", err
		}
		if placeholders == "" {
			// IN over nothing matches nothing; NOT IN over nothing
			// matches everything.
			if cond.Operator == query.ComparisonOperatorIn {
				return "1=0", nil
			}
			return "1=1", nil
		}
		op := "IN"
		if cond.Operator == query.ComparisonOperatorNin {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", col, op, placeholders), nil
	}

	mark, err := g.placeholder(cond, state)
	if err != nil {
		return "", err
	}
	switch cond.Operator {
	case query.ComparisonOperatorEq:
		return col + " = " + mark, nil
	case query.ComparisonOperatorNeq:
		return col + " != " + mark, nil
	case query.ComparisonOperatorLt:
		return col + " < " + mark, nil
	case query.ComparisonOperatorLte:
		return col + " <= " + mark, nil
	case query.ComparisonOperatorGt:
		return col + " > " + mark, nil
	case query.ComparisonOperatorGte:
		return col + " >= " + mark, nil
	case query.ComparisonOperatorLike:
		return col + " LIKE " + mark, nil
	case query.ComparisonOperatorContains:
		return col + " LIKE '%' || " + mark + " || '%'", nil
	case query.ComparisonOperatorNotContains:
		return col + " NOT LIKE '%' || " + mark + " || '%'", nil
	case query.ComparisonOperatorStartsWith:
		return col + " LIKE " + mark + " || '%'", nil
	case query.ComparisonOperatorEndsWith:
		return col + " LIKE '%' || " + mark, nil
	default:
		return "", errors.Newf("operator %q has no postgres lowering", cond.Operator)
	}
}

// placeholder renders one $N for a scalar condition value. A parameter
// reference is numbered by its ordinal; a literal takes the next argument
// position.
func (g *sqlBuilder) placeholder(cond *query.FilterCondition, state *whereState) (string, error) {
	switch v := cond.Value.(type) {
	case driver.ParamRef:
		state.slots = append(state.slots, driver.ParameterSlot{Name: cond.Field, Ordinal: v.Ordinal})
		return fmt.Sprintf("$%d", v.Ordinal), nil
	case driver.ParamList:
		return "", errors.Newf("list reference on scalar operator %q", cond.Operator)
	default:
		prepared, err := g.bindValue(cond.Field, cond.Value)
		if err != nil {
			return "", err
		}
		state.args = append(state.args, prepared)
		return fmt.Sprintf("$%d", len(state.args)), nil
	}
}

func (g *sqlBuilder) listPlaceholders(cond *query.FilterCondition, state *whereState) (string, error) {
	switch v := cond.Value.(type) {
	case driver.ParamList:
		if len(v.Ordinals) == 0 {
			return "", nil
		}
		marks := make([]string, len(v.Ordinals))
		for i, ordinal := range v.Ordinals {
			marks[i] = fmt.Sprintf("$%d", ordinal)
			state.slots = append(state.slots, driver.ParameterSlot{
				Name:    fmt.Sprintf("%s[%d]", cond.Field, i),
				Ordinal: ordinal,
			})
		}
		return strings.Join(marks, ", "), nil
	case driver.ParamRef:
		return "", errors.Newf("scalar reference on list operator %q", cond.Operator)
	default:
		values := listValues(cond.Value)
		if len(values) == 0 {
			return "", nil
		}
		marks := make([]string, len(values))
		for i, value := range values {
			prepared, err := g.bindValue(cond.Field, value)
			if err != nil {
				return "", err
			}
			state.args = append(state.args, prepared)
			marks[i] = fmt.Sprintf("$%d", len(state.args))
		}
		return strings.Join(marks, ", "), nil
	}
}

func listValues(value any) []any {
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
	case nil:
		return nil
	default:
		return []any{value}
	}
}

// bindValue converts a document value to what pgx can bind. Structured
// values marshal to JSON text; pgx encodes that into JSONB columns from the
// statement's parameter types. Scalars pass through.
func (g *sqlBuilder) bindValue(field string, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	def := g.obj.Field(field)
	if def == nil {
		return value, nil
	}
	switch def.Type {
	case schema.FieldTypeObject, schema.FieldTypeRecord, schema.FieldTypeArray:
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, errors.Wrapf(err, "encode field %q", field)
		}
		return string(raw), nil
	default:
		return value, nil
	}
}

// insertSQL renders one INSERT with sorted field order, so logs and tests
// see stable statements.
func (g *sqlBuilder) insertSQL(doc schema.Document, returning bool) (string, []any, error) {
	if len(doc) == 0 {
		return "", nil, errors.New("empty document")
	}
	fields := make([]string, 0, len(doc))
	for field := range doc {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	columns := make([]string, len(fields))
	marks := make([]string, len(fields))
	args := make([]any, 0, len(fields))
	for i, field := range fields {
		col, err := g.column(field)
		if err != nil {
			return "", nil, err
		}
		prepared, err := g.bindValue(field, doc[field])
		if err != nil {
			return "", nil, err
		}
		columns[i] = col
		marks[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, prepared)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES (%s)",
		quoteIdentifier(g.table), strings.Join(columns, ", "), strings.Join(marks, ", "))
	if returning {
		sb.WriteString(" RETURNING *")
	}
	sb.WriteString(";")
	return sb.String(), args, nil
}

// updateSQL renders one UPDATE from a patch and a concrete filter. The SET
// arguments take the leading placeholder numbers; filter literals continue
// after them.
func (g *sqlBuilder) updateSQL(patch schema.Document, filter *query.QueryFilter) (string, []any, error) {
	if len(patch) == 0 {
		return "", nil, errors.New("empty update patch")
	}
	fields := make([]string, 0, len(patch))
	for field := range patch {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	sets := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for _, field := range fields {
		col, err := g.column(field)
		if err != nil {
			return "", nil, err
		}
		prepared, err := g.bindValue(field, patch[field])
		if err != nil {
			return "", nil, err
		}
		args = append(args, prepared)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "UPDATE %s SET %s", quoteIdentifier(g.table), strings.Join(sets, ", "))
	state := &whereState{args: args}
	if filter != nil {
		where, err := g.whereClause(filter, state)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	if len(state.slots) > 0 {
		return "", nil, errors.New("command filter carries parameter references, expected concrete values")
	}
	sb.WriteString(";")
	return sb.String(), state.args, nil
}

// deleteSQL renders one DELETE from a concrete filter.
func (g *sqlBuilder) deleteSQL(filter *query.QueryFilter) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(quoteIdentifier(g.table))
	state := &whereState{}
	if filter != nil {
		where, err := g.whereClause(filter, state)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	if len(state.slots) > 0 {
		return "", nil, errors.New("command filter carries parameter references, expected concrete values")
	}
	sb.WriteString(";")
	return sb.String(), state.args, nil
}
