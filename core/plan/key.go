package plan

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/query"
	"github.com/asaidimu/go-daraja/core/schema"
)

// Parameterize strips the literals out of a filter tree. It returns the
// skeleton (literals replaced by driver.ParamRef/ParamList markers), the
// parameter slots in binding order, and the stripped values in the same
// order. Binding order is a left-to-right depth-first walk, the same order
// every backend lowers the tree in, so slot N in the skeleton is value N at
// execution. List operands keep one slot per element: arity is structure,
// values are not.
func Parameterize(filter *query.QueryFilter) (*query.QueryFilter, []driver.ParameterSlot, []any) {
	if filter == nil {
		return nil, nil, nil
	}
	skeleton := filter.Clone()
	state := &paramState{}
	state.walk(skeleton)
	return skeleton, state.slots, state.values
}

type paramState struct {
	slots  []driver.ParameterSlot
	values []any
}

func (s *paramState) walk(filter *query.QueryFilter) {
	if filter == nil {
		return
	}
	if filter.Condition != nil {
		s.parameterizeCondition(filter.Condition)
		return
	}
	if filter.Group != nil {
		for i := range filter.Group.Conditions {
			s.walk(&filter.Group.Conditions[i])
		}
	}
}

func (s *paramState) parameterizeCondition(cond *query.FilterCondition) {
	switch cond.Operator {
	case query.ComparisonOperatorExists, query.ComparisonOperatorNotExists:
		cond.Value = nil
		return
	case query.ComparisonOperatorIn, query.ComparisonOperatorNin:
		elements := listElements(cond.Value)
		ordinals := make([]int, len(elements))
		for i, element := range elements {
			ordinals[i] = s.addSlot(fmt.Sprintf("%s[%d]", cond.Field, i), element)
		}
		cond.Value = driver.ParamList{Ordinals: ordinals}
	default:
		ordinal := s.addSlot(cond.Field, cond.Value)
		cond.Value = driver.ParamRef{Ordinal: ordinal}
	}
}

func (s *paramState) addSlot(name string, value any) int {
	ordinal := len(s.slots) + 1
	s.slots = append(s.slots, driver.ParameterSlot{Name: name, Ordinal: ordinal})
	s.values = append(s.values, value)
	return ordinal
}

func listElements(value any) []any {
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

// Instantiate substitutes parameter values back into a skeleton, producing a
// concrete filter tree. Backends without native predicates use it to run
// cached plans against fresh values.
func Instantiate(skeleton *query.QueryFilter, params []any) (*query.QueryFilter, error) {
	if skeleton == nil {
		return nil, nil
	}
	concrete := skeleton.Clone()
	if err := instantiateNode(concrete, params); err != nil {
		return nil, err
	}
	return concrete, nil
}

func instantiateNode(filter *query.QueryFilter, params []any) error {
	if filter == nil {
		return nil
	}
	if filter.Condition != nil {
		switch ref := filter.Condition.Value.(type) {
		case driver.ParamRef:
			if ref.Ordinal < 1 || ref.Ordinal > len(params) {
				return errors.Newf("parameter ordinal %d out of range (%d bound)", ref.Ordinal, len(params))
			}
			filter.Condition.Value = params[ref.Ordinal-1]
		case driver.ParamList:
			values := make([]any, len(ref.Ordinals))
			for i, ordinal := range ref.Ordinals {
				if ordinal < 1 || ordinal > len(params) {
					return errors.Newf("parameter ordinal %d out of range (%d bound)", ordinal, len(params))
				}
				values[i] = params[ordinal-1]
			}
			filter.Condition.Value = values
		}
		return nil
	}
	if filter.Group != nil {
		for i := range filter.Group.Conditions {
			if err := instantiateNode(&filter.Group.Conditions[i], params); err != nil {
				return err
			}
		}
	}
	return nil
}

// ShapeKey hashes the structural form of a query against one backend and
// object version. Filter literals never reach the shape; list arity, field
// names, operators, projection, sort, window and aggregations all do.
func ShapeKey(backend string, obj *schema.Object, q *query.Query, skeleton *query.QueryFilter) (key, shape string) {
	var b strings.Builder
	b.WriteString(backend)
	b.WriteString("|")
	b.WriteString(obj.Name)
	b.WriteString("@")
	b.WriteString(obj.Version)
	b.WriteString("|f:")
	writeFilterShape(&b, skeleton)
	b.WriteString("|p:")
	if q.Projection != nil {
		b.WriteString("i=")
		b.WriteString(strings.Join(q.Projection.Include, ","))
		b.WriteString(";x=")
		b.WriteString(strings.Join(q.Projection.Exclude, ","))
	}
	b.WriteString("|s:")
	for i, s := range q.Sort {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%s=%s", s.Field, s.Direction)
	}
	b.WriteString("|w:")
	if q.Pagination != nil {
		fmt.Fprintf(&b, "l%d,o%d", q.Pagination.Limit, q.Pagination.Offset)
	}
	b.WriteString("|a:")
	for i, agg := range q.Aggregations {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%s(%s)as %s", agg.Type, agg.Field, agg.Alias)
	}

	shape = b.String()
	h := fnv.New64a()
	h.Write([]byte(shape))
	return fmt.Sprintf("%016x", h.Sum64()), shape
}

func writeFilterShape(b *strings.Builder, filter *query.QueryFilter) {
	if filter == nil {
		return
	}
	if filter.Condition != nil {
		cond := filter.Condition
		switch v := cond.Value.(type) {
		case driver.ParamRef:
			fmt.Fprintf(b, "c(%s %s @)", cond.Field, cond.Operator)
		case driver.ParamList:
			fmt.Fprintf(b, "c(%s %s @x%d)", cond.Field, cond.Operator, len(v.Ordinals))
		case nil:
			fmt.Fprintf(b, "c(%s %s _)", cond.Field, cond.Operator)
		default:
			// Literals only appear here if the caller skipped
			// Parameterize; hash their type, not their value.
			fmt.Fprintf(b, "c(%s %s %T)", cond.Field, cond.Operator, v)
		}
		return
	}
	if filter.Group != nil {
		fmt.Fprintf(b, "g(%s", filter.Group.Operator)
		for i := range filter.Group.Conditions {
			b.WriteString(";")
			writeFilterShape(b, &filter.Group.Conditions[i])
		}
		b.WriteString(")")
	}
}
