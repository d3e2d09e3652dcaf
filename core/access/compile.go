package access

import (
	"sort"
	"strings"

	"github.com/asaidimu/go-daraja/core/query"
	"github.com/asaidimu/go-daraja/core/schema"
	"go.uber.org/zap"
)

// Compiler rewrites queries and checks mutations against a policy. The same
// policy, identity and input always compile to the same output.
type Compiler struct {
	policy *Policy
	logger *zap.Logger
}

// NewCompiler creates a permission compiler over policy.
func NewCompiler(policy *Policy, logger *zap.Logger) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{policy: policy, logger: logger}
}

// CompileQuery authorizes a read. It gates the object, narrows the
// projection to fields the identity can see, binds row-filter placeholders
// and conjoins the row restriction onto the caller's filter. The input query
// is never mutated.
func (c *Compiler) CompileQuery(q *query.Query, obj *schema.Object, identity *Context) (*query.Query, *Decision, error) {
	grants := c.policy.applicable(q.Collection, OperationRead, identity.Roles)
	if len(grants) == 0 {
		return nil, nil, &ObjectAccessDeniedError{Subject: identity.Subject, Object: q.Collection, Operation: OperationRead}
	}

	decision := &Decision{
		Subject:       identity.Subject,
		Object:        q.Collection,
		Operation:     OperationRead,
		GrantingRoles: grantingRoles(grants),
	}
	compiled := q.Clone()

	if err := c.narrowProjection(compiled, obj, grants, decision); err != nil {
		return nil, nil, err
	}
	if err := c.applyRowFilters(compiled, grants, identity, decision); err != nil {
		return nil, nil, err
	}

	c.logger.Debug("compiled read",
		zap.String("object", q.Collection),
		zap.String("subject", identity.Subject),
		zap.Strings("dropped", decision.DroppedFields),
		zap.Bool("unrestricted", decision.Unrestricted))
	return compiled, decision, nil
}

// CompileWrite authorizes a mutation. Fields the identity cannot edit make
// the whole write fail; for updates and deletes the returned filter is the
// caller's filter conjoined with the identity's row restriction.
func (c *Compiler) CompileWrite(object string, op Operation, fields []string, filter *query.QueryFilter, identity *Context) (*query.QueryFilter, *Decision, error) {
	grants := c.policy.applicable(object, op, identity.Roles)
	if len(grants) == 0 {
		return nil, nil, &ObjectAccessDeniedError{Subject: identity.Subject, Object: object, Operation: op}
	}

	decision := &Decision{
		Subject:       identity.Subject,
		Object:        object,
		Operation:     op,
		GrantingRoles: grantingRoles(grants),
	}

	if len(fields) > 0 {
		editable, editAll := editableFields(grants)
		if !editAll {
			var denied []string
			for _, field := range fields {
				if _, ok := editable[field]; !ok {
					denied = append(denied, field)
				}
			}
			if len(denied) > 0 {
				sort.Strings(denied)
				return nil, nil, &FieldEditDeniedError{Subject: identity.Subject, Object: object, Fields: denied}
			}
		}
	}

	// Creates target no existing rows, so row restrictions do not apply.
	if op == OperationCreate {
		decision.Unrestricted = true
		return filter.Clone(), decision, nil
	}

	fragment, unrestricted, err := c.rowFragment(object, grants, identity)
	if err != nil {
		return nil, nil, err
	}
	decision.Unrestricted = unrestricted
	decision.RowFilter = fragment
	return conjoin(filter.Clone(), fragment), decision, nil
}

// narrowProjection drops requested fields the identity cannot see. The drop
// is silent at the query level and recorded on the decision.
func (c *Compiler) narrowProjection(q *query.Query, obj *schema.Object, grants []Grant, decision *Decision) error {
	visible, visibleAll := visibleFields(grants)
	if visibleAll {
		return nil
	}

	var requested []string
	explicit := q.Projection != nil && len(q.Projection.Include) > 0
	if explicit {
		requested = q.Projection.Include
	} else {
		requested = obj.FieldNames()
	}

	kept := make([]string, 0, len(requested))
	var dropped []string
	for _, field := range requested {
		if _, ok := visible[field]; ok {
			kept = append(kept, field)
		} else {
			dropped = append(dropped, field)
		}
	}
	sort.Strings(dropped)
	decision.DroppedFields = dropped
	if len(dropped) == 0 && !explicit {
		return nil
	}

	if q.Projection == nil {
		q.Projection = &query.ProjectionConfiguration{}
	}
	if len(kept) == 0 {
		// An empty include list means "all fields", so a fully-masked
		// projection is expressed by excluding every field instead.
		q.Projection.Include = nil
		q.Projection.Exclude = obj.FieldNames()
		return nil
	}
	q.Projection.Include = kept
	return nil
}

// applyRowFilters binds and conjoins the identity's row restriction.
func (c *Compiler) applyRowFilters(q *query.Query, grants []Grant, identity *Context, decision *Decision) error {
	fragment, unrestricted, err := c.rowFragment(q.Collection, grants, identity)
	if err != nil {
		return err
	}
	decision.Unrestricted = unrestricted
	decision.RowFilter = fragment
	q.Filters = conjoin(q.Filters, fragment)
	return nil
}

// rowFragment builds the row restriction for a set of applicable grants:
// fragments from different grants are ORed together, because each grant
// independently reaches its rows. A grant without a row filter reaches every
// row, which makes the whole union unrestricted.
func (c *Compiler) rowFragment(object string, grants []Grant, identity *Context) (*query.QueryFilter, bool, error) {
	var fragments []query.QueryFilter
	for _, grant := range grants {
		if grant.RowFilter == nil {
			return nil, true, nil
		}
		bound, err := bindPlaceholders(grant.RowFilter, object, identity)
		if err != nil {
			return nil, false, err
		}
		fragments = append(fragments, *bound)
	}
	if len(fragments) == 0 {
		return nil, true, nil
	}
	if len(fragments) == 1 {
		return &fragments[0], false, nil
	}
	union := query.Or(fragments...)
	return &union, false, nil
}

func conjoin(userFilter, fragment *query.QueryFilter) *query.QueryFilter {
	if fragment == nil {
		return userFilter
	}
	if userFilter == nil {
		return fragment
	}
	combined := query.And(*userFilter, *fragment)
	return &combined
}

// visibleFields unions field visibility across grants. The bool result
// reports full visibility (some grant has no field list).
func visibleFields(grants []Grant) (map[string]struct{}, bool) {
	visible := make(map[string]struct{})
	for _, grant := range grants {
		if grant.Fields == nil {
			return nil, true
		}
		for name, rule := range grant.Fields {
			if rule.Visible {
				visible[name] = struct{}{}
			}
		}
	}
	return visible, false
}

// editableFields unions field editability across grants.
func editableFields(grants []Grant) (map[string]struct{}, bool) {
	editable := make(map[string]struct{})
	for _, grant := range grants {
		if grant.Fields == nil {
			return nil, true
		}
		for name, rule := range grant.Fields {
			if rule.Editable {
				editable[name] = struct{}{}
			}
		}
	}
	return editable, false
}

// bindPlaceholders clones a row filter with identity placeholders replaced
// by concrete values. Unresolvable placeholders fail the compilation.
func bindPlaceholders(filter *query.QueryFilter, object string, identity *Context) (*query.QueryFilter, error) {
	bound := filter.Clone()
	if err := bindNode(bound, object, identity); err != nil {
		return nil, err
	}
	return bound, nil
}

func bindNode(filter *query.QueryFilter, object string, identity *Context) error {
	if filter == nil {
		return nil
	}
	if filter.Condition != nil {
		value, err := bindValue(filter.Condition.Value, object, identity)
		if err != nil {
			return err
		}
		filter.Condition.Value = value
		return nil
	}
	if filter.Group != nil {
		for i := range filter.Group.Conditions {
			if err := bindNode(&filter.Group.Conditions[i], object, identity); err != nil {
				return err
			}
		}
	}
	return nil
}

func bindValue(value query.FilterValue, object string, identity *Context) (query.FilterValue, error) {
	switch v := value.(type) {
	case string:
		return bindString(v, object, identity)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			bound, err := bindValue(item, object, identity)
			if err != nil {
				return nil, err
			}
			out[i] = bound
		}
		return out, nil
	default:
		return value, nil
	}
}

func bindString(v, object string, identity *Context) (any, error) {
	if v == PlaceholderSubject {
		return identity.Subject, nil
	}
	if strings.HasPrefix(v, PlaceholderAttributePrefix) {
		key := strings.TrimPrefix(v, PlaceholderAttributePrefix)
		attr, ok := identity.Attributes[key]
		if !ok {
			return nil, &PlaceholderError{Placeholder: v, Object: object}
		}
		return attr, nil
	}
	return v, nil
}
