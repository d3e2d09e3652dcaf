// Package access compiles permission policy into queries. Authorization is a
// pure rewrite: an incoming query plus an identity produce either a narrowed
// query that can only reach permitted rows and fields, or a typed denial.
// Nothing in this package performs I/O.
package access

import (
	"sort"
	"sync"

	"github.com/asaidimu/go-daraja/core/query"
)

// Operation is a kind of object access a grant can allow.
type Operation string

// Supported operations.
const (
	OperationRead   Operation = "read"
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// AllOperations lists every operation, for grants that allow everything.
var AllOperations = []Operation{OperationRead, OperationCreate, OperationUpdate, OperationDelete}

// Wildcard matches any role or any object in a grant.
const Wildcard = "*"

// Placeholder spellings resolved from the identity at compile time.
const (
	PlaceholderSubject         = "$subject"
	PlaceholderAttributePrefix = "$attr:"
)

// FieldRule controls one field inside a grant. A grant without a Fields map
// allows every field; a grant with one allows only the fields it lists, with
// the listed flags.
type FieldRule struct {
	Visible  bool `json:"visible"`
	Editable bool `json:"editable"`
}

// Grant allows a role a set of operations on an object. RowFilter, when set,
// restricts which rows the role can reach; its condition values may use
// placeholders ($subject, $attr:key) bound from the identity at compile
// time. A nil RowFilter means the role reaches every row.
type Grant struct {
	Role       string               `json:"role"`
	Object     string               `json:"object"`
	Operations []Operation          `json:"operations"`
	RowFilter  *query.QueryFilter   `json:"rowFilter,omitempty"`
	Fields     map[string]FieldRule `json:"fields,omitempty"`
}

func (g *Grant) allows(op Operation) bool {
	for _, allowed := range g.Operations {
		if allowed == op {
			return true
		}
	}
	return false
}

func (g *Grant) appliesTo(object string, roles []string) bool {
	if g.Object != Wildcard && g.Object != object {
		return false
	}
	if g.Role == Wildcard {
		return true
	}
	for _, role := range roles {
		if role == g.Role {
			return true
		}
	}
	return false
}

// Policy is an ordered set of grants. Grants only ever add access; removing
// a grant is the only way to take access away.
type Policy struct {
	mu     sync.RWMutex
	grants []Grant
}

// NewPolicy creates an empty policy.
func NewPolicy() *Policy {
	return &Policy{}
}

// Add appends grants to the policy.
func (p *Policy) Add(grants ...Grant) *Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.grants = append(p.grants, grants...)
	return p
}

// Grants returns a copy of the policy's grants in insertion order.
func (p *Policy) Grants() []Grant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Grant(nil), p.grants...)
}

// applicable returns the grants that let any of roles perform op on object,
// in insertion order.
func (p *Policy) applicable(object string, op Operation, roles []string) []Grant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var matched []Grant
	for i := range p.grants {
		grant := &p.grants[i]
		if grant.appliesTo(object, roles) && grant.allows(op) {
			matched = append(matched, *grant)
		}
	}
	return matched
}

// Context identifies who is asking. Subject binds $subject placeholders;
// Attributes bind $attr:key placeholders.
type Context struct {
	Subject    string         `json:"subject"`
	Roles      []string       `json:"roles"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Decision records what authorization did to one request. It exists for
// observability and tests; the rewritten query is the enforcement.
type Decision struct {
	Subject       string             `json:"subject"`
	Object        string             `json:"object"`
	Operation     Operation          `json:"operation"`
	GrantingRoles []string           `json:"grantingRoles"`
	DroppedFields []string           `json:"droppedFields,omitempty"`
	RowFilter     *query.QueryFilter `json:"rowFilter,omitempty"`
	Unrestricted  bool               `json:"unrestricted"`
}

func grantingRoles(grants []Grant) []string {
	set := make(map[string]struct{}, len(grants))
	for _, grant := range grants {
		set[grant.Role] = struct{}{}
	}
	roles := make([]string, 0, len(set))
	for role := range set {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
