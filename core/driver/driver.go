// Package driver defines the uniform execution protocol every storage
// backend implements: plan construction, query and command execution, and
// the transaction lifecycle. The engine talks to heterogeneous backends
// through this one interface; backends differ only in their capabilities and
// their opaque native plans.
package driver

import (
	"context"

	"github.com/asaidimu/go-daraja/core/query"
	"github.com/asaidimu/go-daraja/core/schema"
)

// Feature names a backend capability the engine can probe before executing.
type Feature string

// Probe-able backend capabilities.
const (
	FeatureTransactions   Feature = "transactions"
	FeatureBulkOperations Feature = "bulk_operations"
	FeatureAggregation    Feature = "aggregation"
	FeatureFullText       Feature = "full_text"
)

// Capabilities declares what a backend can execute natively. The engine
// fails fast with an UnsupportedOperationError instead of handing a backend
// work it cannot do.
type Capabilities struct {
	Transactions   bool `json:"transactions"`
	BulkOperations bool `json:"bulkOperations"`
	Aggregation    bool `json:"aggregation"`
	FullText       bool `json:"fullText"`
}

// Supports reports whether a feature is available.
func (c Capabilities) Supports(feature Feature) bool {
	switch feature {
	case FeatureTransactions:
		return c.Transactions
	case FeatureBulkOperations:
		return c.BulkOperations
	case FeatureAggregation:
		return c.Aggregation
	case FeatureFullText:
		return c.FullText
	default:
		return false
	}
}

// NativePlan is a backend-specific compiled form of a query: SQL text for
// relational backends, scan bounds for KV backends, a predicate closure for
// the in-memory backend. Only the backend that built it can interpret it.
type NativePlan any

// ParameterSlot names one runtime parameter of a native plan, in binding
// order. Literal values never live in the plan itself; they are bound per
// execution so structurally equal queries share plans.
type ParameterSlot struct {
	// Name is a diagnostic label, usually the field the value compares
	// against.
	Name string `json:"name"`
	// Ordinal is the 1-based binding position.
	Ordinal int `json:"ordinal"`
}

// ParamRef stands in for one literal inside a parameterized filter tree.
// Backends lower it to their placeholder syntax.
type ParamRef struct {
	Ordinal int `json:"ordinal"`
}

// ParamList stands in for a literal list, one ordinal per element, so that
// list arity stays visible in the parameterized tree.
type ParamList struct {
	Ordinals []int `json:"ordinals"`
}

// ExecuteRequest carries one compiled query execution.
type ExecuteRequest struct {
	Object      *schema.Object
	Plan        NativePlan
	Parameters  []any
	Transaction *Transaction
}

// QueryResult is the uniform result of a read.
type QueryResult struct {
	Documents  []schema.Document `json:"documents"`
	Aggregates map[string]any    `json:"aggregates,omitempty"`
	Count      int               `json:"count"`
}

// Driver is the execution protocol. Implementations must check ctx at the
// start of every call and between records of bulk commands; they must not
// roll back open transactions on context cancellation, since the caller owns
// the transaction lifecycle.
type Driver interface {
	// Name identifies the backend kind, e.g. "sqlite".
	Name() string

	// Capabilities reports what the backend executes natively.
	Capabilities() Capabilities

	// BuildPlan lowers a canonical query to the backend's native form and
	// enumerates its parameter slots. Plans must not embed literal values.
	BuildPlan(q *query.Query, obj *schema.Object) (NativePlan, []ParameterSlot, error)

	// ExecuteQuery runs a compiled read, inside req.Transaction when set.
	ExecuteQuery(ctx context.Context, req *ExecuteRequest) (*QueryResult, error)

	// ExecuteCommand runs a mutation, inside cmd.Transaction when set.
	ExecuteCommand(ctx context.Context, cmd *Command) (*CommandResult, error)

	// Begin opens a transaction. Backends without transaction support
	// return an UnsupportedOperationError.
	Begin(ctx context.Context) (*Transaction, error)

	// Commit finishes a transaction. The handle becomes terminal even if
	// the backend commit fails.
	Commit(ctx context.Context, tx *Transaction) error

	// Rollback aborts a transaction. Rolling back a finished handle is a
	// TransactionStateError.
	Rollback(ctx context.Context, tx *Transaction) error

	// Close releases the backend's resources.
	Close() error
}
