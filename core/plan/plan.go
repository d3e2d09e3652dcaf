// Package plan compiles authorized queries into cached execution plans. A
// plan pairs a backend's native form with the post-execution work the
// backend cannot do itself (computed fields, filters and sorts over them).
// Plans never embed literal values: filters are parameterized during
// compilation, so structurally identical queries share one cache entry and
// bind fresh values per execution.
package plan

import (
	"github.com/asaidimu/go-daraja/core/driver"
)

// ComputeStep materializes one computed field after the backend returns
// rows. Steps carry the schema expression, not query literals, so they are
// safe to cache until the object's schema changes.
type ComputeStep struct {
	Alias      string   `json:"alias"`
	Expression string   `json:"expression"`
	DependsOn  []string `json:"dependsOn"`
}

// PostPass describes the work the engine runs after the backend. The flags
// refer back to the concrete query being executed: a set FilterAfter means
// the query's filter tree was withheld from the backend and must run
// Go-side, and likewise for sort and the pagination window.
type PostPass struct {
	Compute     []ComputeStep `json:"compute,omitempty"`
	FilterAfter bool          `json:"filterAfter"`
	SortAfter   bool          `json:"sortAfter"`
	WindowAfter bool          `json:"windowAfter"`
}

// Empty reports whether the pass has nothing to do.
func (p *PostPass) Empty() bool {
	return p == nil || (len(p.Compute) == 0 && !p.FilterAfter && !p.SortAfter && !p.WindowAfter)
}

// Plan is one compiled, cacheable execution plan.
type Plan struct {
	// Key is the shape key the plan is cached under.
	Key string `json:"key"`
	// Shape is the canonical structural form the key hashes. Kept for
	// diagnostics and explain output.
	Shape string `json:"shape"`
	// Backend names the driver that built Native.
	Backend string `json:"backend"`
	// Object is the target object name.
	Object string `json:"object"`
	// Native is the backend's compiled form. Opaque outside the backend.
	Native driver.NativePlan `json:"-"`
	// Slots enumerates the plan's parameters in binding order.
	Slots []driver.ParameterSlot `json:"slots"`
	// Post is the Go-side completion of the plan, nil when the backend
	// does everything.
	Post *PostPass `json:"post,omitempty"`
}
