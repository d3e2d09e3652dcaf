package plan

import (
	"sort"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/query"
	"github.com/asaidimu/go-daraja/core/schema"
)

// Compiler lowers authorized queries for one backend, consulting the shape
// cache before doing any work. Compilation is structurally exhaustive: every
// part of the query is either pushed into the native plan or explicitly
// scheduled in the post pass, never dropped.
type Compiler struct {
	backend driver.Driver
	cache   *Cache
	logger  *zap.Logger

	compiles atomic.Uint64
}

// NewCompiler creates a plan compiler for backend using cache.
func NewCompiler(backend driver.Driver, cache *Cache, logger *zap.Logger) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{backend: backend, cache: cache, logger: logger}
}

// CompileCount returns how many plans were actually lowered, not counting
// cache hits.
func (c *Compiler) CompileCount() uint64 {
	return c.compiles.Load()
}

// Cache returns the compiler's plan cache.
func (c *Compiler) Cache() *Cache {
	return c.cache
}

// Compile returns the plan for a query plus the parameter values of this
// particular execution. Structurally identical queries hit the same cached
// plan and differ only in the returned values.
func (c *Compiler) Compile(q *query.Query, obj *schema.Object) (*Plan, []any, error) {
	caps := c.backend.Capabilities()
	if len(q.Aggregations) > 0 && !caps.Aggregation {
		return nil, nil, driver.NewUnsupported(c.backend.Name(), driver.FeatureAggregation)
	}
	for _, agg := range q.Aggregations {
		if agg.Field == "" {
			continue
		}
		if field := obj.Field(agg.Field); field != nil && field.IsComputed() {
			return nil, nil, errors.Newf("cannot aggregate over computed field %q", agg.Field)
		}
	}

	skeleton, slots, values := Parameterize(q.Filters)
	key, shape := ShapeKey(c.backend.Name(), obj, q, skeleton)
	if cached, ok := c.cache.Get(key); ok {
		return cached, values, nil
	}

	post, nativeQuery, err := c.split(q, obj, skeleton)
	if err != nil {
		return nil, nil, err
	}

	native, backendSlots, err := c.backend.BuildPlan(nativeQuery, obj)
	if err != nil {
		return nil, nil, err
	}
	if backendSlots != nil && len(backendSlots) != len(slots) {
		return nil, nil, errors.Newf("backend %q enumerated %d parameter slots, expected %d",
			c.backend.Name(), len(backendSlots), len(slots))
	}

	compiled := &Plan{
		Key:     key,
		Shape:   shape,
		Backend: c.backend.Name(),
		Object:  obj.Name,
		Native:  native,
		Slots:   slots,
		Post:    post,
	}
	c.cache.Put(compiled)
	c.compiles.Add(1)
	c.logger.Debug("compiled plan",
		zap.String("object", obj.Name),
		zap.String("backend", c.backend.Name()),
		zap.String("key", key),
		zap.Bool("post", post != nil))
	return compiled, values, nil
}

// split decides what the backend runs and what remains for the post pass.
// Computed fields drive the split: referencing one in the filter or sort
// pulls that whole phase to the Go side, and the pagination window follows
// whichever phase runs last.
func (c *Compiler) split(q *query.Query, obj *schema.Object, skeleton *query.QueryFilter) (*PostPass, *query.Query, error) {
	computeSet := make(map[string]struct{})

	for _, name := range c.projectedComputedFields(q, obj) {
		computeSet[name] = struct{}{}
	}

	filterAfter := false
	if q.Filters != nil {
		for _, field := range q.Filters.Fields() {
			if def := obj.Field(field); def != nil && def.IsComputed() {
				filterAfter = true
				computeSet[field] = struct{}{}
			}
		}
	}
	if filterAfter && len(q.Aggregations) > 0 {
		return nil, nil, errors.Newf("cannot aggregate while filtering on computed fields of %q", obj.Name)
	}

	sortAfter := false
	for _, s := range q.Sort {
		if def := obj.Field(s.Field); def != nil && def.IsComputed() {
			sortAfter = true
			computeSet[s.Field] = struct{}{}
		}
	}

	windowAfter := (filterAfter || sortAfter) && q.Pagination != nil

	steps := make([]ComputeStep, 0, len(computeSet))
	for name := range computeSet {
		field := obj.Fields[name]
		steps = append(steps, ComputeStep{
			Alias:      name,
			Expression: field.Computed.Expression,
			DependsOn:  append([]string(nil), field.Computed.DependsOn...),
		})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Alias < steps[j].Alias })

	nativeQuery := &query.Query{Collection: q.Collection}
	if !filterAfter {
		nativeQuery.Filters = skeleton
	}
	if !sortAfter {
		nativeQuery.Sort = append([]query.SortConfiguration(nil), q.Sort...)
	}
	if !windowAfter && q.Pagination != nil {
		p := *q.Pagination
		nativeQuery.Pagination = &p
	}
	nativeQuery.Aggregations = append([]query.AggregationConfiguration(nil), q.Aggregations...)
	nativeQuery.Projection = c.nativeProjection(q, obj, steps, filterAfter, sortAfter)

	post := &PostPass{
		Compute:     steps,
		FilterAfter: filterAfter,
		SortAfter:   sortAfter,
		WindowAfter: windowAfter,
	}
	if post.Empty() {
		post = nil
	}
	return post, nativeQuery, nil
}

// projectedComputedFields lists the computed fields the result must carry:
// the requested ones, or every computed field when the projection asks for
// everything.
func (c *Compiler) projectedComputedFields(q *query.Query, obj *schema.Object) []string {
	var names []string
	if q.Projection == nil || len(q.Projection.Include) == 0 {
		excluded := make(map[string]struct{})
		if q.Projection != nil {
			for _, name := range q.Projection.Exclude {
				excluded[name] = struct{}{}
			}
		}
		for _, name := range obj.FieldNames() {
			if _, skip := excluded[name]; skip {
				continue
			}
			if obj.Fields[name].IsComputed() {
				names = append(names, name)
			}
		}
		return names
	}
	for _, name := range q.Projection.Include {
		if def := obj.Field(name); def != nil && def.IsComputed() {
			names = append(names, name)
		}
	}
	return names
}

// nativeProjection narrows what the backend fetches: the requested stored
// fields plus everything the post pass needs (compute dependencies, fields
// of a post-run filter or sort). The engine's final projection trims the
// extras back out.
func (c *Compiler) nativeProjection(q *query.Query, obj *schema.Object, steps []ComputeStep, filterAfter, sortAfter bool) *query.ProjectionConfiguration {
	if q.Projection == nil || len(q.Projection.Include) == 0 {
		// Fetch-all already covers every dependency; only honor an
		// exclude list after removing fields the post pass needs.
		if q.Projection == nil || len(q.Projection.Exclude) == 0 {
			return nil
		}
		needed := c.neededStoredFields(q, obj, steps, filterAfter, sortAfter)
		var exclude []string
		for _, name := range q.Projection.Exclude {
			if _, keep := needed[name]; !keep {
				exclude = append(exclude, name)
			}
		}
		if len(exclude) == 0 {
			return nil
		}
		return &query.ProjectionConfiguration{Exclude: exclude}
	}

	include := make([]string, 0, len(q.Projection.Include))
	seen := make(map[string]struct{})
	for _, name := range q.Projection.Include {
		def := obj.Field(name)
		if def == nil || def.IsComputed() {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		include = append(include, name)
	}

	needed := c.neededStoredFields(q, obj, steps, filterAfter, sortAfter)
	extras := make([]string, 0, len(needed))
	for name := range needed {
		if _, dup := seen[name]; !dup {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	include = append(include, extras...)

	if len(include) == 0 {
		// An empty include would mean "all fields" to the backend.
		include = []string{obj.PrimaryKey}
	}
	return &query.ProjectionConfiguration{Include: include}
}

func (c *Compiler) neededStoredFields(q *query.Query, obj *schema.Object, steps []ComputeStep, filterAfter, sortAfter bool) map[string]struct{} {
	needed := make(map[string]struct{})
	stored := func(name string) {
		if def := obj.Field(name); def != nil && !def.IsComputed() {
			needed[name] = struct{}{}
		}
	}
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			stored(dep)
		}
	}
	if filterAfter && q.Filters != nil {
		for _, field := range q.Filters.Fields() {
			stored(field)
		}
	}
	if sortAfter {
		for _, s := range q.Sort {
			stored(s.Field)
		}
	}
	return needed
}
