// Package exec hosts the execution engine: the pipeline that takes a raw
// query or command, authorizes it for the caller, compiles it for one
// backend, runs it through that backend's bounded pool and finishes
// whatever work the backend could not do natively. Every execution emits
// lifecycle events and feeds the rolling statistics.
package exec

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/asaidimu/go-events"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/asaidimu/go-daraja/core/access"
	"github.com/asaidimu/go-daraja/core/analyzer"
	"github.com/asaidimu/go-daraja/core/compute"
	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/plan"
	"github.com/asaidimu/go-daraja/core/query"
	"github.com/asaidimu/go-daraja/core/schema"
)

// Request describes one read. Query accepts the canonical *query.Query or
// any shorthand form the translator understands; nil selects everything
// in Collection.
type Request struct {
	// Collection targets an object. Optional when Query already names one.
	Collection string
	// Backend picks a registered backend; empty means the default.
	Backend string
	// Query is the canonical or shorthand query.
	Query any
	// Identity is the caller. Execution is refused without one.
	Identity *access.Context
}

// Result is a finished read.
type Result struct {
	// Rows are the matching documents after every completion pass.
	Rows []schema.Document `json:"rows"`
	// Aggregates holds aggregation results keyed by alias.
	Aggregates map[string]any `json:"aggregates,omitempty"`
	// Count is the number of matching documents before any pagination
	// window was applied Go-side.
	Count int `json:"count"`
	// Dropped lists projected fields authorization removed.
	Dropped []string `json:"dropped,omitempty"`
	// Correlation ties the result to its events and log lines.
	Correlation string `json:"correlation"`
}

// CommandRequest describes one mutation. Exactly the fields of the
// declared Kind are meaningful: Document for create and update, Filter
// for update and delete, Entries for bulk kinds.
type CommandRequest struct {
	Collection string
	Backend    string
	Kind       driver.CommandKind
	Document   schema.Document
	// Filter accepts a *query.QueryFilter or any shorthand clause the
	// translator understands.
	Filter   any
	Entries  []driver.BulkEntry
	Identity *access.Context
}

// ValidationError reports a write payload that does not conform to its
// object's field definitions. Index is the bulk entry position, or -1
// for single-document commands.
type ValidationError struct {
	Object string
	Index  int
	Issues []schema.Issue
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, issue := range e.Issues {
		if issue.Severity != "warning" {
			msgs = append(msgs, issue.Message)
		}
	}
	if e.Index >= 0 {
		return fmt.Sprintf("entry %d for %q rejected: %s", e.Index, e.Object, strings.Join(msgs, "; "))
	}
	return fmt.Sprintf("document for %q rejected: %s", e.Object, strings.Join(msgs, "; "))
}

// backendRuntime bundles what one registered backend needs to execute:
// its driver, its plan compiler with cache, and its execution pool.
type backendRuntime struct {
	name     string
	driver   driver.Driver
	compiler *plan.Compiler
	pool     *driver.Pool
}

// Engine coordinates executions across registered backends. All methods
// are safe for concurrent use.
type Engine struct {
	registry schema.Registry
	access   *access.Compiler
	compute  *compute.Engine
	eval     *query.Evaluator
	bus      *events.TypedEventBus[Event]
	stats    *analyzer.Statistics
	profiler *analyzer.Profiler
	logger   *zap.Logger
	opts     Options

	mu         sync.RWMutex
	backends   map[string]*backendRuntime
	fallback   string
	middleware []Middleware
}

// NewEngine builds an engine over registry and policy. Backends are
// added afterwards with Register.
func NewEngine(registry schema.Registry, policy *access.Policy, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	bus, err := events.NewTypedEventBus[Event](events.DefaultConfig())
	if err != nil {
		return nil, errors.Wrap(err, "initialize event bus")
	}
	return &Engine{
		registry: registry,
		access:   access.NewCompiler(policy, logger),
		compute:  compute.NewEngine(logger),
		eval:     query.NewEvaluator(logger),
		bus:      bus,
		stats:    analyzer.NewStatistics(options.SlowQueries, logger),
		profiler: analyzer.NewProfiler(logger),
		logger:   logger,
		opts:     options,
		backends: make(map[string]*backendRuntime),
	}, nil
}

// Register adds a backend under name, wiring its plan cache into schema
// invalidation when the registry supports subscriptions. An empty name
// uses the driver's own.
func (e *Engine) Register(name string, d driver.Driver) error {
	if name == "" {
		name = d.Name()
	}
	cache := plan.NewCache(e.opts.CacheCapacity, e.logger)
	if source, ok := e.registry.(interface{ Subscribe(schema.InvalidationListener) }); ok {
		source.Subscribe(cache)
	}
	rt := &backendRuntime{
		name:     name,
		driver:   d,
		compiler: plan.NewCompiler(d, cache, e.logger),
		pool:     driver.NewPool(name, e.opts.PoolSize, e.opts.PoolTimeout.Std(), e.logger),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.backends[name]; dup {
		return errors.Newf("backend %q already registered", name)
	}
	e.backends[name] = rt
	if e.fallback == "" {
		e.fallback = name
	}
	e.logger.Info("backend registered",
		zap.String("backend", name),
		zap.String("driver", d.Name()))
	return nil
}

// Backends returns the names of registered backends, sorted.
func (e *Engine) Backends() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.backends))
	for name := range e.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Use appends a middleware. The first registered runs outermost.
func (e *Engine) Use(mw Middleware) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.middleware = append(e.middleware, mw)
}

// Subscribe registers fn for one event type and returns its unsubscribe
// function.
func (e *Engine) Subscribe(event EventType, fn func(ctx context.Context, event Event) error) func() {
	return e.bus.Subscribe(string(event), fn)
}

// Stats returns a snapshot of execution statistics.
func (e *Engine) Stats() *analyzer.Snapshot {
	return e.stats.Snapshot()
}

// Statistics returns the live collector, for hosts that want to reset it
// or feed it from elsewhere.
func (e *Engine) Statistics() *analyzer.Statistics {
	return e.stats
}

// CacheMetrics returns the plan cache counters of one backend.
func (e *Engine) CacheMetrics(backend string) (plan.CacheMetrics, error) {
	rt, err := e.runtime(backend)
	if err != nil {
		return plan.CacheMetrics{}, err
	}
	return rt.compiler.Cache().Metrics(), nil
}

// Close shuts down every registered backend.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	for name, rt := range e.backends {
		if cerr := rt.driver.Close(); cerr != nil {
			err = errors.CombineErrors(err, errors.Wrapf(cerr, "close backend %q", name))
		}
	}
	e.backends = make(map[string]*backendRuntime)
	e.fallback = ""
	return err
}

func (e *Engine) runtime(name string) (*backendRuntime, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if name == "" {
		name = e.opts.DefaultBackend
	}
	if name == "" {
		name = e.fallback
	}
	if name == "" {
		return nil, errors.New("no backend registered")
	}
	rt, ok := e.backends[name]
	if !ok {
		return nil, errors.Newf("unknown backend %q", name)
	}
	return rt, nil
}

func (e *Engine) snapshot() []Middleware {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.middleware
}

func (e *Engine) emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	e.bus.Emit(string(event.Type), event)
}

// finish emits a terminal event and feeds the statistics.
func (e *Engine) finish(event Event, failed bool) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	e.emit(event)
	e.stats.Observe(analyzer.Sample{
		Object:      event.Object,
		Operation:   event.Operation,
		Shape:       event.Shape,
		Duration:    event.Duration,
		Rows:        event.Rows,
		Failed:      failed,
		Correlation: event.Correlation,
		At:          event.Timestamp,
	})
}

// Query authorizes, compiles and executes one read.
func (e *Engine) Query(ctx context.Context, req *Request) (*Result, error) {
	return e.runQuery(ctx, req, nil)
}

func (e *Engine) runQuery(ctx context.Context, req *Request, tx *driver.Transaction) (*Result, error) {
	rt, err := e.runtime(req.Backend)
	if err != nil {
		return nil, err
	}
	q, err := e.resolveQuery(req)
	if err != nil {
		return nil, err
	}
	if req.Identity == nil {
		return nil, errors.Newf("query on %q carries no identity", q.Collection)
	}

	started := time.Now()
	correlation := uuid.New().String()
	e.emit(Event{
		Type:        QueryStart,
		Object:      q.Collection,
		Operation:   "query",
		Backend:     rt.name,
		Correlation: correlation,
		Timestamp:   started,
	})

	result, shape, err := e.executeQuery(ctx, rt, q, req.Identity, tx)
	elapsed := time.Since(started)
	if err != nil {
		e.finish(Event{
			Type:        QueryFailed,
			Object:      q.Collection,
			Operation:   "query",
			Backend:     rt.name,
			Correlation: correlation,
			Shape:       shape,
			Duration:    elapsed,
			Error:       failure(err),
		}, true)
		return nil, err
	}
	result.Correlation = correlation
	e.finish(Event{
		Type:        QuerySuccess,
		Object:      q.Collection,
		Operation:   "query",
		Backend:     rt.name,
		Correlation: correlation,
		Shape:       shape,
		Rows:        len(result.Rows),
		Duration:    elapsed,
	}, false)
	return result, nil
}

func (e *Engine) executeQuery(ctx context.Context, rt *backendRuntime, q *query.Query, identity *access.Context, tx *driver.Transaction) (*Result, string, error) {
	obj, err := e.registry.ResolveObject(ctx, q.Collection)
	if err != nil {
		return nil, "", err
	}
	if check := q.Validate(); !check.IsValid {
		parts := make([]string, 0, len(check.Errors))
		for _, verr := range check.Errors {
			parts = append(parts, fmt.Sprintf("%s: %s", verr.Field, verr.Message))
		}
		return nil, "", &query.TranslationError{Reason: strings.Join(parts, "; ")}
	}

	authorized, decision, err := e.access.CompileQuery(q, obj, identity)
	if err != nil {
		return nil, "", err
	}
	compiled, params, err := rt.compiler.Compile(authorized, obj)
	if err != nil {
		return nil, "", err
	}

	release, err := rt.pool.Acquire(ctx)
	if err != nil {
		return nil, compiled.Key, err
	}
	defer release()

	run := chainQuery(rt.driver.ExecuteQuery, e.snapshot())
	raw, err := run(ctx, &driver.ExecuteRequest{
		Object:      obj,
		Plan:        compiled.Native,
		Parameters:  params,
		Transaction: tx,
	})
	if err != nil {
		return nil, compiled.Key, err
	}

	result, err := e.finishRead(authorized, compiled, raw)
	if err != nil {
		return nil, compiled.Key, err
	}
	result.Dropped = decision.DroppedFields
	return result, compiled.Key, nil
}

// finishRead completes a read Go-side: computed fields first, then any
// filter, sort or window pass the backend skipped, then the caller's
// projection to trim fields the native plan over-fetched.
func (e *Engine) finishRead(q *query.Query, compiled *plan.Plan, raw *driver.QueryResult) (*Result, error) {
	docs := raw.Documents
	count := raw.Count
	if count == 0 {
		count = len(docs)
	}
	post := compiled.Post
	if post == nil {
		return &Result{Rows: docs, Aggregates: raw.Aggregates, Count: count}, nil
	}

	if len(post.Compute) > 0 {
		augmented := make([]schema.Document, len(docs))
		for i, doc := range docs {
			out := make(schema.Document, len(doc)+len(post.Compute))
			for k, v := range doc {
				out[k] = v
			}
			for _, step := range post.Compute {
				value, err := e.compute.Evaluate(step.Alias, step.Expression, step.DependsOn, out)
				if err != nil {
					return nil, err
				}
				out[step.Alias] = value
			}
			augmented[i] = out
		}
		docs = augmented
	}
	if post.FilterAfter && q.Filters != nil {
		filtered, err := e.eval.FilterDocuments(docs, q.Filters)
		if err != nil {
			return nil, err
		}
		docs = filtered
		count = len(docs)
	}
	if post.SortAfter && len(q.Sort) > 0 {
		query.SortDocuments(docs, q.Sort)
	}
	if post.WindowAfter && q.Pagination != nil {
		count = len(docs)
		docs = query.Paginate(docs, q.Pagination)
	}
	docs = query.Project(docs, q.Projection)
	return &Result{Rows: docs, Aggregates: raw.Aggregates, Count: count}, nil
}

// Execute authorizes and runs one mutation.
func (e *Engine) Execute(ctx context.Context, req *CommandRequest) (*driver.CommandResult, error) {
	return e.runCommand(ctx, req, nil)
}

func (e *Engine) runCommand(ctx context.Context, req *CommandRequest, tx *driver.Transaction) (*driver.CommandResult, error) {
	rt, err := e.runtime(req.Backend)
	if err != nil {
		return nil, err
	}
	if req.Collection == "" {
		return nil, errors.New("command names no collection")
	}
	if req.Identity == nil {
		return nil, errors.Newf("command on %q carries no identity", req.Collection)
	}

	started := time.Now()
	correlation := uuid.New().String()
	e.emit(Event{
		Type:        CommandStart,
		Object:      req.Collection,
		Operation:   string(req.Kind),
		Backend:     rt.name,
		Correlation: correlation,
		Timestamp:   started,
	})

	result, err := e.executeCommand(ctx, rt, req, tx)
	elapsed := time.Since(started)
	if err != nil {
		e.finish(Event{
			Type:        CommandFailed,
			Object:      req.Collection,
			Operation:   string(req.Kind),
			Backend:     rt.name,
			Correlation: correlation,
			Duration:    elapsed,
			Error:       failure(err),
		}, true)
		return nil, err
	}
	e.finish(Event{
		Type:        CommandSuccess,
		Object:      req.Collection,
		Operation:   string(req.Kind),
		Backend:     rt.name,
		Correlation: correlation,
		Rows:        int(result.Affected),
		Duration:    elapsed,
	}, false)
	return result, nil
}

func (e *Engine) executeCommand(ctx context.Context, rt *backendRuntime, req *CommandRequest, tx *driver.Transaction) (*driver.CommandResult, error) {
	obj, err := e.registry.ResolveObject(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	if req.Kind.IsBulk() && !rt.driver.Capabilities().Supports(driver.FeatureBulkOperations) {
		return nil, driver.NewUnsupported(rt.name, driver.FeatureBulkOperations)
	}

	filter, err := resolveFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	op, err := operationFor(req.Kind)
	if err != nil {
		return nil, err
	}

	scoped, decision, err := e.access.CompileWrite(obj.Name, op, writtenFields(req), filter, req.Identity)
	if err != nil {
		return nil, err
	}

	cmd := &driver.Command{Kind: req.Kind, Object: obj, Transaction: tx}
	switch req.Kind {
	case driver.CommandCreate:
		doc := withDefaults(obj, req.Document)
		if err := checkPayload(obj, doc, false, -1); err != nil {
			return nil, err
		}
		cmd.Document = doc
	case driver.CommandUpdate:
		if err := checkPayload(obj, req.Document, true, -1); err != nil {
			return nil, err
		}
		cmd.Document = req.Document
		cmd.Filter = scoped
	case driver.CommandDelete:
		cmd.Filter = scoped
	case driver.CommandBulkCreate, driver.CommandBulkUpdate, driver.CommandBulkDelete:
		entries, err := e.scopeEntries(obj, req, decision)
		if err != nil {
			return nil, err
		}
		cmd.Entries = entries
	default:
		return nil, errors.Newf("unknown command kind %q", req.Kind)
	}

	release, err := rt.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	run := chainCommand(rt.driver.ExecuteCommand, e.snapshot())
	return run(ctx, cmd)
}

// scopeEntries validates bulk entry payloads and conjoins the caller's
// row restriction onto each entry's filter.
func (e *Engine) scopeEntries(obj *schema.Object, req *CommandRequest, decision *access.Decision) ([]driver.BulkEntry, error) {
	entries := make([]driver.BulkEntry, len(req.Entries))
	for i, entry := range req.Entries {
		var out driver.BulkEntry
		switch req.Kind {
		case driver.CommandBulkCreate:
			doc := withDefaults(obj, entry.Document)
			if err := checkPayload(obj, doc, false, i); err != nil {
				return nil, err
			}
			out.Document = doc
		case driver.CommandBulkUpdate:
			if err := checkPayload(obj, entry.Document, true, i); err != nil {
				return nil, err
			}
			out.Document = entry.Document
			out.Filter = restrict(entry.Filter, decision)
		case driver.CommandBulkDelete:
			out.Filter = restrict(entry.Filter, decision)
		}
		entries[i] = out
	}
	return entries, nil
}

// restrict conjoins the authorization row fragment onto one entry filter.
func restrict(filter *query.QueryFilter, decision *access.Decision) *query.QueryFilter {
	if decision.Unrestricted || decision.RowFilter == nil {
		return filter.Clone()
	}
	fragment := decision.RowFilter.Clone()
	if filter == nil {
		return fragment
	}
	return &query.QueryFilter{Group: &query.FilterGroup{
		Operator:   schema.LogicalAnd,
		Conditions: []query.QueryFilter{*filter.Clone(), *fragment},
	}}
}

// Explain inspects what executing req would do without running it. When
// the request carries an identity the explanation covers the authorized
// rewrite, which is what would actually reach a backend.
func (e *Engine) Explain(ctx context.Context, req *Request) (*analyzer.Explanation, error) {
	q, err := e.resolveQuery(req)
	if err != nil {
		return nil, err
	}
	obj, err := e.registry.ResolveObject(ctx, q.Collection)
	if err != nil {
		return nil, err
	}
	if req.Identity != nil {
		authorized, _, err := e.access.CompileQuery(q, obj, req.Identity)
		if err != nil {
			return nil, err
		}
		q = authorized
	}
	return analyzer.Explain(q, obj), nil
}

// Profile executes req and measures it. The run goes through the full
// pipeline, so the timing covers what a caller actually waits for.
func (e *Engine) Profile(ctx context.Context, req *Request) (*analyzer.Profile, error) {
	q, err := e.resolveQuery(req)
	if err != nil {
		return nil, err
	}
	obj, err := e.registry.ResolveObject(ctx, q.Collection)
	if err != nil {
		return nil, err
	}
	run := func(ctx context.Context) (*driver.QueryResult, error) {
		result, err := e.runQuery(ctx, req, nil)
		if err != nil {
			return nil, err
		}
		return &driver.QueryResult{
			Documents:  result.Rows,
			Aggregates: result.Aggregates,
			Count:      result.Count,
		}, nil
	}
	return e.profiler.Profile(ctx, q, obj, run)
}

// resolveQuery coerces the request's query into canonical form. Raw
// shorthand goes through the translator; canonical queries are cloned so
// authorization rewrites never touch caller state.
func (e *Engine) resolveQuery(req *Request) (*query.Query, error) {
	var q *query.Query
	switch v := req.Query.(type) {
	case nil:
		q = &query.Query{Collection: req.Collection}
	case *query.Query:
		q = v.Clone()
	case query.Query:
		q = v.Clone()
	default:
		translated, err := query.Translate(req.Collection, v)
		if err != nil {
			return nil, err
		}
		q = translated
	}
	if q.Collection == "" {
		q.Collection = req.Collection
	}
	if req.Collection != "" && q.Collection != req.Collection {
		return nil, errors.Newf("request targets %q but query names %q", req.Collection, q.Collection)
	}
	return q, nil
}

// resolveFilter coerces a command filter: nil, canonical, or shorthand.
func resolveFilter(raw any) (*query.QueryFilter, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case *query.QueryFilter:
		return v.Clone(), nil
	case query.QueryFilter:
		return v.Clone(), nil
	default:
		return query.TranslateFilters(raw)
	}
}

func operationFor(kind driver.CommandKind) (access.Operation, error) {
	switch kind {
	case driver.CommandCreate, driver.CommandBulkCreate:
		return access.OperationCreate, nil
	case driver.CommandUpdate, driver.CommandBulkUpdate:
		return access.OperationUpdate, nil
	case driver.CommandDelete, driver.CommandBulkDelete:
		return access.OperationDelete, nil
	default:
		return "", errors.Newf("unknown command kind %q", kind)
	}
}

// writtenFields collects the union of field names a command writes.
func writtenFields(req *CommandRequest) []string {
	set := make(map[string]struct{})
	for name := range req.Document {
		set[name] = struct{}{}
	}
	for _, entry := range req.Entries {
		for name := range entry.Document {
			set[name] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	fields := make([]string, 0, len(set))
	for name := range set {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

// withDefaults copies doc, filling absent fields that declare defaults.
func withDefaults(obj *schema.Object, doc schema.Document) schema.Document {
	out := make(schema.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	for name, def := range obj.Fields {
		if def.IsComputed() || def.Default == nil {
			continue
		}
		if _, present := out[name]; !present {
			out[name] = def.Default
		}
	}
	return out
}

func checkPayload(obj *schema.Object, doc schema.Document, partial bool, index int) error {
	result := schema.ValidatePayload(obj, doc, partial)
	if result.Valid {
		return nil
	}
	return &ValidationError{Object: obj.Name, Index: index, Issues: result.Issues}
}
