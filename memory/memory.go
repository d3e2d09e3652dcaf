// Package memory implements the execution protocol against process-local
// state, indexing documents by primary key in a btree. Rows are versioned
// and deletes leave tombstones, so key order and version history survive
// rewrites. The backend declares no transaction capability: Begin fails
// fast rather than pretending an isolation it cannot give.
//
// Filters evaluate in Go, which makes this the one backend that honors
// custom predicates registered on its evaluator.
package memory

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/plan"
	"github.com/asaidimu/go-daraja/core/query"
	"github.com/asaidimu/go-daraja/core/schema"
)

// Backend is the in-memory implementation of the execution protocol. All
// methods are safe for concurrent use.
type Backend struct {
	logger *zap.Logger
	eval   *query.Evaluator
	mu     sync.RWMutex
	stores map[string]*store
}

var _ driver.Driver = (*Backend)(nil)

// New returns an empty backend.
func New(logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		logger: logger,
		eval:   query.NewEvaluator(logger),
		stores: make(map[string]*store),
	}
}

// Evaluator exposes the filter evaluator so hosts can register custom
// predicates this backend will honor.
func (b *Backend) Evaluator() *query.Evaluator { return b.eval }

// Name implements driver.Driver.
func (b *Backend) Name() string { return "memory" }

// Capabilities implements driver.Driver.
func (b *Backend) Capabilities() driver.Capabilities {
	return driver.Capabilities{
		BulkOperations: true,
		Aggregation:    true,
	}
}

func (b *Backend) store(object string) *store {
	b.mu.RLock()
	st, ok := b.stores[object]
	b.mu.RUnlock()
	if ok {
		return st
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.stores[object]; ok {
		return st
	}
	st = newStore()
	b.stores[object] = st
	return st
}

// memPlan wraps the canonical query. Filters stay parameterized; each
// execution binds its values through plan.Instantiate.
type memPlan struct {
	query *query.Query
}

// BuildPlan implements driver.Driver.
func (b *Backend) BuildPlan(q *query.Query, obj *schema.Object) (driver.NativePlan, []driver.ParameterSlot, error) {
	return &memPlan{query: q.Clone()}, nil, nil
}

// ExecuteQuery implements driver.Driver.
func (b *Backend) ExecuteQuery(ctx context.Context, req *driver.ExecuteRequest) (*driver.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Transaction != nil {
		return nil, driver.NewUnsupported(b.Name(), driver.FeatureTransactions)
	}
	native, ok := req.Plan.(*memPlan)
	if !ok {
		return nil, errors.Newf("plan of type %T was not built by the memory backend", req.Plan)
	}
	q := native.query
	filter, err := plan.Instantiate(q.Filters, req.Parameters)
	if err != nil {
		return nil, err
	}

	st := b.store(req.Object.Name)
	st.mu.RLock()
	var docs []schema.Document
	var scanErr error
	st.scanLive(func(r *row) bool {
		passes, err := b.eval.Match(filter, r.doc)
		if err != nil {
			scanErr = err
			return false
		}
		if passes {
			docs = append(docs, cloneDoc(r.doc))
		}
		return true
	})
	st.mu.RUnlock()
	if scanErr != nil {
		return nil, scanErr
	}

	if len(q.Aggregations) > 0 {
		aggregates, err := query.Aggregate(docs, q.Aggregations)
		if err != nil {
			return nil, err
		}
		return &driver.QueryResult{Aggregates: aggregates, Count: len(docs)}, nil
	}

	count := len(docs)
	query.SortDocuments(docs, q.Sort)
	docs = query.Paginate(docs, q.Pagination)
	docs = query.Project(docs, q.Projection)
	return &driver.QueryResult{Documents: docs, Count: count}, nil
}

// ExecuteCommand implements driver.Driver.
func (b *Backend) ExecuteCommand(ctx context.Context, cmd *driver.Command) (*driver.CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cmd.Transaction != nil {
		return nil, driver.NewUnsupported(b.Name(), driver.FeatureTransactions)
	}
	st := b.store(cmd.Object.Name)

	switch cmd.Kind {
	case driver.CommandCreate:
		doc, err := b.insert(st, cmd.Object, cmd.Document)
		if err != nil {
			return nil, err
		}
		return &driver.CommandResult{Kind: cmd.Kind, Affected: 1, Document: doc}, nil
	case driver.CommandUpdate:
		affected, err := b.updateRows(st, cmd.Object, cmd.Document, cmd.Filter)
		if err != nil {
			return nil, err
		}
		return &driver.CommandResult{Kind: cmd.Kind, Affected: affected}, nil
	case driver.CommandDelete:
		affected, err := b.deleteRows(st, cmd.Filter)
		if err != nil {
			return nil, err
		}
		return &driver.CommandResult{Kind: cmd.Kind, Affected: affected}, nil
	case driver.CommandBulkCreate, driver.CommandBulkUpdate, driver.CommandBulkDelete:
		return b.bulk(ctx, st, cmd)
	default:
		return nil, errors.Newf("unsupported command kind %q", cmd.Kind)
	}
}

func (b *Backend) insert(st *store, obj *schema.Object, doc schema.Document) (schema.Document, error) {
	pk, ok := doc[obj.PrimaryKey]
	if !ok || pk == nil {
		return nil, errors.Newf("create on %q requires primary key %q", obj.Name, obj.PrimaryKey)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	key := keyOf(pk)
	if _, live := st.get(key); live {
		return nil, errors.Newf("duplicate primary key %v for %q", pk, obj.Name)
	}
	stored := cloneDoc(doc)
	st.tree.ReplaceOrInsert(&row{key: key, doc: stored, version: st.nextVersion()})
	return cloneDoc(stored), nil
}

func (b *Backend) updateRows(st *store, obj *schema.Object, patch schema.Document, filter *query.QueryFilter) (int64, error) {
	if next, changed := patch[obj.PrimaryKey]; changed && next != nil {
		return 0, errors.Newf("primary key %q of %q is immutable", obj.PrimaryKey, obj.Name)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	targets, err := b.matchLocked(st, filter)
	if err != nil {
		return 0, err
	}
	for _, r := range targets {
		next := cloneDoc(r.doc)
		for field, value := range patch {
			next[field] = value
		}
		r.doc = next
		r.version = st.nextVersion()
	}
	return int64(len(targets)), nil
}

func (b *Backend) deleteRows(st *store, filter *query.QueryFilter) (int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	targets, err := b.matchLocked(st, filter)
	if err != nil {
		return 0, err
	}
	for _, r := range targets {
		r.doc = nil
		r.deleted = true
		r.version = st.nextVersion()
	}
	return int64(len(targets)), nil
}

// matchLocked collects the live rows matching a concrete filter. The caller
// holds the store lock.
func (b *Backend) matchLocked(st *store, filter *query.QueryFilter) ([]*row, error) {
	var targets []*row
	var scanErr error
	st.scanLive(func(r *row) bool {
		passes, err := b.eval.Match(filter, r.doc)
		if err != nil {
			scanErr = err
			return false
		}
		if passes {
			targets = append(targets, r)
		}
		return true
	})
	return targets, scanErr
}

func (b *Backend) bulk(ctx context.Context, st *store, cmd *driver.Command) (*driver.CommandResult, error) {
	result := &driver.CommandResult{
		Kind:    cmd.Kind,
		Records: make([]driver.RecordResult, 0, len(cmd.Entries)),
	}
	for i, entry := range cmd.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var affected int64
		var err error
		switch cmd.Kind {
		case driver.CommandBulkCreate:
			_, err = b.insert(st, cmd.Object, entry.Document)
			if err == nil {
				affected = 1
			}
		case driver.CommandBulkUpdate:
			affected, err = b.updateRows(st, cmd.Object, entry.Document, entry.Filter)
		case driver.CommandBulkDelete:
			affected, err = b.deleteRows(st, entry.Filter)
		}
		if err != nil {
			b.logger.Warn("bulk entry failed",
				zap.String("object", cmd.Object.Name),
				zap.Int("index", i),
				zap.Error(err))
			result.Records = append(result.Records, driver.RecordResult{Index: i, Err: err})
			continue
		}
		result.Affected += affected
		result.Records = append(result.Records, driver.RecordResult{Index: i, Affected: affected})
	}
	return result, nil
}

// Begin implements driver.Driver. The backend has no transaction support,
// so no handle is ever produced.
func (b *Backend) Begin(ctx context.Context) (*driver.Transaction, error) {
	return nil, driver.NewUnsupported(b.Name(), driver.FeatureTransactions)
}

// Commit implements driver.Driver.
func (b *Backend) Commit(ctx context.Context, tx *driver.Transaction) error {
	return driver.NewUnsupported(b.Name(), driver.FeatureTransactions)
}

// Rollback implements driver.Driver.
func (b *Backend) Rollback(ctx context.Context, tx *driver.Transaction) error {
	return driver.NewUnsupported(b.Name(), driver.FeatureTransactions)
}

// Close implements driver.Driver. It drops every store.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stores = make(map[string]*store)
	return nil
}

// RowVersion reports the version of the live row stored under key, for
// tooling and tests.
func (b *Backend) RowVersion(object string, key any) (uint64, bool) {
	b.mu.RLock()
	st, ok := b.stores[object]
	b.mu.RUnlock()
	if !ok {
		return 0, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	r, live := st.get(keyOf(key))
	if !live {
		return 0, false
	}
	return r.version, true
}
