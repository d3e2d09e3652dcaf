// Package pebble adapts a Pebble key-value store to the backend execution
// protocol. Documents are stored as JSON values under object-prefixed keys,
// reads are prefix scans filtered through the query evaluator, and
// transactions are indexed batches, so reads inside a transaction see its
// staged writes. Unsorted queries return rows in key byte order.
package pebble

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	pdb "github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"

	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/plan"
	"github.com/asaidimu/go-daraja/core/query"
	"github.com/asaidimu/go-daraja/core/schema"
)

// Options configures the adapter.
type Options struct {
	// FS overrides the filesystem the store lives on. Nil means the real
	// disk; vfs.NewMem() gives an ephemeral store.
	FS vfs.FS
	// Sync makes commits wait for durability. Off, writes are applied but
	// may be lost on a crash.
	Sync bool
	// UnfilteredDeletes permits delete commands without a filter.
	UnfilteredDeletes bool
}

// DefaultOptions returns the adapter defaults: on-disk, synchronous
// commits, filtered deletes only.
func DefaultOptions() *Options {
	return &Options{Sync: true}
}

// Backend is the Pebble implementation of the execution protocol.
type Backend struct {
	db     *pdb.DB
	logger *zap.Logger
	opts   *Options
	eval   *query.Evaluator
}

var _ driver.Driver = (*Backend)(nil)

// New wraps an already opened store.
func New(db *pdb.DB, logger *zap.Logger, opts *Options) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Backend{db: db, logger: logger, opts: opts, eval: query.NewEvaluator(logger)}
}

// Open opens the store rooted at dir and wraps it.
func Open(dir string, logger *zap.Logger, opts *Options) (*Backend, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	db, err := pdb.Open(dir, &pdb.Options{FS: opts.FS})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble store %q", dir)
	}
	return New(db, logger, opts), nil
}

// Name implements driver.Driver.
func (b *Backend) Name() string { return "pebble" }

// Capabilities implements driver.Driver. Aggregation stays off: a key scan
// has nothing to push a fold into, and callers get a typed unsupported
// error instead of a silent full-store walk.
func (b *Backend) Capabilities() driver.Capabilities {
	return driver.Capabilities{
		Transactions:   true,
		BulkOperations: true,
	}
}

func (b *Backend) writeOpt() *pdb.WriteOptions {
	if b.opts.Sync {
		return pdb.Sync
	}
	return pdb.NoSync
}

// kvStore abstracts *pdb.DB and *pdb.Batch. An indexed batch reads through
// to the store underneath it, so one scan path serves both.
type kvStore interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pdb.IterOptions) (*pdb.Iterator, error)
	Set(key, value []byte, o *pdb.WriteOptions) error
	Delete(key []byte, o *pdb.WriteOptions) error
}

func (b *Backend) nativeBatch(tx *driver.Transaction) (*pdb.Batch, error) {
	if tx == nil {
		return nil, errors.New("nil transaction handle")
	}
	native, ok := tx.Native().(*pdb.Batch)
	if !ok {
		return nil, errors.Newf("transaction %s was not opened by the pebble backend", tx.ID())
	}
	return native, nil
}

func (b *Backend) store(tx *driver.Transaction) (kvStore, error) {
	if tx == nil {
		return b.db, nil
	}
	if err := driver.ActiveTransaction(tx); err != nil {
		return nil, err
	}
	return b.nativeBatch(tx)
}

// rowPlan wraps the canonical query. Filters stay parameterized; each
// execution binds its values through plan.Instantiate.
type rowPlan struct {
	query *query.Query
}

// BuildPlan implements driver.Driver.
func (b *Backend) BuildPlan(q *query.Query, obj *schema.Object) (driver.NativePlan, []driver.ParameterSlot, error) {
	if len(q.Aggregations) > 0 {
		return nil, nil, driver.NewUnsupported(b.Name(), driver.FeatureAggregation)
	}
	return &rowPlan{query: q.Clone()}, nil, nil
}

// scan walks every row of object visible in st, decodes it and hands it to
// fn. fn returning false stops the walk.
func (b *Backend) scan(st kvStore, object string, fn func(key []byte, doc schema.Document) (bool, error)) error {
	iter, err := st.NewIter(&pdb.IterOptions{
		LowerBound: prefix(object),
		UpperBound: prefixEnd(object),
	})
	if err != nil {
		return driver.NewBackendError(b.Name(), "scan", err)
	}

	var walkErr error
	for valid := iter.First(); valid; valid = iter.Next() {
		doc, err := decodeDocument(iter.Value())
		if err != nil {
			walkErr = err
			break
		}
		key := append([]byte(nil), iter.Key()...)
		keep, err := fn(key, doc)
		if err != nil {
			walkErr = err
			break
		}
		if !keep {
			break
		}
	}
	if err := iter.Close(); err != nil && walkErr == nil {
		walkErr = driver.NewBackendError(b.Name(), "scan", err)
	}
	return walkErr
}

// ExecuteQuery implements driver.Driver.
func (b *Backend) ExecuteQuery(ctx context.Context, req *driver.ExecuteRequest) (*driver.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	native, ok := req.Plan.(*rowPlan)
	if !ok {
		return nil, errors.Newf("plan of type %T was not built by the pebble backend", req.Plan)
	}
	q := native.query
	filter, err := plan.Instantiate(q.Filters, req.Parameters)
	if err != nil {
		return nil, err
	}
	st, err := b.store(req.Transaction)
	if err != nil {
		return nil, err
	}

	var docs []schema.Document
	err = b.scan(st, req.Object.Name, func(_ []byte, doc schema.Document) (bool, error) {
		passes, err := b.eval.Match(filter, doc)
		if err != nil {
			return false, err
		}
		if passes {
			docs = append(docs, doc)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	count := len(docs)
	query.SortDocuments(docs, q.Sort)
	docs = query.Paginate(docs, q.Pagination)
	docs = query.Project(docs, q.Projection)
	return &driver.QueryResult{Documents: docs, Count: count}, nil
}

// ExecuteCommand implements driver.Driver. A command outside a transaction
// runs in its own batch, so multi-row updates and deletes apply atomically.
func (b *Backend) ExecuteCommand(ctx context.Context, cmd *driver.Command) (*driver.CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cmd.Transaction != nil {
		if err := driver.ActiveTransaction(cmd.Transaction); err != nil {
			return nil, err
		}
		batch, err := b.nativeBatch(cmd.Transaction)
		if err != nil {
			return nil, err
		}
		return b.runCommand(ctx, batch, cmd)
	}

	batch := b.db.NewIndexedBatch()
	result, err := b.runCommand(ctx, batch, cmd)
	if err != nil {
		_ = batch.Close()
		return nil, err
	}
	if err := batch.Commit(b.writeOpt()); err != nil {
		_ = batch.Close()
		return nil, driver.NewBackendError(b.Name(), "commit", err)
	}
	_ = batch.Close()
	return result, nil
}

func (b *Backend) runCommand(ctx context.Context, st kvStore, cmd *driver.Command) (*driver.CommandResult, error) {
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
		if cmd.Filter == nil && !b.opts.UnfilteredDeletes {
			return nil, errors.Newf("refusing to delete from %q without a filter", cmd.Object.Name)
		}
		affected, err := b.deleteRows(st, cmd.Object, cmd.Filter)
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

func (b *Backend) insert(st kvStore, obj *schema.Object, doc schema.Document) (schema.Document, error) {
	pk, ok := doc[obj.PrimaryKey]
	if !ok || pk == nil {
		return nil, errors.Newf("create on %q requires primary key %q", obj.Name, obj.PrimaryKey)
	}
	key := rowKey(obj.Name, pk)
	_, closer, err := st.Get(key)
	if err == nil {
		_ = closer.Close()
		return nil, errors.Newf("duplicate primary key %v for %q", pk, obj.Name)
	}
	if !errors.Is(err, pdb.ErrNotFound) {
		return nil, driver.NewBackendError(b.Name(), "read", err)
	}
	value, err := encodeDocument(doc)
	if err != nil {
		return nil, err
	}
	if err := st.Set(key, value, b.writeOpt()); err != nil {
		return nil, driver.NewBackendError(b.Name(), "write", err)
	}
	return doc, nil
}

func (b *Backend) updateRows(st kvStore, obj *schema.Object, patch schema.Document, filter *query.QueryFilter) (int64, error) {
	if next, changed := patch[obj.PrimaryKey]; changed && next != nil {
		return 0, errors.Newf("primary key %q of %q is immutable", obj.PrimaryKey, obj.Name)
	}
	targets, err := b.matchRows(st, obj.Name, filter)
	if err != nil {
		return 0, err
	}
	for _, target := range targets {
		next := target.doc
		for field, value := range patch {
			next[field] = value
		}
		value, err := encodeDocument(next)
		if err != nil {
			return 0, err
		}
		if err := st.Set(target.key, value, b.writeOpt()); err != nil {
			return 0, driver.NewBackendError(b.Name(), "write", err)
		}
	}
	return int64(len(targets)), nil
}

func (b *Backend) deleteRows(st kvStore, obj *schema.Object, filter *query.QueryFilter) (int64, error) {
	targets, err := b.matchRows(st, obj.Name, filter)
	if err != nil {
		return 0, err
	}
	for _, target := range targets {
		if err := st.Delete(target.key, b.writeOpt()); err != nil {
			return 0, driver.NewBackendError(b.Name(), "delete", err)
		}
	}
	return int64(len(targets)), nil
}

type matchedRow struct {
	key []byte
	doc schema.Document
}

// matchRows collects the rows matching a concrete filter. Mutating while
// iterating corrupts a scan, so matches are gathered first and written
// after.
func (b *Backend) matchRows(st kvStore, object string, filter *query.QueryFilter) ([]matchedRow, error) {
	var targets []matchedRow
	err := b.scan(st, object, func(key []byte, doc schema.Document) (bool, error) {
		passes, err := b.eval.Match(filter, doc)
		if err != nil {
			return false, err
		}
		if passes {
			targets = append(targets, matchedRow{key: key, doc: doc})
		}
		return true, nil
	})
	return targets, err
}

func (b *Backend) bulk(ctx context.Context, st kvStore, cmd *driver.Command) (*driver.CommandResult, error) {
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
			if entry.Filter == nil && !b.opts.UnfilteredDeletes {
				err = errors.Newf("refusing to delete from %q without a filter", cmd.Object.Name)
			} else {
				affected, err = b.deleteRows(st, cmd.Object, entry.Filter)
			}
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

// Begin implements driver.Driver. The transaction is an indexed batch:
// writes stage in it and its reads merge them over the store.
func (b *Backend) Begin(ctx context.Context) (*driver.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return driver.NewTransaction(b.Name(), b.db.NewIndexedBatch()), nil
}

// Commit implements driver.Driver. The handle turns terminal first; if the
// batch then fails to apply, the transaction is lost, not retryable.
func (b *Backend) Commit(ctx context.Context, tx *driver.Transaction) error {
	batch, err := b.nativeBatch(tx)
	if err != nil {
		return err
	}
	if err := tx.MarkCommitted(); err != nil {
		return err
	}
	if err := batch.Commit(b.writeOpt()); err != nil {
		_ = batch.Close()
		return driver.NewBackendError(b.Name(), "commit", err)
	}
	if err := batch.Close(); err != nil {
		return driver.NewBackendError(b.Name(), "commit", err)
	}
	return nil
}

// Rollback implements driver.Driver. Staged writes are dropped with the
// batch.
func (b *Backend) Rollback(ctx context.Context, tx *driver.Transaction) error {
	batch, err := b.nativeBatch(tx)
	if err != nil {
		return err
	}
	if err := tx.MarkRolledBack(); err != nil {
		return err
	}
	if err := batch.Close(); err != nil {
		return driver.NewBackendError(b.Name(), "rollback", err)
	}
	return nil
}

// Close implements driver.Driver.
func (b *Backend) Close() error {
	return b.db.Close()
}
