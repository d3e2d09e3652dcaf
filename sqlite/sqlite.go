// Package sqlite adapts SQLite, through database/sql and the mattn/go-sqlite3
// driver, to the backend execution protocol. Each object maps to one table;
// scalar fields map to native columns and structured fields are stored as
// JSON text. Query plans are SQL statements with positional placeholders, so
// a cached plan rebinds fresh parameter values on every execution.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/query"
	"github.com/asaidimu/go-daraja/core/schema"
)

// Options configures the adapter.
type Options struct {
	// TablePrefix is prepended to object names when resolving table names.
	TablePrefix string
	// IfNotExists makes generated DDL idempotent.
	IfNotExists bool
	// CreateIndexes makes EnsureObject create the indexes the object
	// declares alongside its table.
	CreateIndexes bool
	// UnfilteredDeletes permits delete commands without a filter.
	UnfilteredDeletes bool
}

// DefaultOptions returns the adapter defaults: idempotent DDL, automatic
// index creation, filtered deletes only.
func DefaultOptions() *Options {
	return &Options{IfNotExists: true, CreateIndexes: true}
}

// Backend is the SQLite implementation of the execution protocol. It is safe
// for concurrent use; database/sql manages the underlying connections.
type Backend struct {
	db     *sql.DB
	logger *zap.Logger
	opts   *Options
}

var _ driver.Driver = (*Backend)(nil)

// New wraps an existing database handle.
func New(db *sql.DB, logger *zap.Logger, opts *Options) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Backend{db: db, logger: logger, opts: opts}
}

// Open opens the SQLite database at dsn and wraps it. The usual go-sqlite3
// DSNs work, including ":memory:" and file paths with query options.
func Open(dsn string, logger *zap.Logger, opts *Options) (*Backend, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite database %q", dsn)
	}
	return New(db, logger, opts), nil
}

// Name implements driver.Driver.
func (b *Backend) Name() string { return "sqlite" }

// Capabilities implements driver.Driver. Full-text search would need FTS
// virtual tables, which the plain table layout does not provide.
func (b *Backend) Capabilities() driver.Capabilities {
	return driver.Capabilities{
		Transactions:   true,
		BulkOperations: true,
		Aggregation:    true,
	}
}

// dbRunner abstracts *sql.DB and *sql.Tx so execution is written once for
// transactional and plain calls.
type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (b *Backend) nativeTx(tx *driver.Transaction) (*sql.Tx, error) {
	if tx == nil {
		return nil, errors.New("nil transaction handle")
	}
	native, ok := tx.Native().(*sql.Tx)
	if !ok {
		return nil, errors.Newf("transaction %s was not opened by the sqlite backend", tx.ID())
	}
	return native, nil
}

func (b *Backend) runner(tx *driver.Transaction) (dbRunner, error) {
	if tx == nil {
		return b.db, nil
	}
	if err := driver.ActiveTransaction(tx); err != nil {
		return nil, err
	}
	return b.nativeTx(tx)
}

// SelectPlan is this backend's native plan: one SQL statement whose
// positional placeholders line up with the enumerated parameter slots.
type SelectPlan struct {
	SQL        string
	Aggregated bool
}

// BuildPlan implements driver.Driver. The filter tree arrives parameterized;
// each reference lowers to one "?", so binding positions follow the tree
// walk and match the slot ordinals.
func (b *Backend) BuildPlan(q *query.Query, obj *schema.Object) (driver.NativePlan, []driver.ParameterSlot, error) {
	text, slots, err := b.builder(obj).selectSQL(q)
	if err != nil {
		return nil, nil, err
	}
	return &SelectPlan{SQL: text, Aggregated: len(q.Aggregations) > 0}, slots, nil
}

func (b *Backend) builder(obj *schema.Object) *sqlBuilder {
	return &sqlBuilder{obj: obj, table: b.opts.TablePrefix + obj.Name}
}

// ExecuteQuery implements driver.Driver.
func (b *Backend) ExecuteQuery(ctx context.Context, req *driver.ExecuteRequest) (*driver.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	selectPlan, ok := req.Plan.(*SelectPlan)
	if !ok {
		return nil, errors.Newf("plan of type %T was not built by the sqlite backend", req.Plan)
	}
	run, err := b.runner(req.Transaction)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("executing select",
		zap.String("sql", selectPlan.SQL),
		zap.Int("parameters", len(req.Parameters)))

	rows, err := run.QueryContext(ctx, selectPlan.SQL, req.Parameters...)
	if err != nil {
		b.logger.Error("select failed", zap.Error(err), zap.String("sql", selectPlan.SQL))
		return nil, driver.NewBackendError(b.Name(), "query", err)
	}
	defer rows.Close()

	if selectPlan.Aggregated {
		result, err := readAggregates(rows)
		if err != nil {
			return nil, driver.NewBackendError(b.Name(), "query", err)
		}
		return result, nil
	}
	docs, err := readRows(b.logger, req.Object, rows)
	if err != nil {
		return nil, driver.NewBackendError(b.Name(), "query", err)
	}
	return &driver.QueryResult{Documents: docs, Count: len(docs)}, nil
}

// ExecuteCommand implements driver.Driver. Bulk commands run one statement
// per entry and keep going after individual failures.
func (b *Backend) ExecuteCommand(ctx context.Context, cmd *driver.Command) (*driver.CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	run, err := b.runner(cmd.Transaction)
	if err != nil {
		return nil, err
	}
	gen := b.builder(cmd.Object)

	switch cmd.Kind {
	case driver.CommandCreate:
		return b.create(ctx, run, gen, cmd)
	case driver.CommandUpdate:
		return b.update(ctx, run, gen, cmd)
	case driver.CommandDelete:
		return b.deleteRows(ctx, run, gen, cmd)
	case driver.CommandBulkCreate, driver.CommandBulkUpdate, driver.CommandBulkDelete:
		return b.bulk(ctx, run, gen, cmd)
	default:
		return nil, errors.Newf("unsupported command kind %q", cmd.Kind)
	}
}

func (b *Backend) create(ctx context.Context, run dbRunner, gen *sqlBuilder, cmd *driver.Command) (*driver.CommandResult, error) {
	text, args, err := gen.insertSQL(cmd.Document, true)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("executing insert", zap.String("sql", text))
	rows, err := run.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, driver.NewBackendError(b.Name(), "create", err)
	}
	defer rows.Close()
	docs, err := readRows(b.logger, cmd.Object, rows)
	if err != nil {
		return nil, driver.NewBackendError(b.Name(), "create", err)
	}
	result := &driver.CommandResult{Kind: cmd.Kind, Affected: int64(len(docs))}
	if len(docs) > 0 {
		result.Document = docs[0]
	}
	return result, nil
}

func (b *Backend) update(ctx context.Context, run dbRunner, gen *sqlBuilder, cmd *driver.Command) (*driver.CommandResult, error) {
	text, args, err := gen.updateSQL(cmd.Document, cmd.Filter)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("executing update", zap.String("sql", text))
	res, err := run.ExecContext(ctx, text, args...)
	if err != nil {
		return nil, driver.NewBackendError(b.Name(), "update", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, driver.NewBackendError(b.Name(), "update", err)
	}
	return &driver.CommandResult{Kind: cmd.Kind, Affected: affected}, nil
}

func (b *Backend) deleteRows(ctx context.Context, run dbRunner, gen *sqlBuilder, cmd *driver.Command) (*driver.CommandResult, error) {
	if cmd.Filter == nil && !b.opts.UnfilteredDeletes {
		return nil, errors.Newf("refusing to delete from %q without a filter", cmd.Object.Name)
	}
	text, args, err := gen.deleteSQL(cmd.Filter)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("executing delete", zap.String("sql", text))
	res, err := run.ExecContext(ctx, text, args...)
	if err != nil {
		return nil, driver.NewBackendError(b.Name(), "delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, driver.NewBackendError(b.Name(), "delete", err)
	}
	return &driver.CommandResult{Kind: cmd.Kind, Affected: affected}, nil
}

func (b *Backend) bulk(ctx context.Context, run dbRunner, gen *sqlBuilder, cmd *driver.Command) (*driver.CommandResult, error) {
	result := &driver.CommandResult{
		Kind:    cmd.Kind,
		Records: make([]driver.RecordResult, 0, len(cmd.Entries)),
	}
	for i, entry := range cmd.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		affected, err := b.bulkEntry(ctx, run, gen, cmd.Kind, entry)
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

func (b *Backend) bulkEntry(ctx context.Context, run dbRunner, gen *sqlBuilder, kind driver.CommandKind, entry driver.BulkEntry) (int64, error) {
	var text string
	var args []any
	var err error
	switch kind {
	case driver.CommandBulkCreate:
		text, args, err = gen.insertSQL(entry.Document, false)
	case driver.CommandBulkUpdate:
		text, args, err = gen.updateSQL(entry.Document, entry.Filter)
	case driver.CommandBulkDelete:
		if entry.Filter == nil && !b.opts.UnfilteredDeletes {
			return 0, errors.New("bulk delete entry has no filter")
		}
		text, args, err = gen.deleteSQL(entry.Filter)
	default:
		return 0, errors.Newf("kind %q is not a bulk command", kind)
	}
	if err != nil {
		return 0, err
	}
	res, err := run.ExecContext(ctx, text, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Begin implements driver.Driver.
func (b *Backend) Begin(ctx context.Context) (*driver.Transaction, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, driver.NewBackendError(b.Name(), "begin", err)
	}
	return driver.NewTransaction(b.Name(), tx), nil
}

// Commit implements driver.Driver. The handle turns terminal before the
// backend commit runs, so a failed commit cannot be retried on it.
func (b *Backend) Commit(ctx context.Context, tx *driver.Transaction) error {
	native, err := b.nativeTx(tx)
	if err != nil {
		return err
	}
	if err := tx.MarkCommitted(); err != nil {
		return err
	}
	if err := native.Commit(); err != nil {
		return driver.NewBackendError(b.Name(), "commit", err)
	}
	return nil
}

// Rollback implements driver.Driver.
func (b *Backend) Rollback(ctx context.Context, tx *driver.Transaction) error {
	native, err := b.nativeTx(tx)
	if err != nil {
		return err
	}
	if err := tx.MarkRolledBack(); err != nil {
		return err
	}
	if err := native.Rollback(); err != nil {
		return driver.NewBackendError(b.Name(), "rollback", err)
	}
	return nil
}

// Close implements driver.Driver.
func (b *Backend) Close() error {
	return b.db.Close()
}
