// Package postgres adapts PostgreSQL, through pgx and its pool, to the
// backend execution protocol. Each object maps to one table; scalar fields
// map to native columns and structured fields are stored as JSONB. Query
// plans are SQL statements whose $N placeholders are numbered by parameter
// ordinal, so a cached plan rebinds fresh values on every execution.
package postgres

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
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
	// TextSearchConfig names the text search configuration full-text
	// indexes are built with. Empty means "english".
	TextSearchConfig string
}

// DefaultOptions returns the adapter defaults: idempotent DDL, automatic
// index creation, filtered deletes only.
func DefaultOptions() *Options {
	return &Options{IfNotExists: true, CreateIndexes: true}
}

// Backend is the PostgreSQL implementation of the execution protocol. The
// pool handles connection lifecycle and concurrency.
type Backend struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	opts   *Options
}

var _ driver.Driver = (*Backend)(nil)

// New wraps an existing connection pool.
func New(pool *pgxpool.Pool, logger *zap.Logger, opts *Options) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Backend{pool: pool, logger: logger, opts: opts}
}

// Open connects a pool to dsn and wraps it.
func Open(ctx context.Context, dsn string, logger *zap.Logger, opts *Options) (*Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "connect to postgres")
	}
	return New(pool, logger, opts), nil
}

// Name implements driver.Driver.
func (b *Backend) Name() string { return "postgres" }

// Capabilities implements driver.Driver. Full text is backed by tsvector
// GIN indexes generated for fulltext index declarations.
func (b *Backend) Capabilities() driver.Capabilities {
	return driver.Capabilities{
		Transactions:   true,
		BulkOperations: true,
		Aggregation:    true,
		FullText:       true,
	}
}

// pgxRunner abstracts *pgxpool.Pool and pgx.Tx so execution is written once
// for transactional and plain calls.
type pgxRunner interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (b *Backend) nativeTx(tx *driver.Transaction) (pgx.Tx, error) {
	if tx == nil {
		return nil, errors.New("nil transaction handle")
	}
	native, ok := tx.Native().(pgx.Tx)
	if !ok {
		return nil, errors.Newf("transaction %s was not opened by the postgres backend", tx.ID())
	}
	return native, nil
}

func (b *Backend) runner(tx *driver.Transaction) (pgxRunner, error) {
	if tx == nil {
		return b.pool, nil
	}
	if err := driver.ActiveTransaction(tx); err != nil {
		return nil, err
	}
	return b.nativeTx(tx)
}

// SelectPlan is this backend's native plan: one SQL statement whose $N
// placeholders are numbered by the enumerated parameter ordinals.
type SelectPlan struct {
	SQL        string
	Aggregated bool
}

// BuildPlan implements driver.Driver. The filter tree arrives parameterized;
// lowering records one slot per placeholder in statement order.
func (b *Backend) BuildPlan(q *query.Query, obj *schema.Object) (driver.NativePlan, []driver.ParameterSlot, error) {
	sql, slots, err := b.builder(obj).selectSQL(q)
	if err != nil {
		return nil, nil, err
	}
	return &SelectPlan{SQL: sql, Aggregated: len(q.Aggregations) > 0}, slots, nil
}

func (b *Backend) builder(obj *schema.Object) *sqlBuilder {
	return &sqlBuilder{obj: obj, table: b.opts.TablePrefix + obj.Name}
}

// ExecuteQuery implements driver.Driver.
func (b *Backend) ExecuteQuery(ctx context.Context, req *driver.ExecuteRequest) (*driver.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	native, ok := req.Plan.(*SelectPlan)
	if !ok {
		return nil, errors.Newf("plan of type %T was not built by the postgres backend", req.Plan)
	}
	r, err := b.runner(req.Transaction)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("executing query",
		zap.String("object", req.Object.Name),
		zap.String("sql", native.SQL),
		zap.Int("parameters", len(req.Parameters)))

	rows, err := r.Query(ctx, native.SQL, req.Parameters...)
	if err != nil {
		return nil, driver.NewBackendError(b.Name(), "query", err)
	}
	defer rows.Close()

	if native.Aggregated {
		return readAggregates(rows)
	}
	docs, err := readRows(b.logger, req.Object, rows)
	if err != nil {
		return nil, err
	}
	return &driver.QueryResult{Documents: docs, Count: len(docs)}, nil
}

// ExecuteCommand implements driver.Driver.
func (b *Backend) ExecuteCommand(ctx context.Context, cmd *driver.Command) (*driver.CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := b.runner(cmd.Transaction)
	if err != nil {
		return nil, err
	}
	g := b.builder(cmd.Object)

	switch cmd.Kind {
	case driver.CommandCreate:
		return b.create(ctx, r, g, cmd)
	case driver.CommandUpdate:
		sql, args, err := g.updateSQL(cmd.Document, cmd.Filter)
		if err != nil {
			return nil, err
		}
		tag, err := r.Exec(ctx, sql, args...)
		if err != nil {
			return nil, driver.NewBackendError(b.Name(), "update", err)
		}
		return &driver.CommandResult{Kind: cmd.Kind, Affected: tag.RowsAffected()}, nil
	case driver.CommandDelete:
		return b.deleteRows(ctx, r, g, cmd)
	case driver.CommandBulkCreate, driver.CommandBulkUpdate, driver.CommandBulkDelete:
		return b.bulk(ctx, r, g, cmd)
	default:
		return nil, errors.Newf("unsupported command kind %q", cmd.Kind)
	}
}

func (b *Backend) create(ctx context.Context, r pgxRunner, g *sqlBuilder, cmd *driver.Command) (*driver.CommandResult, error) {
	sql, args, err := g.insertSQL(cmd.Document, true)
	if err != nil {
		return nil, err
	}
	rows, err := r.Query(ctx, sql, args...)
	if err != nil {
		return nil, driver.NewBackendError(b.Name(), "create", err)
	}
	defer rows.Close()
	docs, err := readRows(b.logger, cmd.Object, rows)
	if err != nil {
		return nil, err
	}
	result := &driver.CommandResult{Kind: cmd.Kind, Affected: int64(len(docs))}
	if len(docs) > 0 {
		result.Document = docs[0]
	}
	return result, nil
}

func (b *Backend) deleteRows(ctx context.Context, r pgxRunner, g *sqlBuilder, cmd *driver.Command) (*driver.CommandResult, error) {
	if cmd.Filter == nil && !b.opts.UnfilteredDeletes {
		return nil, errors.Newf("refusing to delete from %q without a filter", cmd.Object.Name)
	}
	sql, args, err := g.deleteSQL(cmd.Filter)
	if err != nil {
		return nil, err
	}
	tag, err := r.Exec(ctx, sql, args...)
	if err != nil {
		return nil, driver.NewBackendError(b.Name(), "delete", err)
	}
	return &driver.CommandResult{Kind: cmd.Kind, Affected: tag.RowsAffected()}, nil
}

func (b *Backend) bulk(ctx context.Context, r pgxRunner, g *sqlBuilder, cmd *driver.Command) (*driver.CommandResult, error) {
	result := &driver.CommandResult{
		Kind:    cmd.Kind,
		Records: make([]driver.RecordResult, 0, len(cmd.Entries)),
	}
	for i, entry := range cmd.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		affected, err := b.bulkEntry(ctx, r, g, cmd, entry)
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

func (b *Backend) bulkEntry(ctx context.Context, r pgxRunner, g *sqlBuilder, cmd *driver.Command, entry driver.BulkEntry) (int64, error) {
	var sql string
	var args []any
	var err error
	switch cmd.Kind {
	case driver.CommandBulkCreate:
		sql, args, err = g.insertSQL(entry.Document, false)
	case driver.CommandBulkUpdate:
		sql, args, err = g.updateSQL(entry.Document, entry.Filter)
	case driver.CommandBulkDelete:
		if entry.Filter == nil && !b.opts.UnfilteredDeletes {
			return 0, errors.Newf("refusing to delete from %q without a filter", cmd.Object.Name)
		}
		sql, args, err = g.deleteSQL(entry.Filter)
	}
	if err != nil {
		return 0, err
	}
	tag, err := r.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Begin implements driver.Driver.
func (b *Backend) Begin(ctx context.Context) (*driver.Transaction, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, driver.NewBackendError(b.Name(), "begin", err)
	}
	return driver.NewTransaction(b.Name(), tx), nil
}

// Commit implements driver.Driver. The handle turns terminal first; if the
// database then fails the commit, the transaction is lost, not retryable.
func (b *Backend) Commit(ctx context.Context, tx *driver.Transaction) error {
	native, err := b.nativeTx(tx)
	if err != nil {
		return err
	}
	if err := tx.MarkCommitted(); err != nil {
		return err
	}
	if err := native.Commit(ctx); err != nil {
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
	if err := native.Rollback(ctx); err != nil {
		return driver.NewBackendError(b.Name(), "rollback", err)
	}
	return nil
}

// Close implements driver.Driver.
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}
