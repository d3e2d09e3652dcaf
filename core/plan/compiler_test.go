package plan

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/query"
	"github.com/asaidimu/go-daraja/core/schema"
)

// stubDriver lowers by handing back the native query unchanged and records
// what it was asked to build.
type stubDriver struct {
	name       string
	caps       driver.Capabilities
	buildCalls int
	lastNative *query.Query
}

func (s *stubDriver) Name() string { return s.name }

func (s *stubDriver) Capabilities() driver.Capabilities { return s.caps }

func (s *stubDriver) BuildPlan(q *query.Query, obj *schema.Object) (driver.NativePlan, []driver.ParameterSlot, error) {
	s.buildCalls++
	s.lastNative = q
	return q, nil, nil
}

func (s *stubDriver) ExecuteQuery(ctx context.Context, req *driver.ExecuteRequest) (*driver.QueryResult, error) {
	return &driver.QueryResult{}, nil
}

func (s *stubDriver) ExecuteCommand(ctx context.Context, cmd *driver.Command) (*driver.CommandResult, error) {
	return &driver.CommandResult{}, nil
}

func (s *stubDriver) Begin(ctx context.Context) (*driver.Transaction, error) {
	return driver.NewTransaction(s.name, nil), nil
}

func (s *stubDriver) Commit(ctx context.Context, tx *driver.Transaction) error {
	return tx.MarkCommitted()
}

func (s *stubDriver) Rollback(ctx context.Context, tx *driver.Transaction) error {
	return tx.MarkRolledBack()
}

func (s *stubDriver) Close() error { return nil }

func newTestCompiler(caps driver.Capabilities) (*Compiler, *stubDriver) {
	stub := &stubDriver{name: "stub", caps: caps}
	return NewCompiler(stub, NewCache(16, nil), nil), stub
}

func TestCompileCaching(t *testing.T) {
	compiler, stub := newTestCompiler(driver.Capabilities{Aggregation: true})
	obj := planObject()

	q1 := query.NewQueryBuilder("task").Where("priority").In("high", "urgent").Limit(10).Build()
	plan1, params1, err := compiler.Compile(q1, obj)
	require.NoError(t, err)
	assert.Equal(t, []any{"high", "urgent"}, params1)
	assert.Equal(t, uint64(1), compiler.CompileCount())

	// Same shape, different literals: cache hit, fresh values.
	q2 := query.NewQueryBuilder("task").Where("priority").In("low", "medium").Limit(10).Build()
	plan2, params2, err := compiler.Compile(q2, obj)
	require.NoError(t, err)
	assert.Same(t, plan1, plan2)
	assert.Equal(t, []any{"low", "medium"}, params2)
	assert.Equal(t, uint64(1), compiler.CompileCount())
	assert.Equal(t, 1, stub.buildCalls)

	// Different arity is a different shape.
	q3 := query.NewQueryBuilder("task").Where("priority").In("high").Limit(10).Build()
	_, _, err = compiler.Compile(q3, obj)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), compiler.CompileCount())
}

func TestCompileInvalidationForcesRecompile(t *testing.T) {
	compiler, _ := newTestCompiler(driver.Capabilities{})
	obj := planObject()
	q := query.NewQueryBuilder("task").Where("title").Eq("x").Build()

	_, _, err := compiler.Compile(q, obj)
	require.NoError(t, err)
	_, _, err = compiler.Compile(q, obj)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), compiler.CompileCount())

	compiler.Cache().ObjectInvalidated("task")

	_, _, err = compiler.Compile(q, obj)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), compiler.CompileCount())
}

func TestCompileCapabilityGate(t *testing.T) {
	compiler, _ := newTestCompiler(driver.Capabilities{Aggregation: false})
	obj := planObject()

	q := query.NewQueryBuilder("task").Count("total").Build()
	_, _, err := compiler.Compile(q, obj)
	require.Error(t, err)
	var unsupported *driver.UnsupportedOperationError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, driver.FeatureAggregation, unsupported.Feature)
	assert.Equal(t, uint64(0), compiler.CompileCount())
}

func TestCompileComputedProjection(t *testing.T) {
	compiler, stub := newTestCompiler(driver.Capabilities{})
	obj := planObject()

	q := query.NewQueryBuilder("task").Select("id", "label").Build()
	compiled, _, err := compiler.Compile(q, obj)
	require.NoError(t, err)

	require.NotNil(t, compiled.Post)
	require.Len(t, compiled.Post.Compute, 1)
	step := compiled.Post.Compute[0]
	assert.Equal(t, "label", step.Alias)
	assert.Equal(t, []string{"title", "priority"}, step.DependsOn)
	assert.False(t, compiled.Post.FilterAfter)
	assert.False(t, compiled.Post.WindowAfter)

	// The backend fetches the stored fields plus the dependencies, never
	// the computed field itself.
	require.NotNil(t, stub.lastNative.Projection)
	assert.Equal(t, []string{"id", "priority", "title"}, stub.lastNative.Projection.Include)
}

func TestCompileComputedFilter(t *testing.T) {
	compiler, stub := newTestCompiler(driver.Capabilities{})
	obj := planObject()

	q := query.NewQueryBuilder("task").
		Where("label").Contains("high").
		Limit(5).
		Build()
	compiled, params, err := compiler.Compile(q, obj)
	require.NoError(t, err)
	assert.Equal(t, []any{"high"}, params)

	require.NotNil(t, compiled.Post)
	assert.True(t, compiled.Post.FilterAfter)
	assert.True(t, compiled.Post.WindowAfter)
	assert.Nil(t, stub.lastNative.Filters, "a computed-field filter must not reach the backend")
	assert.Nil(t, stub.lastNative.Pagination, "the window must wait for the post filter")
}

func TestCompileComputedSort(t *testing.T) {
	compiler, stub := newTestCompiler(driver.Capabilities{})
	obj := planObject()

	q := query.NewQueryBuilder("task").OrderByAsc("label").Limit(5).Build()
	compiled, _, err := compiler.Compile(q, obj)
	require.NoError(t, err)

	require.NotNil(t, compiled.Post)
	assert.True(t, compiled.Post.SortAfter)
	assert.True(t, compiled.Post.WindowAfter)
	assert.Empty(t, stub.lastNative.Sort)
	assert.Nil(t, stub.lastNative.Pagination)
	// Every computed field rides along when the projection is implicit.
	require.Len(t, compiled.Post.Compute, 1)
	assert.Equal(t, "label", compiled.Post.Compute[0].Alias)
}

func TestCompileAggregationOverComputedField(t *testing.T) {
	compiler, _ := newTestCompiler(driver.Capabilities{Aggregation: true})
	obj := planObject()

	q := query.NewQueryBuilder("task").Aggregate(query.AggregationTypeMax, "label", "max_label").Build()
	_, _, err := compiler.Compile(q, obj)
	require.Error(t, err)

	withComputedFilter := query.NewQueryBuilder("task").
		Where("label").Eq("x").
		Count("total").
		Build()
	_, _, err = compiler.Compile(withComputedFilter, obj)
	require.Error(t, err)
}

func TestCompileFullyNative(t *testing.T) {
	compiler, stub := newTestCompiler(driver.Capabilities{})
	obj := planObject()

	q := query.NewQueryBuilder("task").
		Where("priority").Eq("high").
		Select("id", "title").
		OrderByAsc("title").
		Limit(10).
		Build()
	compiled, params, err := compiler.Compile(q, obj)
	require.NoError(t, err)

	assert.Nil(t, compiled.Post, "a stored-field query is fully pushed down")
	assert.Equal(t, []any{"high"}, params)
	require.NotNil(t, stub.lastNative.Filters)
	assert.NotNil(t, stub.lastNative.Pagination)
	assert.Equal(t, []string{"id", "title"}, stub.lastNative.Projection.Include)
}
