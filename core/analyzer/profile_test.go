package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/query"
	"github.com/asaidimu/go-daraja/core/schema"
)

func TestProfilerMeasuresExecution(t *testing.T) {
	obj := analyzedObject()
	q := query.NewQueryBuilder("task").Where("priority").Eq("high").Limit(2).Build()

	run := func(ctx context.Context) (*driver.QueryResult, error) {
		time.Sleep(10 * time.Millisecond)
		return &driver.QueryResult{
			Documents: []schema.Document{{"id": "t1"}, {"id": "t2"}},
			Count:     40,
		}, nil
	}

	prof, err := NewProfiler(nil).Profile(context.Background(), q, obj, run)
	require.NoError(t, err)
	assert.Equal(t, "task", prof.Object)
	assert.GreaterOrEqual(t, prof.ExecutionTimeMs, 5.0)
	assert.Equal(t, int64(2), prof.RowsReturned)
	assert.Equal(t, int64(40), prof.RowsScanned)
	assert.Equal(t, "task_priority_idx", prof.IndexUsed)
}

func TestProfilerIndexAttribution(t *testing.T) {
	obj := analyzedObject()
	run := func(ctx context.Context) (*driver.QueryResult, error) {
		return &driver.QueryResult{}, nil
	}

	t.Run("primary key outranks secondary", func(t *testing.T) {
		q := query.NewQueryBuilder("task").Where("priority").Eq("high").Where("id").Eq("t1").Build()
		prof, err := NewProfiler(nil).Profile(context.Background(), q, obj, run)
		require.NoError(t, err)
		assert.Equal(t, "task_pk", prof.IndexUsed)
	})

	t.Run("sort field as fallback", func(t *testing.T) {
		q := query.NewQueryBuilder("task").OrderByAsc("priority").Build()
		prof, err := NewProfiler(nil).Profile(context.Background(), q, obj, run)
		require.NoError(t, err)
		assert.Equal(t, "task_priority_idx", prof.IndexUsed)
	})

	t.Run("nothing applicable", func(t *testing.T) {
		q := query.NewQueryBuilder("task").Where("owner").Eq("alice").Build()
		prof, err := NewProfiler(nil).Profile(context.Background(), q, obj, run)
		require.NoError(t, err)
		assert.Empty(t, prof.IndexUsed)
	})
}

func TestProfilerReturnedRowsAsScanFloor(t *testing.T) {
	run := func(ctx context.Context) (*driver.QueryResult, error) {
		return &driver.QueryResult{
			Documents: []schema.Document{{"id": "t1"}, {"id": "t2"}, {"id": "t3"}},
			Count:     0,
		}, nil
	}

	prof, err := NewProfiler(nil).Profile(context.Background(), nil, analyzedObject(), run)
	require.NoError(t, err)
	assert.Equal(t, int64(3), prof.RowsReturned)
	assert.Equal(t, int64(3), prof.RowsScanned)
}

func TestProfilerPassesErrorsThrough(t *testing.T) {
	boom := driver.NewBackendError("sqlite", "query", errors.New("SQLITE_BUSY"))
	run := func(ctx context.Context) (*driver.QueryResult, error) {
		return nil, boom
	}

	prof, err := NewProfiler(nil).Profile(context.Background(), nil, analyzedObject(), run)
	assert.Nil(t, prof)
	require.Error(t, err)
	assert.Same(t, error(boom), err)
	var be *driver.BackendError
	assert.True(t, errors.As(err, &be))
}

func TestProfilerForwardsContext(t *testing.T) {
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "marker")

	var seen any
	run := func(ctx context.Context) (*driver.QueryResult, error) {
		seen = ctx.Value(ctxKey{})
		return &driver.QueryResult{}, nil
	}

	_, err := NewProfiler(nil).Profile(ctx, nil, analyzedObject(), run)
	require.NoError(t, err)
	assert.Equal(t, "marker", seen)
}
