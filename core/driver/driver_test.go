package driver

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilities(t *testing.T) {
	caps := Capabilities{Transactions: true, Aggregation: true}
	assert.True(t, caps.Supports(FeatureTransactions))
	assert.True(t, caps.Supports(FeatureAggregation))
	assert.False(t, caps.Supports(FeatureBulkOperations))
	assert.False(t, caps.Supports(FeatureFullText))
	assert.False(t, caps.Supports(Feature("geo")))
}

func TestTransactionLifecycle(t *testing.T) {
	t.Run("commit is terminal", func(t *testing.T) {
		tx := NewTransaction("sqlite", nil)
		assert.Equal(t, TxActive, tx.State())

		require.NoError(t, tx.MarkCommitted())
		assert.Equal(t, TxCommitted, tx.State())

		err := tx.MarkCommitted()
		require.Error(t, err)
		var stateErr *TransactionStateError
		require.True(t, errors.As(err, &stateErr))
		assert.Equal(t, TxCommitted, stateErr.State)
		assert.Equal(t, tx.ID(), stateErr.ID)
	})

	t.Run("rollback after commit fails", func(t *testing.T) {
		tx := NewTransaction("sqlite", nil)
		require.NoError(t, tx.MarkCommitted())

		err := tx.MarkRolledBack()
		require.Error(t, err)
		var stateErr *TransactionStateError
		require.True(t, errors.As(err, &stateErr))
		assert.Equal(t, TxCommitted, stateErr.State)
		assert.Equal(t, TxRolledBack, stateErr.Attempted)
	})

	t.Run("commit after rollback fails", func(t *testing.T) {
		tx := NewTransaction("sqlite", nil)
		require.NoError(t, tx.MarkRolledBack())
		require.Error(t, tx.MarkCommitted())
		assert.Equal(t, TxRolledBack, tx.State())
	})

	t.Run("concurrent finishes resolve to one winner", func(t *testing.T) {
		tx := NewTransaction("sqlite", nil)
		const racers = 32
		var wg sync.WaitGroup
		var successes atomic.Int32

		for i := 0; i < racers; i++ {
			wg.Add(1)
			commit := i%2 == 0
			go func() {
				defer wg.Done()
				var err error
				if commit {
					err = tx.MarkCommitted()
				} else {
					err = tx.MarkRolledBack()
				}
				if err == nil {
					successes.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), successes.Load())
		assert.NotEqual(t, TxActive, tx.State())
	})

	t.Run("active check", func(t *testing.T) {
		tx := NewTransaction("sqlite", nil)
		require.NoError(t, ActiveTransaction(tx))

		require.NoError(t, tx.MarkRolledBack())
		err := ActiveTransaction(tx)
		require.Error(t, err)
		var stateErr *TransactionStateError
		assert.True(t, errors.As(err, &stateErr))

		require.Error(t, ActiveTransaction(nil))
	})
}

func TestPool(t *testing.T) {
	t.Run("acquire and release", func(t *testing.T) {
		pool := NewPool("test", 2, time.Second, nil)
		release1, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		release2, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, pool.InUse())

		release1()
		assert.Equal(t, 1, pool.InUse())
		release2()
		assert.Equal(t, 0, pool.InUse())
	})

	t.Run("release is idempotent", func(t *testing.T) {
		pool := NewPool("test", 1, time.Second, nil)
		release, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		release()
		release()
		assert.Equal(t, 0, pool.InUse())
	})

	t.Run("exhaustion times out with a typed error", func(t *testing.T) {
		pool := NewPool("busy", 1, 20*time.Millisecond, nil)
		release, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		defer release()

		_, err = pool.Acquire(context.Background())
		require.Error(t, err)
		var timeoutErr *ResourcePoolTimeoutError
		require.True(t, errors.As(err, &timeoutErr))
		assert.Equal(t, "busy", timeoutErr.Pool)
	})

	t.Run("context cancellation wins over the timer", func(t *testing.T) {
		pool := NewPool("busy", 1, time.Minute, nil)
		release, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		defer release()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = pool.Acquire(ctx)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("freed slot unblocks a waiter", func(t *testing.T) {
		pool := NewPool("test", 1, time.Second, nil)
		release, err := pool.Acquire(context.Background())
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			second, err := pool.Acquire(context.Background())
			if err == nil {
				second()
			}
			done <- err
		}()
		time.Sleep(10 * time.Millisecond)
		release()
		require.NoError(t, <-done)
	})
}

func TestBackendError(t *testing.T) {
	cause := errors.New("SQLITE_BUSY: database is locked")
	err := NewBackendError("sqlite", "execute query", cause)

	assert.NotContains(t, err.Error(), "SQLITE_BUSY", "raw backend text must not leak into the message")
	assert.Contains(t, err.Error(), "sqlite")
	assert.Contains(t, err.Error(), err.CorrelationID.String())
	assert.True(t, errors.Is(err, cause), "the cause must stay reachable for logging")
}

func TestCommandResult(t *testing.T) {
	result := &CommandResult{
		Kind: CommandBulkCreate,
		Records: []RecordResult{
			{Index: 0, Affected: 1},
			{Index: 1, Err: errors.New("duplicate key")},
			{Index: 2, Affected: 1},
			{Index: 3, Err: errors.New("payload invalid")},
		},
	}
	failed := result.FailedRecords()
	require.Len(t, failed, 2)
	assert.Equal(t, 1, failed[0].Index)
	assert.Equal(t, 3, failed[1].Index)
	assert.True(t, CommandBulkCreate.IsBulk())
	assert.False(t, CommandUpdate.IsBulk())
}
