package exec

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/schema"
)

func TestSessionScopesWorkToOneTransaction(t *testing.T) {
	engine, backend, _ := newTestEngine(t, taskPolicy())
	seedTasks(backend)
	ctx := context.Background()

	session, err := engine.Begin(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, "fake", session.Backend())
	assert.Equal(t, driver.TxActive, session.Transaction().State())

	result, err := session.Query(ctx, &Request{Collection: "task", Identity: adminIdentity()})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 4)
	assert.Same(t, session.Transaction(), backend.lastTransaction())

	_, err = session.Execute(ctx, &CommandRequest{
		Collection: "task",
		Kind:       driver.CommandCreate,
		Document:   schema.Document{"id": "t5", "title": "write runbook", "priority": "low", "owner": "dana"},
		Identity:   adminIdentity(),
	})
	require.NoError(t, err)
	assert.Same(t, session.Transaction(), backend.lastCommand().Transaction)

	require.NoError(t, session.Commit(ctx))
	assert.Equal(t, driver.TxCommitted, session.Transaction().State())
	assert.Equal(t, 1, backend.commitCount())
}

func TestSessionTerminalStateAdmitsNoFurtherWork(t *testing.T) {
	engine, backend, _ := newTestEngine(t, taskPolicy())
	seedTasks(backend)
	ctx := context.Background()

	session, err := engine.Begin(ctx, "fake")
	require.NoError(t, err)
	require.NoError(t, session.Commit(ctx))

	err = session.Commit(ctx)
	var state *driver.TransactionStateError
	require.ErrorAs(t, err, &state)
	assert.Equal(t, driver.TxCommitted, state.State)

	err = session.Rollback(ctx)
	require.ErrorAs(t, err, &state)

	_, err = session.Query(ctx, &Request{Collection: "task", Identity: adminIdentity()})
	require.ErrorAs(t, err, &state)
	assert.Equal(t, 1, backend.commitCount())
	assert.Zero(t, backend.rollbackCount())
}

func TestSessionRejectsForeignBackend(t *testing.T) {
	engine, _, _ := newTestEngine(t, taskPolicy())
	other := newFakeBackend("other")
	require.NoError(t, engine.Register("other", other))
	ctx := context.Background()

	session, err := engine.Begin(ctx, "fake")
	require.NoError(t, err)
	defer func() { _ = session.Rollback(ctx) }()

	_, err = session.Query(ctx, &Request{Collection: "task", Backend: "other", Identity: adminIdentity()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "other")
}

func TestTransactCommitsOnSuccess(t *testing.T) {
	engine, backend, _ := newTestEngine(t, taskPolicy())
	ctx := context.Background()

	err := engine.Transact(ctx, "fake", func(s *Session) error {
		_, err := s.Execute(ctx, &CommandRequest{
			Collection: "task",
			Kind:       driver.CommandCreate,
			Document:   schema.Document{"id": "t6", "title": "rotate secrets", "priority": "high", "owner": "femi"},
			Identity:   adminIdentity(),
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.commitCount())
	assert.Zero(t, backend.rollbackCount())
	assert.NotNil(t, backend.find("task", "t6"))
}

func TestTransactRollsBackOnError(t *testing.T) {
	engine, backend, _ := newTestEngine(t, taskPolicy())
	ctx := context.Background()

	boom := errors.New("boom")
	err := engine.Transact(ctx, "fake", func(s *Session) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, backend.commitCount())
	assert.Equal(t, 1, backend.rollbackCount())
}

func TestTransactRollsBackOnPanic(t *testing.T) {
	engine, backend, _ := newTestEngine(t, taskPolicy())
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = engine.Transact(ctx, "fake", func(s *Session) error {
			panic("midway")
		})
	})
	assert.Zero(t, backend.commitCount())
	assert.Equal(t, 1, backend.rollbackCount())
}

func TestBeginRefusedWithoutTransactionSupport(t *testing.T) {
	engine, backend, _ := newTestEngine(t, taskPolicy())
	backend.caps.Transactions = false

	_, err := engine.Begin(context.Background(), "fake")
	var unsupported *driver.UnsupportedOperationError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, driver.FeatureTransactions, unsupported.Feature)
}
