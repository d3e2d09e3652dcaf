package driver

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// TxState is the lifecycle state of a transaction handle.
type TxState int32

// Transaction lifecycle states. Committed and rolled back are terminal.
const (
	TxActive TxState = iota
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Transaction is a backend transaction handle. State transitions happen
// exactly once: Active to Committed or Active to RolledBack. Finishing a
// finished handle fails with a TransactionStateError, also under concurrent
// use, so a commit and a rollback racing on one handle resolve to exactly
// one winner.
type Transaction struct {
	id      uuid.UUID
	backend string
	state   atomic.Int32
	native  any
}

// NewTransaction wraps a backend's native transaction value in a handle.
func NewTransaction(backend string, native any) *Transaction {
	return &Transaction{
		id:      uuid.New(),
		backend: backend,
		native:  native,
	}
}

// ID returns the handle's correlation identifier.
func (t *Transaction) ID() uuid.UUID {
	return t.id
}

// Backend returns the name of the backend that opened the transaction.
func (t *Transaction) Backend() string {
	return t.backend
}

// State returns the current lifecycle state.
func (t *Transaction) State() TxState {
	return TxState(t.state.Load())
}

// Native returns the backend's native transaction value.
func (t *Transaction) Native() any {
	return t.native
}

// MarkCommitted moves the handle to its committed terminal state.
func (t *Transaction) MarkCommitted() error {
	return t.finish(TxCommitted)
}

// MarkRolledBack moves the handle to its rolled back terminal state.
func (t *Transaction) MarkRolledBack() error {
	return t.finish(TxRolledBack)
}

func (t *Transaction) finish(to TxState) error {
	if t.state.CompareAndSwap(int32(TxActive), int32(to)) {
		return nil
	}
	return &TransactionStateError{
		ID:        t.id,
		State:     t.State(),
		Attempted: to,
	}
}
