package driver

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// UnsupportedOperationError reports work a backend declared itself unable to
// do. It is raised before any execution starts.
type UnsupportedOperationError struct {
	Backend string
	Feature Feature
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("backend %q does not support %s", e.Backend, e.Feature)
}

// NewUnsupported builds an UnsupportedOperationError for a backend.
func NewUnsupported(backend string, feature Feature) error {
	return &UnsupportedOperationError{Backend: backend, Feature: feature}
}

// ResourcePoolTimeoutError reports that no execution slot freed up within the
// pool's bounded wait.
type ResourcePoolTimeoutError struct {
	Pool    string
	Timeout time.Duration
}

func (e *ResourcePoolTimeoutError) Error() string {
	return fmt.Sprintf("resource pool %q: no slot available within %s", e.Pool, e.Timeout)
}

// TransactionStateError reports a lifecycle violation: finishing a handle
// that already reached a terminal state, or using a finished handle.
type TransactionStateError struct {
	ID        uuid.UUID
	State     TxState
	Attempted TxState
}

func (e *TransactionStateError) Error() string {
	if e.Attempted == TxActive {
		return fmt.Sprintf("transaction %s is %s, not active", e.ID, e.State)
	}
	return fmt.Sprintf("transaction %s is already %s, cannot become %s", e.ID, e.State, e.Attempted)
}

// BackendError wraps a backend failure. Its message carries the backend
// name, the failed operation and a correlation id, never the raw backend
// text; the cause stays reachable through Unwrap for logging.
type BackendError struct {
	Backend       string
	Operation     string
	CorrelationID uuid.UUID
	cause         error
}

// NewBackendError wraps cause with a fresh correlation id.
func NewBackendError(backend, operation string, cause error) *BackendError {
	return &BackendError{
		Backend:       backend,
		Operation:     operation,
		CorrelationID: uuid.New(),
		cause:         cause,
	}
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %q: %s failed (correlation %s)", e.Backend, e.Operation, e.CorrelationID)
}

// Unwrap exposes the raw backend failure for logs and errors.Is checks.
func (e *BackendError) Unwrap() error {
	return e.cause
}

// ActiveTransaction returns a TransactionStateError unless tx is usable for
// further work.
func ActiveTransaction(tx *Transaction) error {
	if tx == nil {
		return errors.New("nil transaction handle")
	}
	if state := tx.State(); state != TxActive {
		return &TransactionStateError{ID: tx.ID(), State: state, Attempted: TxActive}
	}
	return nil
}
