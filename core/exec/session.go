package exec

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/asaidimu/go-daraja/core/driver"
)

// Session scopes queries and commands to one backend transaction. A
// session is not safe for concurrent use; it mirrors the transaction
// handle it wraps, which admits one terminal outcome.
type Session struct {
	engine  *Engine
	rt      *backendRuntime
	tx      *driver.Transaction
	started time.Time
}

// Begin opens a transaction on the named backend and returns a session
// bound to it. Backends without transaction support refuse here, before
// any work happens.
func (e *Engine) Begin(ctx context.Context, backend string) (*Session, error) {
	rt, err := e.runtime(backend)
	if err != nil {
		return nil, err
	}
	tx, err := rt.driver.Begin(ctx)
	if err != nil {
		return nil, err
	}
	s := &Session{engine: e, rt: rt, tx: tx, started: time.Now()}
	e.emit(Event{
		Type:        SessionBegin,
		Operation:   "begin",
		Backend:     rt.name,
		Correlation: tx.ID().String(),
		Timestamp:   s.started,
	})
	return s, nil
}

// Transact runs fn inside a transaction on the named backend, committing
// when fn returns nil and rolling back otherwise. A panic in fn rolls
// back and re-panics.
func (e *Engine) Transact(ctx context.Context, backend string, fn func(s *Session) error) error {
	s, err := e.Begin(ctx, backend)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			if rbErr := s.Rollback(ctx); rbErr != nil {
				e.logger.Warn("rollback after panic failed",
					zap.String("backend", s.rt.name),
					zap.Error(rbErr))
			}
			panic(r)
		}
	}()
	if err := fn(s); err != nil {
		if rbErr := s.Rollback(ctx); rbErr != nil {
			return errors.CombineErrors(err, errors.Wrap(rbErr, "rollback"))
		}
		return err
	}
	return s.Commit(ctx)
}

// Transaction exposes the underlying handle, mostly for inspection.
func (s *Session) Transaction() *driver.Transaction {
	return s.tx
}

// Backend returns the name of the backend the session runs on.
func (s *Session) Backend() string {
	return s.rt.name
}

// Query runs one read inside the session's transaction. The request's
// Backend field, if set, must match the session's backend.
func (s *Session) Query(ctx context.Context, req *Request) (*Result, error) {
	scoped, err := s.scope(req.Backend)
	if err != nil {
		return nil, err
	}
	r := *req
	r.Backend = scoped
	return s.engine.runQuery(ctx, &r, s.tx)
}

// Execute runs one mutation inside the session's transaction.
func (s *Session) Execute(ctx context.Context, req *CommandRequest) (*driver.CommandResult, error) {
	scoped, err := s.scope(req.Backend)
	if err != nil {
		return nil, err
	}
	r := *req
	r.Backend = scoped
	return s.engine.runCommand(ctx, &r, s.tx)
}

// Commit finishes the transaction. The handle is terminal afterwards
// whether or not the backend commit succeeded.
func (s *Session) Commit(ctx context.Context) error {
	err := s.rt.driver.Commit(ctx, s.tx)
	s.engine.emit(Event{
		Type:        SessionCommit,
		Operation:   "commit",
		Backend:     s.rt.name,
		Correlation: s.tx.ID().String(),
		Duration:    time.Since(s.started),
		Error:       failure(err),
	})
	return err
}

// Rollback abandons the transaction.
func (s *Session) Rollback(ctx context.Context) error {
	err := s.rt.driver.Rollback(ctx, s.tx)
	s.engine.emit(Event{
		Type:        SessionRollback,
		Operation:   "rollback",
		Backend:     s.rt.name,
		Correlation: s.tx.ID().String(),
		Duration:    time.Since(s.started),
		Error:       failure(err),
	})
	return err
}

func (s *Session) scope(requested string) (string, error) {
	if requested != "" && requested != s.rt.name {
		return "", errors.Newf("session runs on %q, request targets %q", s.rt.name, requested)
	}
	return s.rt.name, nil
}
