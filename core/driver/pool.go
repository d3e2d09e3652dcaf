package driver

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultAcquireTimeout bounds how long an execution waits for a pool slot.
const DefaultAcquireTimeout = 5 * time.Second

// Pool bounds concurrent executions against one backend. Acquire blocks
// until a slot frees, the context is done, or the bounded wait elapses;
// exhaustion surfaces as a ResourcePoolTimeoutError instead of unbounded
// queueing.
type Pool struct {
	name           string
	slots          chan struct{}
	acquireTimeout time.Duration
	logger         *zap.Logger
}

// NewPool creates a pool named name with size execution slots. A zero or
// negative acquireTimeout falls back to DefaultAcquireTimeout.
func NewPool(name string, size int, acquireTimeout time.Duration, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		name:           name,
		slots:          make(chan struct{}, size),
		acquireTimeout: acquireTimeout,
		logger:         logger,
	}
}

// Acquire claims an execution slot and returns its release function. The
// release function is idempotent.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	select {
	case p.slots <- struct{}{}:
		return p.releaseFunc(), nil
	default:
	}

	p.logger.Debug("pool saturated, waiting", zap.String("pool", p.name))
	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()
	select {
	case p.slots <- struct{}{}:
		return p.releaseFunc(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, &ResourcePoolTimeoutError{Pool: p.name, Timeout: p.acquireTimeout}
	}
}

func (p *Pool) releaseFunc() func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-p.slots
	}
}

// InUse returns the number of claimed slots.
func (p *Pool) InUse() int {
	return len(p.slots)
}

// Size returns the pool capacity.
func (p *Pool) Size() int {
	return cap(p.slots)
}
