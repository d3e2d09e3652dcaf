package exec

import (
	"context"

	"github.com/asaidimu/go-daraja/core/driver"
)

// QueryFunc executes one compiled read against a backend.
type QueryFunc func(ctx context.Context, req *driver.ExecuteRequest) (*driver.QueryResult, error)

// CommandFunc executes one mutation against a backend.
type CommandFunc func(ctx context.Context, cmd *driver.Command) (*driver.CommandResult, error)

// Middleware wraps backend execution. Wrappers see requests after
// authorization and plan compilation, so they observe exactly what the
// backend is asked to do. The first middleware registered runs outermost.
type Middleware interface {
	WrapQuery(next QueryFunc) QueryFunc
	WrapCommand(next CommandFunc) CommandFunc
}

func chainQuery(fn QueryFunc, middleware []Middleware) QueryFunc {
	for i := len(middleware) - 1; i >= 0; i-- {
		fn = middleware[i].WrapQuery(fn)
	}
	return fn
}

func chainCommand(fn CommandFunc, middleware []Middleware) CommandFunc {
	for i := len(middleware) - 1; i >= 0; i-- {
		fn = middleware[i].WrapCommand(fn)
	}
	return fn
}
