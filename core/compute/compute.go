// Package compute evaluates computed field expressions. Expressions are
// JavaScript, compiled once and run against pooled interpreter instances so
// that concurrent query pipelines never share a runtime.
package compute

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dop251/goja"

	"github.com/asaidimu/go-daraja/core/schema"
	"go.uber.org/zap"
)

// Engine compiles and evaluates computed field expressions. Compiled programs
// are cached by source; runtimes are pooled because a goja runtime is not
// safe for concurrent use.
type Engine struct {
	logger *zap.Logger

	vms sync.Pool

	mu       sync.RWMutex
	programs map[string]*goja.Program
}

// NewEngine creates an expression engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:   logger,
		vms:      sync.Pool{New: func() any { return goja.New() }},
		programs: make(map[string]*goja.Program),
	}
}

// compile returns the cached program for an expression, wrapping the source
// in a function over its dependencies. The expression must be a single
// JavaScript expression; its value becomes the field value.
func (e *Engine) compile(name, source string, dependsOn []string) (*goja.Program, error) {
	key := source + "\x00" + strings.Join(dependsOn, ",")
	e.mu.RLock()
	program, ok := e.programs[key]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	wrapped := fmt.Sprintf("(function(%s) { return (%s); })", strings.Join(dependsOn, ", "), source)
	program, err := goja.Compile(name, wrapped, true)
	if err != nil {
		return nil, errors.Wrapf(err, "compiling computed field %q", name)
	}

	e.mu.Lock()
	e.programs[key] = program
	e.mu.Unlock()
	e.logger.Debug("compiled expression", zap.String("field", name))
	return program, nil
}

// Evaluate runs an expression against one document. Dependencies are passed
// by name in declaration order; absent dependencies arrive as null.
func (e *Engine) Evaluate(name, source string, dependsOn []string, doc schema.Document) (any, error) {
	program, err := e.compile(name, source, dependsOn)
	if err != nil {
		return nil, err
	}

	vm := e.vms.Get().(*goja.Runtime)
	defer e.vms.Put(vm)

	fnValue, err := vm.RunProgram(program)
	if err != nil {
		return nil, errors.Wrapf(err, "loading computed field %q", name)
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, errors.Newf("computed field %q did not compile to a function", name)
	}

	args := make([]goja.Value, len(dependsOn))
	for i, dep := range dependsOn {
		value, present := doc[dep]
		if !present || value == nil {
			args[i] = goja.Null()
			continue
		}
		args[i] = vm.ToValue(value)
	}

	result, err := fn(goja.Undefined(), args...)
	if err != nil {
		return nil, errors.Wrapf(err, "evaluating computed field %q", name)
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}
	return result.Export(), nil
}

// ComputeDocument returns a copy of doc with every computed field of obj
// filled in. Stored fields are never overwritten by expressions.
func (e *Engine) ComputeDocument(obj *schema.Object, doc schema.Document) (schema.Document, error) {
	out := make(schema.Document, len(doc))
	for name, value := range doc {
		out[name] = value
	}
	for _, name := range obj.FieldNames() {
		field := obj.Fields[name]
		if !field.IsComputed() {
			continue
		}
		value, err := e.Evaluate(name, field.Computed.Expression, field.Computed.DependsOn, doc)
		if err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, nil
}
