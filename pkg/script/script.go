// Package script runs user-supplied JavaScript transforms in a sandboxed
// goja runtime. A script receives the input records as plain objects and
// returns the result record, letting processing pipelines be assembled
// without recompiling.
package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/geowave/Strata/pkg/dataset"
	strataerr "github.com/geowave/Strata/pkg/errors"
	"github.com/geowave/Strata/pkg/processor"
)

// Config holds configuration for a script transform
type Config struct {
	// Source is the JavaScript body. It must define a function named
	// `transform(inputs)` taking the array of input records and returning
	// the result record, or null to skip the task.
	Source string

	// Timeout bounds a single invocation. Zero means DefaultTimeout.
	Timeout time.Duration
}

// DefaultTimeout bounds script execution when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Runner owns a sandboxed VM executing one compiled transform script.
// A Runner serializes its calls; each worker should own its own Runner.
type Runner struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	call    goja.Callable
	timeout time.Duration
}

// dangerous globals removed before any user code runs
var blockedGlobals = []string{
	"require",
	"module",
	"exports",
	"process",
	"global",
	"__dirname",
	"__filename",
	"Buffer",
	"setImmediate",
	"clearImmediate",
}

// New compiles the script and prepares the sandboxed runtime.
func New(config Config) (*Runner, error) {
	if config.Source == "" {
		return nil, errors.New("script source cannot be empty")
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	for _, name := range blockedGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return nil, fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	if _, err := vm.RunString(config.Source); err != nil {
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return nil, fmt.Errorf("script error: %s", exc.Value().String())
		}
		return nil, fmt.Errorf("script error: %w", err)
	}

	call, ok := goja.AssertFunction(vm.Get("transform"))
	if !ok {
		return nil, errors.New("script must define a function named transform")
	}

	return &Runner{vm: vm, call: call, timeout: timeout}, nil
}

// Transform adapts the script into a processing transform. Accessor inputs
// are not supported; the script sees raw record payloads only.
func (r *Runner) Transform() processor.Transform {
	return func(ctx context.Context, args []processor.Argument) (*processor.Result, error) {
		return r.run(ctx, args)
	}
}

func (r *Runner) run(ctx context.Context, args []processor.Argument) (*processor.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inputs := make([]any, len(args))
	for i, arg := range args {
		if arg.Accessor != nil {
			return nil, fmt.Errorf("%w: script transforms take raw payloads only", strataerr.ErrTransform)
		}
		switch {
		case arg.Stream != nil:
			inputs[i] = arg.Stream
		case arg.Trace != nil:
			inputs[i] = arg.Trace
		default:
			inputs[i] = arg.Auxiliary
		}
	}

	timer := time.AfterFunc(r.timeout, func() {
		r.vm.Interrupt("execution timeout")
	})
	stop := context.AfterFunc(ctx, func() {
		r.vm.Interrupt("cancelled")
	})
	value, err := r.call(goja.Undefined(), r.vm.ToValue(inputs))
	timer.Stop()
	stop()
	// a timer racing the return must not poison the next call
	r.vm.ClearInterrupt()

	if err != nil {
		var ierr *goja.InterruptedError
		if errors.As(err, &ierr) {
			return nil, fmt.Errorf("%w: script interrupted: %v", strataerr.ErrTransform, ierr.Value())
		}
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return nil, fmt.Errorf("%w: %s", strataerr.ErrTransform, exc.Value().String())
		}
		return nil, fmt.Errorf("%w: %v", strataerr.ErrTransform, err)
	}

	if value == nil || goja.IsNull(value) || goja.IsUndefined(value) {
		return nil, nil
	}

	var aux dataset.Auxiliary
	if err := r.vm.ExportTo(value, &aux); err != nil {
		return nil, fmt.Errorf("%w: script result is not a record: %v", strataerr.ErrTransform, err)
	}
	return &processor.Result{Auxiliary: &aux}, nil
}

// Compile checks a script for syntax errors without executing it.
func Compile(source string) error {
	_, err := goja.Compile("transform.js", source, false)
	if err != nil {
		return fmt.Errorf("script error: %w", err)
	}
	return nil
}
