// Package script binds the Starlark interpreter as the transformation
// language. A script is a Starlark module that defines transform(event),
// where event is a dict holding the raw line under "message" and returns
// a dict shaped like an OCSF record.
package script

import (
	"context"
	"errors"
	"fmt"

	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"perceptlog/internal/logging"
)

// EntryPoint is the function every script must define.
const EntryPoint = "transform"

type Options struct {
	// MaxSteps bounds the work of a single execution; 0 means unlimited.
	MaxSteps uint64
}

// Program is a compiled script. It is immutable and safe for concurrent Execute.
type Program struct {
	name     string
	fn       starlark.Callable
	maxSteps uint64
}

type CompileError struct {
	Name string
	Msg  string
}

func (e *CompileError) Error() string { return fmt.Sprintf("compile %s: %s", e.Name, e.Msg) }

type ExecutionError struct {
	Msg       string
	Backtrace string
}

func (e *ExecutionError) Error() string { return e.Msg }

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"json":        starlarkjson.Module,
		"time":        starlarktime.Module,
		"math":        starlarkmath.Module,
		"parse_regex": starlark.NewBuiltin("parse_regex", parseRegex),
		"parse_kv":    starlark.NewBuiltin("parse_kv", parseKV),
	}
}

// Compile executes the module body once and resolves its transform function.
func Compile(name, source string, opts Options) (*Program, error) {
	thread := &starlark.Thread{Name: "compile:" + name, Print: printer}
	globals, err := starlark.ExecFileOptions(fileOptions, thread, name, source, predeclared())
	if err != nil {
		return nil, &CompileError{Name: name, Msg: diagnostic(err)}
	}
	v, ok := globals[EntryPoint]
	if !ok {
		return nil, &CompileError{Name: name, Msg: fmt.Sprintf("script does not define %s(event)", EntryPoint)}
	}
	fn, ok := v.(starlark.Callable)
	if !ok {
		return nil, &CompileError{Name: name, Msg: fmt.Sprintf("%s is a %s, not a function", EntryPoint, v.Type())}
	}
	globals.Freeze()
	return &Program{name: name, fn: fn, maxSteps: opts.MaxSteps}, nil
}

func (p *Program) Name() string { return p.name }

// Execute calls transform(value) on a fresh thread.
func (p *Program) Execute(ctx context.Context, value starlark.Value) (starlark.Value, error) {
	thread := &starlark.Thread{Name: p.name, Print: printer}
	if p.maxSteps > 0 {
		thread.SetMaxExecutionSteps(p.maxSteps)
	}
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() { thread.Cancel(context.Cause(ctx).Error()) })
		defer stop()
	}
	out, err := starlark.Call(thread, p.fn, starlark.Tuple{value}, nil)
	if err != nil {
		xe := &ExecutionError{Msg: err.Error()}
		var ee *starlark.EvalError
		if errors.As(err, &ee) {
			xe.Msg = ee.Msg
			xe.Backtrace = ee.Backtrace()
		}
		return nil, xe
	}
	return out, nil
}

func diagnostic(err error) string {
	var ee *starlark.EvalError
	if errors.As(err, &ee) {
		return ee.Backtrace()
	}
	return err.Error()
}

func printer(t *starlark.Thread, msg string) {
	logging.L().Debug("script print", "script", t.Name, "msg", msg)
}
