package transform

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"perceptlog/internal/ocsf"
	"perceptlog/internal/script"
	"perceptlog/internal/telemetry"
)

// Line is one raw input line and its 1-based position in the source. Meta,
// when set, is passed to the script alongside the message.
type Line struct {
	No   int
	Text string
	Meta map[string]any
}

// Result is the outcome for one Line. Exactly one of Event and Err is set
// unless Skipped, which marks a blank line.
type Result struct {
	Line    int
	Event   *ocsf.Event
	Err     error
	Skipped bool
}

type Options struct {
	// Workers bounds in-flight transforms for batch and stream calls.
	Workers int
}

type Engine struct {
	handle  *Handle
	workers int
}

func NewEngine(h *Handle, opts Options) *Engine {
	w := opts.Workers
	if w < 1 {
		w = runtime.GOMAXPROCS(0)
	}
	return &Engine{handle: h, workers: w}
}

// LoadEngine reads and compiles the script at path.
func LoadEngine(path string, sopts script.Options, opts Options) (*Engine, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: KindIO, Err: fmt.Errorf("read script: %w", err)}
	}
	h, err := NewHandle(path, string(src), sopts)
	if err != nil {
		return nil, err
	}
	return NewEngine(h, opts), nil
}

// Validate compiles source without installing it anywhere.
func Validate(name, source string) error {
	if _, err := script.Compile(name, source, script.Options{}); err != nil {
		return &Error{Kind: KindCompile, Err: err}
	}
	return nil
}

func (e *Engine) Workers() int { return e.workers }

// Generation reports how many programs the engine has installed.
func (e *Engine) Generation() uint64 { return e.handle.Generation() }

func (e *Engine) Reload(src string) error { return e.handle.Reload(src) }

// ReloadFile re-reads path and installs it. The running program is kept on
// any failure.
func (e *Engine) ReloadFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return &Error{Kind: KindIO, Err: fmt.Errorf("read script: %w", err)}
	}
	return e.handle.Reload(string(src))
}

func (e *Engine) TransformLine(ctx context.Context, line string) (*ocsf.Event, error) {
	return e.TransformEvent(ctx, NewInputRecord(line, nil))
}

func (e *Engine) TransformEvent(ctx context.Context, in InputRecord) (*ocsf.Event, error) {
	start := time.Now()
	ev, err := e.transform(ctx, in)
	telemetry.ObserveRecord(start, err)
	return ev, err
}

func (e *Engine) transform(ctx context.Context, in InputRecord) (*ocsf.Event, error) {
	out, err := e.handle.Execute(ctx, in)
	if err != nil {
		return nil, err
	}
	return FromNative(out)
}

func (e *Engine) transformAt(ctx context.Context, ln Line) Result {
	if strings.TrimSpace(ln.Text) == "" {
		return Result{Line: ln.No, Skipped: true}
	}
	ev, err := e.TransformEvent(ctx, NewInputRecord(ln.Text, ln.Meta))
	return Result{Line: ln.No, Event: ev, Err: err}
}

// TransformBatch returns one Result per element of lines, in order. Line
// numbers are 1-based indexes into lines.
func (e *Engine) TransformBatch(ctx context.Context, lines []string) []Result {
	in := make(chan Line)
	go func() {
		defer close(in)
		for i, l := range lines {
			select {
			case in <- Line{No: i + 1, Text: l}:
			case <-ctx.Done():
				return
			}
		}
	}()

	results := make([]Result, 0, len(lines))
	for r := range e.TransformStream(ctx, in, e.workers) {
		results = append(results, r)
	}
	// Lines never dispatched because ctx ended still get a result.
	for i := len(results); i < len(lines); i++ {
		results = append(results, Result{Line: i + 1, Err: &Error{Kind: KindExecution, Err: context.Cause(ctx)}})
	}
	return results
}

// TransformStream transforms lines from in and emits results in input order.
// At most window lines are buffered awaiting their turn and at most Workers
// transforms run at once. The output channel is closed once in is closed (or
// ctx ends) and every dispatched line has been emitted; callers must drain it.
func (e *Engine) TransformStream(ctx context.Context, in <-chan Line, window int) <-chan Result {
	if window < 1 {
		window = e.workers
	}
	out := make(chan Result, window)
	pending := make(chan chan Result, window)

	go func() {
		defer close(pending)
		var g errgroup.Group
		g.SetLimit(min(window, e.workers))
		defer func() { _ = g.Wait() }()
		for {
			var (
				ln Line
				ok bool
			)
			select {
			case <-ctx.Done():
				return
			case ln, ok = <-in:
				if !ok {
					return
				}
			}
			slot := make(chan Result, 1)
			pending <- slot
			g.Go(func() error {
				slot <- e.transformAt(ctx, ln)
				return nil
			})
		}
	}()

	go func() {
		defer close(out)
		for slot := range pending {
			out <- <-slot
		}
	}()
	return out
}
