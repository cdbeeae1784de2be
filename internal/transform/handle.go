package transform

import (
	"context"
	"sync"

	"go.starlark.net/starlark"

	"perceptlog/internal/logging"
	"perceptlog/internal/script"
	"perceptlog/internal/telemetry"
)

// Handle holds the currently installed program. Executions snapshot the
// program under the read lock; Reload compiles outside every lock and takes
// the write lock only for the swap.
type Handle struct {
	name string
	opts script.Options

	reloadMu sync.Mutex // serializes reloads so the last compile wins in call order

	mu   sync.RWMutex
	prog *script.Program
	gen  uint64
}

func NewHandle(name, source string, opts script.Options) (*Handle, error) {
	p, err := script.Compile(name, source, opts)
	if err != nil {
		return nil, &Error{Kind: KindCompile, Err: err}
	}
	return &Handle{name: name, opts: opts, prog: p, gen: 1}, nil
}

func (h *Handle) current() (*script.Program, uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.prog, h.gen
}

// Generation increases by one on every successful reload, starting at 1.
func (h *Handle) Generation() uint64 {
	_, g := h.current()
	return g
}

func (h *Handle) Execute(ctx context.Context, in InputRecord) (starlark.Value, error) {
	p, _ := h.current()
	out, err := p.Execute(ctx, ToNative(in))
	if err != nil {
		return nil, &Error{Kind: KindExecution, Err: err}
	}
	return out, nil
}

// Reload installs a new program. On failure the previous program stays active.
func (h *Handle) Reload(source string) error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	p, err := script.Compile(h.name, source, h.opts)
	telemetry.Reloads.WithLabelValues(telemetry.Result(err)).Inc()
	if err != nil {
		logging.L().Error("script reload failed; keeping previous program", "script", h.name, "err", err)
		return &Error{Kind: KindCompile, Err: err}
	}

	h.mu.Lock()
	h.prog = p
	h.gen++
	gen := h.gen
	h.mu.Unlock()

	logging.L().Info("script reloaded", "script", h.name, "generation", gen)
	return nil
}
