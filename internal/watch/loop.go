package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"perceptlog/internal/logging"
	"perceptlog/internal/pipeline"
	"perceptlog/source/logfile"
)

type State int32

const (
	Idle State = iota
	Processing
)

func (s State) String() string {
	if s == Processing {
		return "processing"
	}
	return "idle"
}

type Options struct {
	Input string
	// Output is never treated as input, so a sink writing under the watched
	// tree does not feed itself.
	Output string
	Script string
	// HotReload re-reads Script when it changes or TriggerReload is called.
	HotReload bool
	// Append remembers how far each file was read and only transforms the
	// lines added since. It expects an append-mode sink.
	Append bool
	// Filter decides which paths are inputs; nil uses DefaultWatchPatterns.
	Filter *logfile.Filter
}

type offset struct {
	line int
	size int64
}

// Loop serializes file work: one file is processed at a time and changes
// arriving meanwhile wait in arrival order.
type Loop struct {
	proc  *pipeline.Processor
	n     Notifier
	opts  Options
	queue *queue

	state  atomic.Int32
	reload chan struct{}

	// owned by the Run goroutine
	offsets map[string]offset

	processed atomic.Int64
}

func NewLoop(proc *pipeline.Processor, n Notifier, opts Options) (*Loop, error) {
	if opts.Filter == nil {
		f, err := logfile.NewFilter(logfile.DefaultWatchPatterns, nil)
		if err != nil {
			return nil, err
		}
		opts.Filter = f
	}
	for _, p := range []*string{&opts.Input, &opts.Output, &opts.Script} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, err
		}
		*p = abs
	}
	return &Loop{
		proc:    proc,
		n:       n,
		opts:    opts,
		queue:   newQueue(),
		reload:  make(chan struct{}, 1),
		offsets: map[string]offset{},
	}, nil
}

func (l *Loop) State() State { return State(l.state.Load()) }

// Processed counts files handed to the pipeline, failed or not.
func (l *Loop) Processed() int64 { return l.processed.Load() }

// TriggerReload asks the loop to re-read the script. Requests made while one
// is pending collapse into it.
func (l *Loop) TriggerReload() {
	select {
	case l.reload <- struct{}{}:
	default:
	}
}

// Run watches until ctx ends. A file being processed when ctx ends is
// finished before Run returns. The notifier is closed on return.
func (l *Loop) Run(ctx context.Context) error {
	defer l.n.Close()
	if err := l.n.Add(l.opts.Input); err != nil {
		return err
	}
	if l.opts.HotReload && l.opts.Script != "" {
		if err := l.n.Add(l.opts.Script); err != nil {
			return err
		}
	}

	log := logging.L()
	log.Info("watching", "input", l.opts.Input, "output", l.opts.Output,
		"hot_reload", l.opts.HotReload, "append", l.opts.Append)

	go l.pump(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("watch stopped", "queued", l.queue.len())
			return nil
		case <-l.reload:
			l.reloadScript()
		case <-l.queue.ready:
			l.drain(ctx)
		}
	}
}

func (l *Loop) drain(ctx context.Context) {
	for ctx.Err() == nil {
		select {
		case <-l.reload:
			l.reloadScript()
		default:
		}
		path, ok := l.queue.pop()
		if !ok {
			return
		}
		l.state.Store(int32(Processing))
		l.process(context.WithoutCancel(ctx), path)
		l.state.Store(int32(Idle))
	}
}

func (l *Loop) process(ctx context.Context, path string) {
	log := logging.L()
	after := 0
	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	if l.opts.Append {
		if off, ok := l.offsets[path]; ok {
			if size >= off.size {
				after = off.line
			} else {
				log.Info("file shrank; reading from start", "path", path)
			}
		}
	}

	o, err := l.proc.ProcessFileFrom(ctx, path, after)
	l.processed.Add(1)
	if err != nil {
		log.Error("watch: file failed", "path", path, "err", err)
		return
	}
	if l.opts.Append {
		l.offsets[path] = offset{line: o.LastLine, size: size}
	}
}

func (l *Loop) reloadScript() {
	if l.opts.Script == "" {
		return
	}
	// Failures are logged by the handle; the old program keeps running.
	if err := l.proc.Engine().ReloadFile(l.opts.Script); err != nil {
		logging.L().Warn("hot reload rejected", "script", l.opts.Script, "err", err)
	}
}

// pump moves notifier events into the queue so the notifier never blocks on
// a file being processed.
func (l *Loop) pump(ctx context.Context) {
	log := logging.L()
	errs := l.n.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn("watch error", "err", err)
		case ev, ok := <-l.n.Events():
			if !ok {
				return
			}
			l.handle(ev)
		}
	}
}

func (l *Loop) handle(ev Event) {
	log := logging.L()
	path, err := filepath.Abs(ev.Path)
	if err != nil {
		return
	}
	if path == l.opts.Script {
		if l.opts.HotReload && ev.Op != Remove {
			l.TriggerReload()
		}
		return
	}
	if l.underOutput(path) {
		return
	}
	if ev.Op == Remove {
		log.Info("file removed", "path", path)
		return
	}
	if !l.opts.Filter.Match(path) {
		return
	}
	if fi, err := os.Stat(path); err != nil || !fi.Mode().IsRegular() {
		return
	}
	log.Debug("file changed", "path", path, "op", ev.Op)
	l.queue.push(path)
}

func (l *Loop) underOutput(path string) bool {
	if l.opts.Output == "" {
		return false
	}
	rel, err := filepath.Rel(l.opts.Output, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
