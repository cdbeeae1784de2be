package watch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const DefaultPollInterval = 5 * time.Second

type fileState struct {
	size    int64
	modTime time.Time
}

// PollNotifier compares size and modification time of every file under its
// roots once per interval. It works where native notifications do not, such
// as network mounts.
type PollNotifier struct {
	interval  time.Duration
	recursive bool

	events chan Event
	errors chan error
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	roots []string
	seen  map[string]fileState
}

func NewPollNotifier(interval time.Duration, recursive bool) *PollNotifier {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p := &PollNotifier{
		interval:  interval,
		recursive: recursive,
		events:    make(chan Event, 64),
		errors:    make(chan error, 8),
		done:      make(chan struct{}),
		seen:      map[string]fileState{},
	}
	go p.run()
	return p
}

func (p *PollNotifier) Events() <-chan Event { return p.events }
func (p *PollNotifier) Errors() <-chan error { return p.errors }

// Add records the current state of path as the baseline; only later
// changes are reported.
func (p *PollNotifier) Add(path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roots = append(p.roots, path)
	for f, st := range p.snapshot(path) {
		p.seen[f] = st
	}
	return nil
}

func (p *PollNotifier) run() {
	defer close(p.events)
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-t.C:
			for _, ev := range p.scan() {
				select {
				case p.events <- ev:
				case <-p.done:
					return
				}
			}
		}
	}
}

// scan diffs the roots against the previous pass. Events are ordered
// creates and writes by path, then removes.
func (p *PollNotifier) scan() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := map[string]fileState{}
	for _, r := range p.roots {
		for f, st := range p.snapshot(r) {
			now[f] = st
		}
	}

	var changed, removed []Event
	for f, st := range now {
		prev, ok := p.seen[f]
		switch {
		case !ok:
			changed = append(changed, Event{Path: f, Op: Create})
		case prev.size != st.size || !prev.modTime.Equal(st.modTime):
			changed = append(changed, Event{Path: f, Op: Write})
		}
	}
	for f := range p.seen {
		if _, ok := now[f]; !ok {
			removed = append(removed, Event{Path: f, Op: Remove})
		}
	}
	p.seen = now
	sortEvents(changed)
	sortEvents(removed)
	return append(changed, removed...)
}

// snapshot must be called with mu held.
func (p *PollNotifier) snapshot(root string) map[string]fileState {
	out := map[string]fileState{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != root && !p.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		out[path] = fileState{size: fi.Size(), modTime: fi.ModTime()}
		return nil
	})
	if err != nil {
		select {
		case p.errors <- err:
		default:
		}
	}
	return out
}

func (p *PollNotifier) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
