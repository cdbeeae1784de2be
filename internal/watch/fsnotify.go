package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FSNotifier is backed by the platform's native notification API. Files are
// watched through their parent directory; new subdirectories of a recursive
// root are registered as they appear.
type FSNotifier struct {
	w         *fsnotify.Watcher
	recursive bool

	events chan Event
	errors chan error
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	dirs  map[string]bool // every directory whose entries are reported
	files map[string]bool // single files added directly
}

func NewFSNotifier(recursive bool) (*FSNotifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	n := &FSNotifier{
		w:         w,
		recursive: recursive,
		events:    make(chan Event, 64),
		errors:    make(chan error, 8),
		done:      make(chan struct{}),
		dirs:      map[string]bool{},
		files:     map[string]bool{},
	}
	go n.run()
	return n, nil
}

func (n *FSNotifier) Events() <-chan Event { return n.events }
func (n *FSNotifier) Errors() <-chan error { return n.errors }

func (n *FSNotifier) Add(path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return n.addDir(path)
	}
	if err := n.w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	n.mu.Lock()
	n.files[path] = true
	n.mu.Unlock()
	return nil
}

func (n *FSNotifier) addDir(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && !n.recursive {
			return filepath.SkipDir
		}
		if err := n.w.Add(p); err != nil {
			return err
		}
		n.mu.Lock()
		n.dirs[p] = true
		n.mu.Unlock()
		return nil
	})
}

func (n *FSNotifier) wanted(path string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.files[path] || n.dirs[filepath.Dir(path)]
}

func (n *FSNotifier) run() {
	defer close(n.events)
	for {
		select {
		case ev, ok := <-n.w.Events:
			if !ok {
				return
			}
			n.translate(ev)
		case err, ok := <-n.w.Errors:
			if !ok {
				return
			}
			n.report(err)
		}
	}
}

// report drops errors nobody is reading.
func (n *FSNotifier) report(err error) {
	select {
	case n.errors <- err:
	default:
	}
}

func (n *FSNotifier) translate(ev fsnotify.Event) {
	if !n.wanted(ev.Name) {
		return
	}
	var op Op
	switch {
	case ev.Has(fsnotify.Create):
		op = Create
		if n.recursive {
			if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
				if err := n.addDir(ev.Name); err != nil {
					n.report(err)
				}
				return
			}
		}
	case ev.Has(fsnotify.Write):
		op = Write
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		op = Remove
		n.mu.Lock()
		delete(n.dirs, ev.Name)
		n.mu.Unlock()
	default:
		return
	}
	select {
	case n.events <- Event{Path: ev.Name, Op: op}:
	case <-n.done:
	}
}

func (n *FSNotifier) Close() error {
	var err error
	n.once.Do(func() {
		close(n.done)
		err = n.w.Close()
	})
	return err
}
