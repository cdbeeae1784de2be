package watch

import (
	"cmp"
	"slices"
	"sync"
)

// queue is an unbounded FIFO of paths. A path already waiting is not queued
// twice; it keeps its original position. ready holds a token whenever the
// queue is non-empty.
type queue struct {
	mu      sync.Mutex
	items   []string
	pending map[string]bool
	ready   chan struct{}
}

func newQueue() *queue {
	return &queue{pending: map[string]bool{}, ready: make(chan struct{}, 1)}
}

func (q *queue) push(path string) {
	q.mu.Lock()
	if !q.pending[path] {
		q.pending[path] = true
		q.items = append(q.items, path)
	}
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	p := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	delete(q.pending, p)
	return p, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func sortEvents(evs []Event) {
	slices.SortFunc(evs, func(a, b Event) int { return cmp.Compare(a.Path, b.Path) })
}
