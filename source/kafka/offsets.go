package kafka

import "sync"

type partition struct {
	topic string
	id    int32
}

// offsets records, per partition, the delivered offsets still waiting for an
// ack. A partition's commit point only advances across a contiguous run of
// acknowledged offsets, so an early ack never skips a slower message.
type offsets struct {
	mu    sync.Mutex
	parts map[partition]*window
}

type window struct {
	pending []int64 // ascending, in delivery order
	acked   map[int64]bool
}

func newOffsets() *offsets {
	return &offsets{parts: map[partition]*window{}}
}

func (o *offsets) track(p partition, off int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.parts[p]
	if !ok {
		w = &window{acked: map[int64]bool{}}
		o.parts[p] = w
	}
	w.pending = append(w.pending, off)
}

// ack returns the next offset to mark for p and whether it moved.
func (o *offsets) ack(p partition, off int64) (int64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.parts[p]
	if !ok || len(w.pending) == 0 || off < w.pending[0] || off > w.pending[len(w.pending)-1] {
		return 0, false
	}
	w.acked[off] = true

	last, moved := int64(-1), false
	for len(w.pending) > 0 && w.acked[w.pending[0]] {
		last = w.pending[0]
		delete(w.acked, last)
		w.pending = w.pending[1:]
		moved = true
	}
	if !moved {
		return 0, false
	}
	return last + 1, true
}

// reset forgets every partition, as after a rebalance, and returns how many
// offsets were still pending.
func (o *offsets) reset() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, w := range o.parts {
		n += len(w.pending)
	}
	o.parts = map[partition]*window{}
	return n
}

func (o *offsets) pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, w := range o.parts {
		n += len(w.pending)
	}
	return n
}
