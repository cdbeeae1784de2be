// Package sink defines where transformed events go. An Adapter opens one
// Stream per input file; a Stream's records become visible only on Commit.
package sink

import (
	"context"
	"fmt"
	"sort"

	"perceptlog/internal/ocsf"
)

// Receipt describes a committed stream.
type Receipt struct {
	Location string
	Records  int
}

// EmitFn is what a sink calls once a stream has been durably written.
type EmitFn func(Receipt)

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(any) error // driver-specific config struct
	Open(ctx context.Context, name string) (Stream, error)
	Close() error // idempotent
}

// Stream receives the events produced from one input. Exactly one of Commit
// and Abort ends it.
type Stream interface {
	Append(*ocsf.Event) error
	Commit() error
	Abort() error
	Location() string
}

// AckAware is optional; sinks that report commits implement it and the
// pipeline binds the callback when present.
type AckAware interface {
	BindAck(EmitFn)
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}

// Names lists the registered sinks.
func Names() []string {
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
