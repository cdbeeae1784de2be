// Package watch re-runs the pipeline for log files as they change on disk.
package watch

import (
	"fmt"
	"time"
)

type Op uint8

const (
	Create Op = iota + 1
	Write
	Remove
)

func (o Op) String() string {
	switch o {
	case Create:
		return "create"
	case Write:
		return "write"
	case Remove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event is one change to a path under a watched root.
type Event struct {
	Path string
	Op   Op
}

// Notifier reports file changes. Events is closed after Close.
type Notifier interface {
	// Add watches a file or a directory.
	Add(path string) error
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

const (
	ModeNotify = "notify"
	ModePoll   = "poll"
)

// NewNotifier returns the notifier for mode. interval only applies to poll.
func NewNotifier(mode string, interval time.Duration, recursive bool) (Notifier, error) {
	switch mode {
	case "", ModeNotify:
		return NewFSNotifier(recursive)
	case ModePoll:
		return NewPollNotifier(interval, recursive), nil
	default:
		return nil, fmt.Errorf("watch: unknown mode %q", mode)
	}
}
