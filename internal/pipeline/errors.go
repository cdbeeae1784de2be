package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ConfigError is a problem found before any input is processed.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config: %s: %v", e.Field, e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// LineError locates a failed record within its file.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }
func (e *LineError) Unwrap() error { return e.Err }

// FileError is the failure of one input file.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }
func (e *FileError) Unwrap() error { return e.Err }

type Decision uint8

const (
	Continue Decision = iota
	Abort
)

func (d Decision) String() string {
	if d == Abort {
		return "abort"
	}
	return "continue"
}

// Policy is the skip-or-abort rule applied to record and file failures alike.
type Policy struct {
	SkipErrors bool
}

// Decide maps a failure to what happens next. Configuration errors and
// cancellation always abort.
func (p Policy) Decide(err error) Decision {
	if err == nil {
		return Continue
	}
	var ce *ConfigError
	if errors.As(err, &ce) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Abort
	}
	if p.SkipErrors {
		return Continue
	}
	return Abort
}
