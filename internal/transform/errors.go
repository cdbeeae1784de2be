package transform

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindIO Kind = iota + 1
	KindCompile
	KindExecution
	KindSchema
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindCompile:
		return "compile"
	case KindExecution:
		return "execution"
	case KindSchema:
		return "schema"
	default:
		return "unknown"
	}
}

// Error is the failure of one transformation stage.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s error: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func schemaErrorf(format string, args ...any) error {
	return &Error{Kind: KindSchema, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the stage an error came from, or 0 for foreign errors.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}
