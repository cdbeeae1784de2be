package output

import (
	"errors"
	"io"

	"perceptlog/internal/ocsf"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("output: stream writer closed")

// StreamWriter writes framed records straight to w instead of buffering
// them. Close must be called to terminate a JSON array.
type StreamWriter struct {
	w      io.Writer
	fr     framer
	count  int
	opened bool
	closed bool
}

func NewStreamWriter(w io.Writer, f Format, pretty bool) *StreamWriter {
	return &StreamWriter{w: w, fr: newFramer(f, pretty)}
}

// Continue marks the destination as already holding records, so the next
// Append writes a separator first. Only NDJSON and YAML streams can be
// continued.
func (s *StreamWriter) Continue() {
	s.fr.state = frameHasRecords
	s.opened = true
}

func (s *StreamWriter) Count() int { return s.count }

func (s *StreamWriter) Append(ev *ocsf.Event) error {
	if s.closed {
		return ErrClosed
	}
	b, err := s.fr.frame(ev)
	if err != nil {
		return err
	}
	if !s.opened {
		if _, err := io.WriteString(s.w, s.fr.opening()); err != nil {
			return err
		}
		s.opened = true
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	s.count++
	return nil
}

// Close writes whatever closes the stream. It does not close w. Only the
// first call writes anything.
func (s *StreamWriter) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	tail := s.fr.closing()
	if !s.opened {
		tail = s.fr.opening() + tail
	}
	s.opened = true
	if tail == "" {
		return nil
	}
	_, err := io.WriteString(s.w, tail)
	return err
}
