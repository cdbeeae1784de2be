package output

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"perceptlog/internal/ocsf"
)

type frameState uint8

const (
	frameEmpty frameState = iota
	frameHasRecords
)

// framer renders one record at a time with the separator its position in
// the stream requires.
type framer struct {
	format Format
	pretty bool
	state  frameState
}

func newFramer(f Format, pretty bool) framer {
	return framer{format: f, pretty: pretty || f == JSONPretty}
}

func (f *framer) frame(ev *ocsf.Event) ([]byte, error) {
	var out []byte
	switch f.format {
	case JSON, JSONPretty:
		body, err := f.renderJSON(ev)
		if err != nil {
			return nil, err
		}
		switch {
		case f.state == frameHasRecords && f.pretty:
			out = append(out, ",\n  "...)
		case f.state == frameHasRecords:
			out = append(out, ',')
		case f.pretty:
			out = append(out, "\n  "...)
		}
		out = append(out, body...)
	case NDJSON:
		body, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encode ndjson: %w", err)
		}
		out = append(body, '\n')
	case YAML:
		body, err := renderYAML(ev)
		if err != nil {
			return nil, err
		}
		if f.state == frameHasRecords {
			out = append(out, "---\n"...)
		}
		out = append(out, body...)
	default:
		return nil, fmt.Errorf("unknown output format %q", f.format)
	}
	f.state = frameHasRecords
	return out, nil
}

// renderJSON has no trailing newline. Pretty records are indented one level
// so they line up inside the enclosing array.
func (f *framer) renderJSON(ev *ocsf.Event) ([]byte, error) {
	var (
		b   []byte
		err error
	)
	if f.pretty {
		b, err = json.MarshalIndent(ev, "  ", "  ")
	} else {
		b, err = json.Marshal(ev)
	}
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return b, nil
}

func renderYAML(ev *ocsf.Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(ev); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// opening and closing return the array wrapper for the current state.
func (f *framer) opening() string {
	if !f.format.IsArray() {
		return ""
	}
	return "["
}

func (f *framer) closing() string {
	switch {
	case !f.format.IsArray():
		return ""
	case f.state == frameHasRecords && f.pretty:
		return "\n]"
	default:
		return "]"
	}
}

// Serializer accumulates framed records in memory for one output stream.
type Serializer struct {
	fr    framer
	buf   bytes.Buffer
	count int
}

func NewSerializer(f Format, pretty bool) *Serializer {
	return &Serializer{fr: newFramer(f, pretty)}
}

func (s *Serializer) Format() Format { return s.fr.format }
func (s *Serializer) Len() int { return s.count }

func (s *Serializer) Append(ev *ocsf.Event) error {
	b, err := s.fr.frame(ev)
	if err != nil {
		return err
	}
	s.buf.Write(b)
	s.count++
	return nil
}

// Buffer returns the records appended so far without the array wrapper.
func (s *Serializer) Buffer() string { return s.buf.String() }

// Finalize returns the complete payload. It does not modify the serializer,
// so it may be called any number of times and Append may continue after it.
func (s *Serializer) Finalize() string {
	return s.fr.opening() + s.buf.String() + s.fr.closing()
}

func (s *Serializer) Reset() {
	s.buf.Reset()
	s.count = 0
	s.fr.state = frameEmpty
}

// FormatAll renders events in one call.
func FormatAll(events []*ocsf.Event, f Format, pretty bool) (string, error) {
	s := NewSerializer(f, pretty)
	for _, ev := range events {
		if err := s.Append(ev); err != nil {
			return "", err
		}
	}
	return s.Finalize(), nil
}

// FormatOne renders a single event as a standalone document: a bare object
// for the JSON formats, one line for NDJSON, one document for YAML.
func FormatOne(ev *ocsf.Event, f Format, pretty bool) (string, error) {
	fr := newFramer(f, pretty)
	switch f {
	case JSON, JSONPretty:
		if fr.pretty {
			b, err := json.MarshalIndent(ev, "", "  ")
			if err != nil {
				return "", fmt.Errorf("encode json: %w", err)
			}
			return string(b), nil
		}
		b, err := fr.renderJSON(ev)
		return string(b), err
	default:
		b, err := fr.frame(ev)
		return string(b), err
	}
}

// Validate checks that every event encodes in format f.
func Validate(events []*ocsf.Event, f Format) error {
	fr := newFramer(f, false)
	for i, ev := range events {
		if _, err := fr.frame(ev); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}
