// Package stdout writes each committed stream to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"perceptlog/internal/ocsf"
	"perceptlog/internal/output"
	"perceptlog/sink"
)

/* ────────── public config ────────── */
type Config struct {
	Format output.Format
	Pretty bool
	Writer io.Writer // defaults to os.Stdout
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config
	ack sink.EmitFn

	mu sync.Mutex // one committed stream at a time on the writer
}

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	if c.Format == "" {
		c.Format = output.NDJSON
	}
	if c.Writer == nil {
		c.Writer = os.Stdout
	}
	d.cfg = c
	return nil
}

func (d *driver) Open(_ context.Context, name string) (sink.Stream, error) {
	return &stream{d: d, name: name, ser: output.NewSerializer(d.cfg.Format, d.cfg.Pretty)}, nil
}

func (d *driver) Close() error { return nil }

/* ────────── sink.AckAware ────────── */
func (d *driver) BindAck(fn sink.EmitFn) { d.ack = fn }

type stream struct {
	d    *driver
	name string
	ser  *output.Serializer
	done bool
}

func (s *stream) Location() string { return "stdout" }

func (s *stream) Append(ev *ocsf.Event) error { return s.ser.Append(ev) }

func (s *stream) Commit() error {
	if s.done {
		return nil
	}
	s.done = true

	payload := s.ser.Finalize()
	if s.d.cfg.Format.IsArray() {
		payload += "\n"
	}
	s.d.mu.Lock()
	_, err := io.WriteString(s.d.cfg.Writer, payload)
	s.d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("stdout-sink: %w", err)
	}
	if s.d.ack != nil {
		s.d.ack(sink.Receipt{Location: "stdout:" + s.name, Records: s.ser.Len()})
	}
	return nil
}

func (s *stream) Abort() error {
	s.done = true
	s.ser.Reset()
	return nil
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
