// Package file writes one output file per input stream.
package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"perceptlog/internal/ocsf"
	"perceptlog/internal/output"
	"perceptlog/sink"
)

type Compression string

const (
	CompressNone Compression = "none"
	CompressGzip Compression = "gzip"
	CompressZstd Compression = "zstd"
)

func (c Compression) suffix() string {
	switch c {
	case CompressGzip:
		return ".gz"
	case CompressZstd:
		return ".zst"
	}
	return ""
}

type Config struct {
	Dir         string
	Format      output.Format
	Pretty      bool
	Timestamp   bool        // stamp file names with the UTC time
	Compression Compression // none|gzip|zstd
	Append      bool        // extend existing files; ndjson and yaml only
}

type driver struct {
	cfg Config
	ack sink.EmitFn
}

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("file-sink: expected Config, got %T", raw)
	}
	if c.Dir == "" {
		return errors.New("file-sink: output directory is required")
	}
	if c.Format == "" {
		c.Format = output.NDJSON
	}
	if c.Compression == "" {
		c.Compression = CompressNone
	}
	if c.Append && c.Format.IsArray() {
		return fmt.Errorf("file-sink: append mode cannot extend %s output", c.Format)
	}
	d.cfg = c
	return nil
}

func (d *driver) Open(_ context.Context, name string) (sink.Stream, error) {
	if err := os.MkdirAll(d.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("file-sink: %w", err)
	}
	final := filepath.Join(d.cfg.Dir, output.OutputFilename(name, d.cfg.Format, d.cfg.Timestamp)+d.cfg.Compression.suffix())
	s := &stream{d: d, final: final, appending: d.cfg.Append}

	tmp, err := os.CreateTemp(d.cfg.Dir, "."+filepath.Base(final)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("file-sink: %w", err)
	}
	s.tmp = tmp
	s.bw = bufio.NewWriterSize(tmp, 64*1024)

	if s.appending {
		// The increment stays uncompressed until Commit copies it over.
		s.sw = output.NewStreamWriter(s.bw, d.cfg.Format, d.cfg.Pretty)
		if fi, err := os.Stat(final); err == nil && fi.Size() > 0 {
			s.sw.Continue()
		}
		return s, nil
	}

	var w io.Writer = s.bw
	if s.zw, err = compressor(d.cfg.Compression, s.bw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, err
	}
	if s.zw != nil {
		w = s.zw
	}
	s.sw = output.NewStreamWriter(w, d.cfg.Format, d.cfg.Pretty)
	return s, nil
}

func (d *driver) Close() error { return nil }

/* ────────── sink.AckAware ────────── */
func (d *driver) BindAck(fn sink.EmitFn) { d.ack = fn }

func compressor(c Compression, w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CompressGzip:
		return gzip.NewWriter(w), nil
	case CompressZstd:
		return zstd.NewWriter(w)
	case CompressNone, "":
		return nil, nil
	}
	return nil, fmt.Errorf("file-sink: unknown compression %q", c)
}

/* ────────── stream ────────── */

type stream struct {
	d     *driver
	final string

	// whole-file mode: tmp <- bw <- zw <- sw, renamed over final on Commit.
	// append mode: tmp <- bw <- sw, copied onto the end of final on Commit.
	tmp       *os.File
	bw        *bufio.Writer
	zw        io.WriteCloser
	appending bool

	sw   *output.StreamWriter
	done bool
}

func (s *stream) Location() string { return s.final }

func (s *stream) Append(ev *ocsf.Event) error {
	if s.done {
		return errors.New("file-sink: append after stream end")
	}
	return s.sw.Append(ev)
}

func (s *stream) Commit() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.sw.Close(); err != nil {
		s.discard()
		return err
	}
	var err error
	if s.appending {
		err = s.appendTemp()
	} else {
		err = s.renameTemp()
	}
	if err != nil {
		return fmt.Errorf("file-sink: commit %s: %w", s.final, err)
	}
	if s.d.ack != nil {
		s.d.ack(sink.Receipt{Location: s.final, Records: s.sw.Count()})
	}
	return nil
}

func (s *stream) renameTemp() error {
	if s.zw != nil {
		if err := s.zw.Close(); err != nil {
			s.discard()
			return err
		}
	}
	if err := s.bw.Flush(); err != nil {
		s.discard()
		return err
	}
	if err := s.tmp.Close(); err != nil {
		_ = os.Remove(s.tmp.Name())
		return err
	}
	if err := os.Rename(s.tmp.Name(), s.final); err != nil {
		_ = os.Remove(s.tmp.Name())
		return err
	}
	return nil
}

func (s *stream) appendTemp() error {
	defer s.discard()
	if err := s.bw.Flush(); err != nil {
		return err
	}
	if s.sw.Count() == 0 {
		return nil
	}
	if _, err := s.tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	f, err := os.OpenFile(s.final, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := compressor(s.d.cfg.Compression, f)
	if err != nil {
		_ = f.Close()
		return err
	}
	var w io.Writer = f
	if zw != nil {
		w = zw
	}
	_, werr := io.Copy(w, s.tmp)
	if zw != nil {
		werr = errors.Join(werr, zw.Close())
	}
	return errors.Join(werr, f.Close())
}

func (s *stream) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	s.discard()
	return nil
}

func (s *stream) discard() {
	if s.tmp != nil {
		_ = s.tmp.Close()
		_ = os.Remove(s.tmp.Name())
		s.tmp = nil
	}
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("file", func() sink.Adapter { return &driver{} })
}
