package logfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// DefaultMaxLineSize bounds a single line when the caller passes zero.
const DefaultMaxLineSize = datasize.MB

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i].Close())
	}
	return errors.Join(errs...)
}

type zstdCloser struct{ d *zstd.Decoder }

func (z zstdCloser) Close() error { z.d.Close(); return nil }

// Open returns a reader over path's contents, decompressing .gz and .zst
// files transparently.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		return &readCloser{Reader: zr, closers: []io.Closer{f, zr}}, nil
	case ".zst", ".zstd":
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd %s: %w", path, err)
		}
		return &readCloser{Reader: zr, closers: []io.Closer{f, zstdCloser{zr}}}, nil
	}
	return f, nil
}

// Stem is the base name of path with its compression and log extensions
// removed: auth.log.gz -> auth.
func Stem(path string) string {
	name := filepath.Base(path)
	for _, ext := range []string{".gz", ".zst", ".zstd"} {
		name = strings.TrimSuffix(name, ext)
	}
	if ext := filepath.Ext(name); ext != "" && ext != name {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

// ReadLines calls fn for every non-blank line of path with its 1-based line
// number. A line longer than maxLineSize fails the read. Reading stops at
// the first error from fn or when ctx ends.
func ReadLines(ctx context.Context, path string, maxLineSize datasize.ByteSize, fn func(no int, line string) error) error {
	rc, err := Open(path)
	if err != nil {
		return err
	}
	defer rc.Close()

	if maxLineSize == 0 {
		maxLineSize = DefaultMaxLineSize
	}
	limit := int(maxLineSize.Bytes())
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, min(limit, 64*1024)), limit)

	no := 0
	for sc.Scan() {
		no++
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := fn(no, line); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("%s line %d: longer than %s", path, no+1, maxLineSize.HumanReadable())
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// ReadAll returns the non-blank lines of path.
func ReadAll(ctx context.Context, path string, maxLineSize datasize.ByteSize) ([]string, error) {
	var lines []string
	err := ReadLines(ctx, path, maxLineSize, func(_ int, line string) error {
		lines = append(lines, line)
		return nil
	})
	return lines, err
}
