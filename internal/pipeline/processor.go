// Package pipeline drives the transform engine over files and directories
// and hands the results to a sink, applying the skip-or-abort policy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/google/uuid"

	"perceptlog/internal/logging"
	"perceptlog/internal/telemetry"
	"perceptlog/internal/transform"
	"perceptlog/sink"
	"perceptlog/source/logfile"
)

type Options struct {
	Policy      Policy
	BatchSize   int // lines buffered ahead of the writer
	Filter      *logfile.Filter
	Recursive   bool
	MaxLineSize datasize.ByteSize
}

type Processor struct {
	engine *transform.Engine
	sink   sink.Adapter
	opts   Options
}

func New(e *transform.Engine, s sink.Adapter, opts Options) (*Processor, error) {
	if opts.BatchSize < 1 {
		return nil, configErrorf("batch_size", "must be greater than 0, got %d", opts.BatchSize)
	}
	if e == nil || s == nil {
		return nil, errors.New("pipeline: engine and sink are required")
	}
	return &Processor{engine: e, sink: s, opts: opts}, nil
}

func (p *Processor) Engine() *transform.Engine { return p.engine }

func (p *Processor) Policy() Policy { return p.opts.Policy }

func (p *Processor) Close() error { return p.sink.Close() }

// Outcome is the result for one input file.
type Outcome struct {
	Path     string
	Output   string // sink location; empty when nothing was written
	Written  int
	LastLine int           // highest line number read
	Failures map[int]error // by 1-based line number
	Err      error         // set when the file failed as a whole
}

// Skipped reports whether some records failed but the file still completed.
func (o *Outcome) Skipped() bool { return o.Err == nil && len(o.Failures) > 0 }

type Summary struct {
	RunID          string
	FilesProcessed int
	FilesFailed    int
	RecordsWritten int
	RecordsFailed  int
	Outcomes       []*Outcome
	Elapsed        time.Duration
}

func (s *Summary) add(o *Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	s.RecordsWritten += o.Written
	s.RecordsFailed += len(o.Failures)
	if o.Err != nil {
		s.FilesFailed++
	} else {
		s.FilesProcessed++
	}
}

// Run processes input, a file or a directory. Files are handled one at a
// time in enumeration order; output already committed for earlier files is
// kept when a later file aborts the run.
func (p *Processor) Run(ctx context.Context, input string) (*Summary, error) {
	start := time.Now()
	sum := &Summary{RunID: uuid.NewString()}
	log := logging.L().With("run", sum.RunID)

	files, err := p.inputs(input)
	if err != nil {
		return sum, err
	}
	log.Info("run started", "input", input, "files", len(files))

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		o, err := p.processFile(ctx, log, path, 0)
		sum.add(o)
		if err == nil {
			continue
		}
		if p.opts.Policy.Decide(err) == Abort {
			sum.Elapsed = time.Since(start)
			log.Error("run aborted", "path", path, "err", err)
			return sum, err
		}
		log.Warn("file failed; continuing", "path", path, "err", err)
	}

	sum.Elapsed = time.Since(start)
	log.Info("run finished",
		"files", sum.FilesProcessed, "failed_files", sum.FilesFailed,
		"records", sum.RecordsWritten, "failed_records", sum.RecordsFailed,
		"elapsed", sum.Elapsed)
	return sum, nil
}

func (p *Processor) inputs(input string) ([]string, error) {
	if input == "" {
		return nil, configErrorf("input", "path is required")
	}
	fi, err := os.Stat(input)
	if err != nil {
		return nil, &ConfigError{Field: "input", Err: err}
	}
	switch {
	case fi.IsDir():
		files, err := logfile.ListEligibleFiles(input, p.opts.Filter, p.opts.Recursive)
		if err != nil {
			return nil, &ConfigError{Field: "input", Err: err}
		}
		return files, nil
	case fi.Mode().IsRegular():
		return []string{input}, nil
	}
	return nil, configErrorf("input", "%s is neither a file nor a directory", input)
}

// ProcessFile transforms one file into one sink stream. A file that yields
// no records writes nothing and is not a failure.
func (p *Processor) ProcessFile(ctx context.Context, path string) (*Outcome, error) {
	return p.processFile(ctx, logging.L(), path, 0)
}

// ProcessFileFrom is ProcessFile restricted to lines after line number
// after, for inputs that are extended in place.
func (p *Processor) ProcessFileFrom(ctx context.Context, path string, after int) (*Outcome, error) {
	return p.processFile(ctx, logging.L(), path, after)
}

func (p *Processor) processFile(ctx context.Context, log *slog.Logger, path string, after int) (*Outcome, error) {
	out := &Outcome{Path: path, LastLine: after, Failures: map[int]error{}}
	err := p.transformFile(ctx, log, path, after, out)
	telemetry.Files.WithLabelValues(telemetry.Result(err)).Inc()
	if err != nil {
		out.Err = err
		return out, &FileError{Path: path, Err: err}
	}
	if out.Written == 0 {
		log.Info("no records produced", "path", path, "failed", len(out.Failures))
		return out, nil
	}
	log.Info("file processed", "path", path, "output", out.Output, "records", out.Written, "failed", len(out.Failures))
	return out, nil
}

func (p *Processor) transformFile(ctx context.Context, log *slog.Logger, path string, after int, out *Outcome) error {
	stream, err := p.sink.Open(ctx, logfile.Stem(path))
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan transform.Line)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		readErr <- logfile.ReadLines(rctx, path, p.opts.MaxLineSize, func(no int, text string) error {
			if no <= after {
				return nil
			}
			out.LastLine = no
			select {
			case lines <- transform.Line{No: no, Text: text}:
				return nil
			case <-rctx.Done():
				return rctx.Err()
			}
		})
	}()

	var failure error
	for r := range p.engine.TransformStream(rctx, lines, p.opts.BatchSize) {
		if failure != nil || r.Skipped {
			continue
		}
		if r.Err != nil {
			out.Failures[r.Line] = r.Err
			lerr := &LineError{Line: r.Line, Err: r.Err}
			log.Warn("record failed", "path", path, "line", r.Line, "err", r.Err)
			if p.opts.Policy.Decide(lerr) == Abort {
				failure = lerr
				cancel()
			}
			continue
		}
		if err := stream.Append(r.Event); err != nil {
			failure = fmt.Errorf("line %d: %w", r.Line, err)
			cancel()
			continue
		}
		out.Written++
	}
	if err := <-readErr; err != nil && failure == nil {
		failure = err
	}

	if failure != nil {
		_ = stream.Abort()
		out.Written = 0
		return failure
	}
	if out.Written == 0 {
		return stream.Abort()
	}
	if err := stream.Commit(); err != nil {
		out.Written = 0
		return err
	}
	out.Output = stream.Location()
	return nil
}
