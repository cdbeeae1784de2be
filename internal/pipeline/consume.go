package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"perceptlog/internal/config"
	"perceptlog/internal/logging"
	"perceptlog/internal/output"
	"perceptlog/internal/telemetry"
	"perceptlog/internal/transform"
	"perceptlog/sink"
	kafkasource "perceptlog/source/kafka"
)

// ConsumeOptions control how consumed messages are grouped into sink
// streams. A batch is committed once it holds FlushRecords records, and
// whatever is open is committed every FlushInterval.
type ConsumeOptions struct {
	Name          string // prefix of each batch's stream name
	FlushRecords  int
	FlushInterval time.Duration
}

type ConsumeSummary struct {
	RunID          string
	Batches        int
	Messages       int
	RecordsWritten int
	RecordsFailed  int
}

// NewSource returns a configured kafka source for cfg.Source.Kafka.
func NewSource(cfg *config.Config) (kafkasource.Adapter, error) {
	src, err := kafkasource.NewAdapter("sarama")
	if err != nil {
		return nil, err
	}
	kc := cfg.Source.Kafka
	err = src.Configure(kafkasource.Config{
		Brokers:        kc.Brokers,
		Topics:         kc.Topics,
		GroupID:        kc.GroupID,
		StartFrom:      kc.StartFrom,
		Version:        kc.Version,
		ClientID:       kc.ClientID,
		MaxInFlight:    kc.MaxInFlight,
		CommitInterval: kc.CommitInterval,
	})
	if err != nil {
		return nil, &ConfigError{Field: "source.kafka", Err: err}
	}
	return src, nil
}

// Consume transforms messages from src until ctx ends or the policy aborts.
// A message is acknowledged only after the batch holding its record has
// been committed to the sink, or once its record failed under the skip
// policy; on abort the open batch is discarded unacknowledged so the source
// delivers it again.
func (p *Processor) Consume(ctx context.Context, src kafkasource.Adapter, opts ConsumeOptions) (*ConsumeSummary, error) {
	if opts.Name == "" {
		opts.Name = "kafka"
	}
	if opts.FlushRecords < 1 {
		opts.FlushRecords = p.opts.BatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	sum := &ConsumeSummary{RunID: uuid.NewString()}
	log := logging.L().With("run", sum.RunID)
	stamp := time.Now().UTC().Format(output.TimestampLayout)

	srcCtx, stopSource := context.WithCancel(ctx)
	defer stopSource()

	var (
		mu      sync.Mutex
		seq     int
		pending = map[int]*kafkasource.Message{}
	)
	lines := make(chan transform.Line)
	srcErr := make(chan error, 1)
	go func() {
		defer close(lines)
		srcErr <- src.Run(srcCtx, func(ctx context.Context, m *kafkasource.Message) error {
			mu.Lock()
			seq++
			no := seq
			pending[no] = m
			mu.Unlock()
			select {
			case lines <- transform.Line{No: no, Text: strings.TrimRight(string(m.Value), "\r\n"), Meta: m.Meta()}:
				return nil
			case <-ctx.Done():
				mu.Lock()
				delete(pending, no)
				mu.Unlock()
				return ctx.Err()
			}
		})
	}()
	log.Info("consuming", "name", opts.Name, "flush_records", opts.FlushRecords, "flush_interval", opts.FlushInterval)

	b := &batch{}
	flush := func() error {
		if err := b.commit(); err != nil {
			telemetry.Batches.WithLabelValues(telemetry.Result(err)).Inc()
			return err
		}
		if b.written > 0 {
			telemetry.Batches.WithLabelValues(telemetry.Result(nil)).Inc()
			sum.Batches++
			sum.RecordsWritten += b.written
			log.Info("batch committed", "output", b.stream.Location(), "records", b.written, "messages", len(b.msgs))
		}
		b.ack()
		return nil
	}

	// In-flight lines finish after ctx ends so the last batch can commit.
	wctx := context.WithoutCancel(ctx)
	results := p.engine.TransformStream(wctx, lines, p.opts.BatchSize)
	tick := time.NewTicker(opts.FlushInterval)
	defer tick.Stop()

	var failure error
	abort := func(err error) {
		failure = err
		stopSource()
	}
	for results != nil {
		select {
		case r, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			mu.Lock()
			m := pending[r.Line]
			delete(pending, r.Line)
			mu.Unlock()
			if failure != nil {
				continue
			}
			sum.Messages++
			b.msgs = append(b.msgs, m)

			switch {
			case r.Skipped:
			case r.Err != nil:
				sum.RecordsFailed++
				log.Warn("record failed", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "err", r.Err)
				if p.opts.Policy.Decide(&LineError{Line: r.Line, Err: r.Err}) == Abort {
					abort(fmt.Errorf("%s/%d@%d: %w", m.Topic, m.Partition, m.Offset, r.Err))
				}
			default:
				if b.stream == nil {
					name := fmt.Sprintf("%s_%s_%06d", opts.Name, stamp, sum.Batches+1)
					s, err := p.sink.Open(wctx, name)
					if err != nil {
						abort(fmt.Errorf("open sink: %w", err))
						continue
					}
					b.stream = s
				}
				if err := b.stream.Append(r.Event); err != nil {
					abort(fmt.Errorf("%s/%d@%d: %w", m.Topic, m.Partition, m.Offset, err))
					continue
				}
				b.written++
				if b.written >= opts.FlushRecords {
					if err := flush(); err != nil {
						abort(err)
					}
				}
			}
		case <-tick.C:
			if failure == nil {
				if err := flush(); err != nil {
					abort(err)
				}
			}
		}
	}

	if failure != nil {
		b.discard()
		log.Error("consume aborted", "err", failure)
		return sum, failure
	}
	if err := flush(); err != nil {
		return sum, err
	}
	if err := <-srcErr; err != nil && !errors.Is(err, context.Canceled) {
		return sum, fmt.Errorf("source: %w", err)
	}
	log.Info("consume stopped", "batches", sum.Batches, "messages", sum.Messages,
		"records", sum.RecordsWritten, "failed_records", sum.RecordsFailed)
	return sum, nil
}

// batch is the open output stream and every message whose outcome it holds,
// including messages that produced no record.
type batch struct {
	stream  sink.Stream
	written int
	msgs    []*kafkasource.Message
}

// commit ends the stream; the batch keeps its messages for ack.
func (b *batch) commit() error {
	if b.stream == nil {
		return nil
	}
	if b.written == 0 {
		return b.stream.Abort()
	}
	if err := b.stream.Commit(); err != nil {
		b.discard()
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (b *batch) ack() {
	for _, m := range b.msgs {
		m.Ack()
	}
	b.reset()
}

func (b *batch) discard() {
	if b.stream != nil {
		_ = b.stream.Abort()
	}
	b.reset()
}

func (b *batch) reset() {
	b.stream, b.written, b.msgs = nil, 0, nil
}
