// Package kafka publishes each event as one Kafka message. The messages of a
// stream are produced together when it commits.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"perceptlog/internal/logging"
	"perceptlog/internal/ocsf"
	"perceptlog/internal/output"
	"perceptlog/sink"
)

type Config struct {
	Brokers  []string
	Topic    string
	Acks     int16  // 1 or -1 (all); 0 selects all
	Version  string // sarama version string; empty uses the library default
	ClientID string
}

type driver struct {
	cfg Config
	p   sarama.SyncProducer
	ack sink.EmitFn

	closeOnce sync.Once
}

// producerFactory is swapped in tests.
var producerFactory = func(brokers []string, sc *sarama.Config) (sarama.SyncProducer, error) {
	return sarama.NewSyncProducer(brokers, sc)
}

func saramaConfig(cfg Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	if cfg.Version != "" {
		ver, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, err
		}
		sc.Version = ver
	}
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	return sc, nil
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return errors.New("kafka-sink: brokers and topic are required")
	}
	if cfg.Acks == 0 {
		cfg.Acks = int16(sarama.WaitForAll)
	}
	d.cfg = cfg

	sc, err := saramaConfig(cfg)
	if err != nil {
		return fmt.Errorf("kafka-sink: %w", err)
	}
	d.p, err = producerFactory(cfg.Brokers, sc)
	return err
}

func (d *driver) Open(_ context.Context, name string) (sink.Stream, error) {
	if d.p == nil {
		return nil, errors.New("kafka-sink: not configured")
	}
	return &stream{d: d, name: name}, nil
}

func (d *driver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.p != nil {
			err = d.p.Close()
		}
	})
	return err
}

func (d *driver) BindAck(fn sink.EmitFn) { d.ack = fn }

type stream struct {
	d    *driver
	name string
	msgs []*sarama.ProducerMessage
	done bool
}

func (s *stream) Location() string { return "kafka://" + s.d.cfg.Topic }

func (s *stream) Append(ev *ocsf.Event) error {
	body, err := output.FormatOne(ev, output.JSON, false)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic:   s.d.cfg.Topic,
		Value:   sarama.StringEncoder(body),
		Headers: []sarama.RecordHeader{{Key: []byte("source"), Value: []byte(s.name)}},
	}
	if uid := ev.Metadata.UID; uid != nil && *uid != "" {
		msg.Key = sarama.StringEncoder(*uid)
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *stream) Commit() error {
	if s.done {
		return nil
	}
	s.done = true
	if len(s.msgs) == 0 {
		return nil
	}
	if err := s.d.p.SendMessages(s.msgs); err != nil {
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) {
			return fmt.Errorf("kafka-sink: %d of %d messages failed: %w", len(perrs), len(s.msgs), perrs[0].Err)
		}
		return fmt.Errorf("kafka-sink: %w", err)
	}
	logging.L().Debug("kafka batch produced", "topic", s.d.cfg.Topic, "source", s.name, "records", len(s.msgs))
	if s.d.ack != nil {
		s.d.ack(sink.Receipt{Location: s.Location(), Records: len(s.msgs)})
	}
	return nil
}

func (s *stream) Abort() error {
	s.done = true
	s.msgs = nil
	return nil
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
