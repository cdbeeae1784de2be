package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"golang.org/x/sync/semaphore"

	"perceptlog/internal/logging"
)

func init() {
	Register("sarama", func() Adapter { return &SaramaDriver{} })
}

type SaramaDriver struct {
	cfg      Config
	group    sarama.ConsumerGroup
	inflight *semaphore.Weighted
	offsets  *offsets
}

// groupFactory is swapped in tests.
var groupFactory = func(brokers []string, groupID string, sc *sarama.Config) (sarama.ConsumerGroup, error) {
	return sarama.NewConsumerGroup(brokers, groupID, sc)
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
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = true
	sc.Consumer.Offsets.AutoCommit.Interval = cfg.CommitInterval
	switch cfg.StartFrom {
	case "oldest":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	return sc, nil
}

func (d *SaramaDriver) Configure(cfg Config) error {
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("kafka-source: %w", err)
	}
	sc, err := saramaConfig(cfg)
	if err != nil {
		return fmt.Errorf("kafka-source: %w", err)
	}
	d.cfg = cfg
	d.inflight = semaphore.NewWeighted(cfg.MaxInFlight)
	d.offsets = newOffsets()
	d.group, err = groupFactory(cfg.Brokers, cfg.GroupID, sc)
	return err
}

// Run consumes until ctx ends or emit fails. Group sessions are rejoined
// after every rebalance.
func (d *SaramaDriver) Run(ctx context.Context, emit EmitFunc) error {
	if d.group == nil {
		return errors.New("kafka-source: not configured")
	}
	go func() {
		for err := range d.group.Errors() {
			logging.L().Warn("kafka-source: consumer error", "err", err)
		}
	}()

	h := &groupHandler{driver: d, emit: emit}
	for {
		if err := d.group.Consume(ctx, d.cfg.Topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if err := h.failure(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (d *SaramaDriver) Close() error {
	if d.group == nil {
		return nil
	}
	return d.group.Close()
}

/* ─────────────────────────── group handler ────────────────────────────── */

type groupHandler struct {
	driver *SaramaDriver
	emit   EmitFunc

	mu  sync.Mutex
	err error // first emit failure; ends Run
}

func (h *groupHandler) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err == nil {
		h.err = err
	}
}

func (h *groupHandler) failure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (*groupHandler) Setup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	if dropped := h.driver.offsets.reset(); dropped > 0 {
		logging.L().Info("kafka-source: rebalance; unacknowledged messages will be redelivered", "count", dropped)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	d := h.driver
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := d.inflight.Acquire(ctx, 1); err != nil {
				return nil
			}
			p := partition{topic: msg.Topic, id: msg.Partition}
			d.offsets.track(p, msg.Offset)
			m := newMessage(msg, func() {
				d.inflight.Release(1)
				if next, moved := d.offsets.ack(p, msg.Offset); moved {
					sess.MarkOffset(p.topic, p.id, next, "")
				}
			})
			if err := h.emit(ctx, m); err != nil {
				// Never delivered: free the slot without marking the offset.
				m.ackOnce.Do(func() { d.inflight.Release(1) })
				if ctx.Err() == nil {
					h.fail(err)
				}
				return err
			}
		}
	}
}

func newMessage(msg *sarama.ConsumerMessage, ack func()) *Message {
	m := &Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Timestamp: msg.Timestamp,
		ack:       ack,
	}
	if len(msg.Headers) > 0 {
		m.Headers = make(map[string][]byte, len(msg.Headers))
		for _, rh := range msg.Headers {
			if rh != nil {
				m.Headers[string(rh.Key)] = rh.Value
			}
		}
	}
	return m
}
