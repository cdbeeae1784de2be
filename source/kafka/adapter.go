// Package kafka consumes raw log lines from Kafka topics. Offsets are marked
// only for messages whose output has been acknowledged, so a crash replays
// anything not yet written.
package kafka

import (
	"context"
	"sync"
	"time"
)

// Message is one consumed record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string][]byte
	Timestamp time.Time

	ackOnce sync.Once
	ack     func()
}

// NewMessage returns a message whose first Ack calls ack.
func NewMessage(topic string, partition int32, offset int64, value []byte, ack func()) *Message {
	return &Message{Topic: topic, Partition: partition, Offset: offset, Value: value, ack: ack}
}

// Ack reports that the message's output is durable. Repeated calls are
// no-ops.
func (m *Message) Ack() {
	m.ackOnce.Do(func() {
		if m.ack != nil {
			m.ack()
		}
	})
}

// Meta is the metadata handed to the script next to the message text.
func (m *Message) Meta() map[string]any {
	meta := map[string]any{
		"topic":     m.Topic,
		"partition": int64(m.Partition),
		"offset":    m.Offset,
	}
	if len(m.Key) > 0 {
		meta["key"] = string(m.Key)
	}
	if !m.Timestamp.IsZero() {
		meta["timestamp"] = m.Timestamp
	}
	if len(m.Headers) > 0 {
		h := make(map[string]any, len(m.Headers))
		for k, v := range m.Headers {
			h[k] = string(v)
		}
		meta["headers"] = h
	}
	return meta
}

// EmitFunc receives each message in partition order. Returning an error stops
// consumption.
type EmitFunc func(context.Context, *Message) error

type Adapter interface {
	Configure(Config) error
	Run(context.Context, EmitFunc) error
	Close() error
}
