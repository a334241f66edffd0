package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaTarget buffers capture records and publishes them to a Kafka topic
// on commit. Records are keyed by requestId so a request and its response
// land in the same partition, in order.
type KafkaTarget struct {
	writer *kafka.Writer

	mu      sync.Mutex
	pending []kafka.Message
}

// KafkaTargetConfig configures the Kafka capture sink.
type KafkaTargetConfig struct {
	Brokers []string
	Topic   string

	// BatchTimeout bounds how long the writer waits to fill a batch.
	// Zero selects one second.
	BatchTimeout time.Duration
}

// NewKafkaTarget builds the target. The writer manages its own connections
// and is safe for concurrent use.
func NewKafkaTarget(cfg KafkaTargetConfig) *KafkaTarget {
	timeout := cfg.BatchTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	return &KafkaTarget{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: timeout,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Record implements [CaptureTarget]. The record is serialized now and held
// until the next Commit.
func (t *KafkaTarget) Record(rec *CaptureRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal capture record: %w", err)
	}
	t.mu.Lock()
	t.pending = append(t.pending, kafka.Message{
		Key:   []byte(rec.RequestID),
		Value: value,
	})
	t.mu.Unlock()
	return nil
}

// Event implements [CaptureTarget]. Raw events are not published.
func (t *KafkaTarget) Event(ev ConnectionEvent) error { return nil }

// Commit implements [CaptureTarget]: publishes everything buffered since
// the previous commit.
func (t *KafkaTarget) Commit(ctx context.Context, final bool) error {
	t.mu.Lock()
	batch := t.pending
	t.pending = nil
	t.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := t.writer.WriteMessages(ctx, batch...); err != nil {
		return fmt.Errorf("publish capture batch: %w", err)
	}
	return nil
}

// Close flushes nothing further and releases the writer.
func (t *KafkaTarget) Close() error { return t.writer.Close() }
