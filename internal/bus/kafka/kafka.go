// Package kafka is the production bus backend, grounded on
// segmentio/kafka-go, wired in from the retrieval pack's go-coffee
// manifest rather than the teacher's own go.mod (the teacher carries no
// messaging client).
package kafka

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"

	"tradeengine/internal/bus"
	"tradeengine/internal/logger"
)

// Producer publishes to Kafka topics via one writer per topic, created
// lazily on first publish.
type Producer struct {
	brokers []string
	log     *logger.Logger

	writers map[string]*kafkago.Writer
}

// NewProducer constructs a Producer against the given broker addresses.
func NewProducer(brokers []string) *Producer {
	return &Producer{brokers: brokers, log: logger.With("component", "bus_kafka_producer"), writers: make(map[string]*kafkago.Writer)}
}

func (p *Producer) writerFor(topic string) *kafkago.Writer {
	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
	}
	p.writers[topic] = w
	return w
}

// Publish writes one keyed record to topic.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	w := p.writerFor(topic)
	return w.WriteMessages(ctx, kafkago.Message{Key: []byte(key), Value: value})
}

// Close flushes and closes every writer opened by this Producer.
func (p *Producer) Close() error {
	var firstErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Consumer reads from Kafka topics using one reader per Consume call,
// honoring per-partition offset ordering (spec.md §5).
type Consumer struct {
	brokers []string
	groupID string
	log     *logger.Logger
}

// NewConsumer constructs a Consumer bound to a consumer group.
func NewConsumer(brokers []string, groupID string) *Consumer {
	return &Consumer{brokers: brokers, groupID: groupID, log: logger.With("component", "bus_kafka_consumer")}
}

// Consume reads topic within the consumer group and invokes handler for
// each record, committing a record's offset when the handler calls its
// msg.Ack (spec.md §4.8, manual acknowledgment).
func (c *Consumer) Consume(ctx context.Context, topic string, handler bus.Handler) error {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: c.brokers,
		Topic:   topic,
		GroupID: c.groupID,
	})
	defer reader.Close()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		msg := bus.Message{
			Topic: m.Topic,
			Key:   string(m.Key),
			Value: m.Value,
			Ack: func() {
				if ackErr := reader.CommitMessages(ctx, m); ackErr != nil {
					c.log.Warnf("bus_kafka: commit failed for topic %s offset %d: %v", topic, m.Offset, ackErr)
				}
			},
		}

		if err := handler(ctx, msg); err != nil {
			c.log.Warnf("bus_kafka: handler error on topic %s: %v (message redelivered, offset not committed)", topic, err)
			continue
		}
	}
}

// Close is a no-op; each Consume call owns and closes its own reader.
func (c *Consumer) Close() error { return nil }
