package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer writes to topic. Async writers return immediately and drop
// delivery errors, which suits fire-and-forget fan-out.
func NewProducer(brokers []string, topic string, async bool) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        async,
	}
	return &Producer{writer: w, topic: topic}
}

func (p *Producer) Topic() string { return p.topic }

// Publish JSON-encodes v under key. Messages with the same key keep their order.
func (p *Producer) Publish(ctx context.Context, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.PublishRaw(ctx, key, b)
}

func (p *Producer) PublishRaw(ctx context.Context, key string, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
