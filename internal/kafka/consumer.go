package kafka

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler processes one record. Errors are logged; the offset still advances.
type Handler func(ctx context.Context, key, value []byte) error

type Consumer struct {
	reader *kafka.Reader
	log    *zap.SugaredLogger
}

func NewConsumer(brokers []string, topic, groupID string, log *zap.SugaredLogger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  250 * time.Millisecond,
	})
	return &Consumer{reader: r, log: log}
}

// readBackOff spaces out retries while the broker is unreachable. It never
// gives up; only ctx ends the loop.
func readBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Start reads until ctx is cancelled. Records are handled in order.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	b := readBackOff()
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := b.NextBackOff()
			c.log.Warnw("kafka read error", "topic", c.reader.Config().Topic, "retry_in", wait, "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		b.Reset()
		if err := h(ctx, m.Key, m.Value); err != nil {
			c.log.Errorw("kafka handler failed", "topic", m.Topic, "offset", m.Offset, "err", err)
		}
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }
