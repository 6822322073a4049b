package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// KafkaDispatcher publishes confirmations keyed by order number so events for
// one order stay on one partition.
type KafkaDispatcher struct {
	writer MessageWriter
}

func NewKafkaDispatcher(w MessageWriter) *KafkaDispatcher {
	return &KafkaDispatcher{writer: w}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, c Confirmation) error {
	value, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode confirmation: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(c.Order.OrderNumber),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte("order.confirmation")},
			{Key: "locale", Value: []byte(c.Order.Locale)},
		},
	}

	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish confirmation %s: %w", c.Order.OrderNumber, err)
	}
	return nil
}
