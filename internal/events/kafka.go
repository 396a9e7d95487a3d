package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"expedite-backend/internal/logger"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// envelope is the wire format on the event topic.
type envelope struct {
	Name    Name      `json:"name"`
	SentAt  time.Time `json:"sent_at"`
	Payload Event     `json:"payload"`
}

// KafkaPublisher forwards events to a topic, keyed by case.
type KafkaPublisher struct {
	writer  MessageWriter
	timeout time.Duration
	now     func() time.Time
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return NewKafkaPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	})
}

func NewKafkaPublisherWithWriter(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w, timeout: 5 * time.Second, now: time.Now}
}

// Handle is a Handler that writes the event to Kafka.
func (k *KafkaPublisher) Handle(ctx context.Context, e Event) error {
	now := k.now()
	value, err := json.Marshal(envelope{Name: e.EventName(), SentAt: now, Payload: e})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.EventName(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	logger.ExternalServiceCall("kafka", "WriteMessages", "event", e.EventName(), "key", e.Key())
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(e.Key()),
		Value:   value,
		Time:    now,
		Headers: []kafka.Header{{Key: "event", Value: []byte(e.EventName())}},
	})
	logger.ExternalServiceResult("kafka", "WriteMessages", err, "event", e.EventName())
	if err != nil {
		return fmt.Errorf("write %s: %w", e.EventName(), err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
