package events

import (
	"context"
	"encoding/json"
	"log"

	skafka "github.com/segmentio/kafka-go"
)

// Writer is the subset of the kafka writer the publisher needs, so tests can
// inject a capture.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// Publisher emits shipment lifecycle events to the platform event stream.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
	Close() error
}

// KafkaPublisher writes JSON events to a kafka topic.
type KafkaPublisher struct {
	writer Writer
}

// NewKafkaPublisher writes to the given broker and topic.
func NewKafkaPublisher(brokerURL, topic string) *KafkaPublisher {
	w := &skafka.Writer{
		Addr:     skafka.TCP(brokerURL),
		Topic:    topic,
		Balancer: &skafka.LeastBytes{},
	}
	return &KafkaPublisher{writer: w}
}

// NewKafkaPublisherWithWriter injects a test writer.
func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		log.Printf("events: marshal: %v", err)
		return err
	}
	msg := skafka.Message{Key: []byte(key), Value: b}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		log.Printf("events: write: %v", err)
		return err
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }
func (NopPublisher) Close() error                               { return nil }

// StatusEvent is published on every accepted shipment status transition.
type StatusEvent struct {
	AWB        string `json:"awb"`
	ShipmentID int    `json:"shipment_id"`
	CompanyID  int    `json:"company_id"`
	Status     string `json:"status"`
	StatusCode string `json:"status_code"`
	Location   string `json:"location"`
	OccurredAt string `json:"occurred_at"`
}
