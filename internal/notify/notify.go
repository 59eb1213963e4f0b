package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Channels the dispatcher publishes on, one durable queue each.
const (
	QueueCall     = "notifications.call"
	QueueWhatsApp = "notifications.whatsapp"
	QueueEmail    = "notifications.email"
)

// Sender is the outbound notification capability the core consumes. Rendering
// and delivery happen in a separate worker; this module only enqueues jobs.
type Sender interface {
	SendCall(ctx context.Context, recipient, template string, data map[string]any) (string, error)
	SendWhatsApp(ctx context.Context, recipient, template string, data map[string]any) (string, error)
	SendEmail(ctx context.Context, recipient, template string, data map[string]any) (string, error)
}

type job struct {
	MessageID string         `json:"message_id"`
	Recipient string         `json:"recipient"`
	Template  string         `json:"template"`
	Data      map[string]any `json:"data,omitempty"`
	QueuedAt  time.Time      `json:"queued_at"`
}

// AMQPSender publishes notification jobs to RabbitMQ.
type AMQPSender struct {
	conn *amqp.Connection
	chn  *amqp.Channel
}

func NewAMQPSender(url string) (*AMQPSender, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	chn, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	for _, q := range []string{QueueCall, QueueWhatsApp, QueueEmail} {
		if _, err := chn.QueueDeclare(q, true, false, false, false, nil); err != nil {
			chn.Close()
			conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", q, err)
		}
	}
	return &AMQPSender{conn: conn, chn: chn}, nil
}

func (s *AMQPSender) Close() error {
	if err := s.chn.Close(); err != nil {
		return err
	}
	return s.conn.Close()
}

func (s *AMQPSender) publish(ctx context.Context, queue, recipient, template string, data map[string]any) (string, error) {
	j := job{
		MessageID: uuid.NewString(),
		Recipient: recipient,
		Template:  template,
		Data:      data,
		QueuedAt:  time.Now(),
	}
	body, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("marshal notification job: %w", err)
	}
	err = s.chn.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    j.MessageID,
		Body:         body,
	})
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", queue, err)
	}
	return j.MessageID, nil
}

func (s *AMQPSender) SendCall(ctx context.Context, recipient, template string, data map[string]any) (string, error) {
	return s.publish(ctx, QueueCall, recipient, template, data)
}

func (s *AMQPSender) SendWhatsApp(ctx context.Context, recipient, template string, data map[string]any) (string, error) {
	return s.publish(ctx, QueueWhatsApp, recipient, template, data)
}

func (s *AMQPSender) SendEmail(ctx context.Context, recipient, template string, data map[string]any) (string, error) {
	return s.publish(ctx, QueueEmail, recipient, template, data)
}

// LogSender is used when no AMQP broker is configured: jobs are logged and
// reported as sent so resolution workflows still progress in development.
type LogSender struct{}

func (LogSender) send(kind, recipient, template string) (string, error) {
	id := uuid.NewString()
	log.Printf("notify (%s, no broker): %s template=%s id=%s", kind, recipient, template, id)
	return id, nil
}

func (l LogSender) SendCall(_ context.Context, recipient, template string, _ map[string]any) (string, error) {
	return l.send("call", recipient, template)
}

func (l LogSender) SendWhatsApp(_ context.Context, recipient, template string, _ map[string]any) (string, error) {
	return l.send("whatsapp", recipient, template)
}

func (l LogSender) SendEmail(_ context.Context, recipient, template string, _ map[string]any) (string, error) {
	return l.send("email", recipient, template)
}
