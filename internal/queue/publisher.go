package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publisherAppID = "notify-sync-gateway"

// RabbitMQPublisher sends control events to a durable work queue through the
// default exchange.
type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, now: time.Now}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, event ControlEvent) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}

	msg, err := controlPublishing(event, p.now())
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish control event to %q: %w", queue, err)
	}
	return nil
}

// controlPublishing validates event and wraps it as a persistent message.
// The backend routes on Type and the topic/userId headers without decoding
// the body.
func controlPublishing(event ControlEvent, now time.Time) (amqp.Publishing, error) {
	if err := event.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid control event: %w", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal control event: %w", err)
	}

	return amqp.Publishing{
		AppId:        publisherAppID,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now.UTC(),
		MessageId:    event.ID,
		Type:         event.Type,
		Headers: amqp.Table{
			"topic":  event.Topic,
			"userId": event.UserID,
		},
		Body: body,
	}, nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
