package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notify-sync/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// pushTTL bounds how long a push waits in an instance queue. Frames older
// than that are stale for the client anyway.
const pushTTL = 30 * time.Second

// RabbitMQConsumer reads push events through a queue owned by this gateway
// instance. Workers calling Consume concurrently share that queue.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	instance string
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		instance: uuid.NewString(),
		logger:   observability.Component(logger, "push_consumer"),
	}
}

// InstanceQueue is the queue this consumer binds to exchange.
func (c *RabbitMQConsumer) InstanceQueue(exchange string) string {
	return fmt.Sprintf("%s.gateway.%s", exchange, c.instance)
}

// Consume delivers events from exchange to handler until ctx is done,
// re-subscribing with backoff when the broker drops the subscription.
func (c *RabbitMQConsumer) Consume(ctx context.Context, exchange string, handler PushHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if exchange == "" {
		return fmt.Errorf("exchange name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	var b backoff
	for {
		err := c.consumeOnce(ctx, exchange, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			b.reset()
			continue
		}

		wait := b.next()
		c.logger.Warn("push subscription lost, resubscribing",
			zap.String("exchange", exchange),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if waitFor(ctx, wait) != nil {
			return nil
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, exchange string, handler PushHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	name, err := c.bindInstanceQueue(ch, exchange)
	if err != nil {
		return err
	}

	deliveries, err := ch.Consume(name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", name, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// bindInstanceQueue declares the exclusive instance queue and binds it to
// every routing key of exchange. The broker deletes it with the connection.
func (c *RabbitMQConsumer) bindInstanceQueue(ch *amqp.Channel, exchange string) (string, error) {
	args := amqp.Table{"x-message-ttl": pushTTL.Milliseconds()}
	q, err := ch.QueueDeclare(c.InstanceQueue(exchange), false, false, true, false, args)
	if err != nil {
		return "", fmt.Errorf("failed to declare instance queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "#", exchange, false, nil); err != nil {
		return "", fmt.Errorf("failed to bind %q to %q: %w", q.Name, exchange, err)
	}
	return q.Name, nil
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler PushHandler) error {
	event, err := decodePush(d)
	if err != nil {
		c.logger.Warn("dropping undeliverable push",
			zap.String("routingKey", d.RoutingKey),
			zap.Error(err),
		)
		return settle("reject", d.Reject(false))
	}

	if event.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, event.CorrelationID)
	}
	if err := handler(ctx, event); err != nil {
		observability.WithContextLogger(c.logger, ctx).Warn("push handler failed",
			zap.String("userId", event.UserID),
			zap.String("topic", event.Topic),
			zap.Error(err),
		)
		// Pushes are not requeued: a late frame is worse than a lost one.
		return settle("nack", d.Nack(false, false))
	}
	return settle("ack", d.Ack(false))
}

// decodePush parses a delivery body. The AMQP correlation id fills in for a
// body without one.
func decodePush(d amqp.Delivery) (PushEvent, error) {
	var event PushEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		return PushEvent{}, fmt.Errorf("invalid json: %w", err)
	}
	if event.CorrelationID == "" {
		event.CorrelationID = d.CorrelationId
	}
	if err := event.Validate(); err != nil {
		return PushEvent{}, err
	}
	return event, nil
}

func settle(op string, err error) error {
	if err != nil {
		return fmt.Errorf("failed to %s delivery: %w", op, err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
