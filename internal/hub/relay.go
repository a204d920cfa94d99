package hub

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/notify-sync/internal/observability"
	"github.com/kursadbilgin/notify-sync/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minRelayWorkers = 1

type notifier interface {
	Notify(userID, topic string, frame []byte) int
}

// PushRelay consumes backend push events and writes them to connected clients.
type PushRelay struct {
	consumer queue.Consumer
	hub      notifier
	workers  int
	logger   *zap.Logger
}

func NewPushRelay(consumer queue.Consumer, hub notifier, workers int, logger *zap.Logger) (*PushRelay, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if workers < minRelayWorkers {
		workers = minRelayWorkers
	}

	return &PushRelay{
		consumer: consumer,
		hub:      hub,
		workers:  workers,
		logger:   observability.Component(logger, "push_relay"),
	}, nil
}

// Start runs the consumer workers until ctx is cancelled.
func (r *PushRelay) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		workerID := i + 1

		g.Go(func() error {
			r.logger.Info("relay worker started", zap.Int("workerId", workerID))

			if err := r.consumer.Consume(groupCtx, queue.PushExchange, r.handle); err != nil {
				r.logger.Error("relay worker stopped with error", zap.Int("workerId", workerID), zap.Error(err))
				return err
			}

			r.logger.Info("relay worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

// handle never fails: an event for a user with no connected client is
// dropped, the backend keeps the notification for the next page load.
func (r *PushRelay) handle(ctx context.Context, event queue.PushEvent) error {
	delivered := r.hub.Notify(event.UserID, event.Topic, event.Payload)

	logger := r.logger
	if event.CorrelationID != "" {
		logger = observability.WithContextLogger(logger, observability.WithCorrelationID(ctx, event.CorrelationID))
	}
	logger.Debug("push event relayed",
		zap.String("userId", event.UserID),
		zap.String("topic", event.Topic),
		zap.String("type", event.Type),
		zap.Int("clients", delivered),
	)
	return nil
}

// ControlPublisher forwards client control messages to the backend queue.
type ControlPublisher struct {
	publisher queue.Publisher
}

func NewControlPublisher(publisher queue.Publisher) *ControlPublisher {
	return &ControlPublisher{publisher: publisher}
}

func (p *ControlPublisher) HandleControl(ctx context.Context, event queue.ControlEvent) error {
	if p == nil || p.publisher == nil {
		return fmt.Errorf("control publisher is not initialized")
	}
	return p.publisher.Publish(ctx, queue.ControlQueue, event)
}
