package queue

import (
	"context"
	"fmt"
)

// Publisher publishes control events to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, event ControlEvent) error
	Close() error
}

// PushHandler handles a consumed push event.
type PushHandler func(ctx context.Context, event PushEvent) error

// Consumer consumes push events published to an exchange.
type Consumer interface {
	Consume(ctx context.Context, exchange string, handler PushHandler) error
	Close() error
}

const (
	// PushExchange is the topic exchange backends publish push events to,
	// with routing key <topic>.<userId>. Every gateway instance binds its own
	// queue to it so each instance sees every event.
	PushExchange = "realtime.push"
	// ControlQueue carries client control messages back to the backend.
	ControlQueue = "realtime.control"
)

// QueueNames returns the durable work queues shared by all gateway instances.
func QueueNames() []string {
	return []string{ControlQueue}
}

// DLQName returns the dead-letter queue for a work queue, e.g. dlq.realtime.control.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// DLQNames returns the dead-letter queues of every work queue.
func DLQNames() []string {
	names := QueueNames()
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, DLQName(name))
	}
	return out
}
