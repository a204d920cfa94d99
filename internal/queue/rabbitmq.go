package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/notify-sync/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	deadLetterExchange    = "notify_sync.dlx"
	defaultConnectionName = "notify-sync-gateway"
	connectTimeout        = 15 * time.Second
	heartbeatInterval     = 10 * time.Second
)

// DialFunc opens a broker connection.
type DialFunc func(url string) (*amqp.Connection, error)

type RabbitMQOption func(*RabbitMQ)

// WithDial replaces the broker dialer.
func WithDial(dial DialFunc) RabbitMQOption {
	return func(r *RabbitMQ) {
		if dial != nil {
			r.dial = dial
		}
	}
}

// WithConnectionName sets the name shown for the connection in the broker UI.
func WithConnectionName(name string) RabbitMQOption {
	return func(r *RabbitMQ) {
		if name = strings.TrimSpace(name); name != "" {
			r.name = name
		}
	}
}

// RabbitMQ is a lazily re-established broker connection. Every channel it
// hands out has the exchanges and work queues declared.
type RabbitMQ struct {
	url    string
	name   string
	dial   DialFunc
	logger *zap.Logger

	mu     sync.RWMutex
	dialMu sync.Mutex
	conn   *amqp.Connection
}

func NewRabbitMQ(ctx context.Context, url string, logger *zap.Logger, opts ...RabbitMQOption) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r := &RabbitMQ{
		url:    url,
		name:   defaultConnectionName,
		logger: observability.Component(logger, "rabbitmq"),
	}
	r.dial = r.dialConfig
	for _, opt := range opts {
		opt(r)
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// Connected reports whether the broker connection is currently up.
func (r *RabbitMQ) Connected() bool {
	return r.current() != nil
}

func (r *RabbitMQ) dialConfig(url string) (*amqp.Connection, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(r.name)

	return amqp.DialConfig(url, amqp.Config{
		Heartbeat:  heartbeatInterval,
		Dial:       amqp.DefaultDial(connectTimeout),
		Properties: props,
	})
}

func (r *RabbitMQ) current() *amqp.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn
}

// connection returns the open connection, dialing with backoff until ctx is
// done when there is none. Concurrent callers share one dial loop.
func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	if conn := r.current(); conn != nil {
		return conn, nil
	}

	r.dialMu.Lock()
	defer r.dialMu.Unlock()
	if conn := r.current(); conn != nil {
		return conn, nil
	}

	var b backoff
	for {
		conn, err := r.dial(r.url)
		if err == nil {
			r.mu.Lock()
			r.conn = conn
			r.mu.Unlock()

			go r.watch(conn)
			r.logger.Info("rabbitmq connected", zap.String("connectionName", r.name))
			return conn, nil
		}

		wait := b.next()
		r.logger.Warn("rabbitmq dial failed, retrying", zap.Duration("wait", wait), zap.Error(err))
		if err := waitFor(ctx, wait); err != nil {
			return nil, fmt.Errorf("rabbitmq reconnect canceled: %w", err)
		}
	}
}

// watch logs the broker closing conn; the next channel call redials.
func (r *RabbitMQ) watch(conn *amqp.Connection) {
	if reason, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1)); ok && reason != nil {
		r.logger.Warn("rabbitmq connection closed by broker",
			zap.Int("code", reason.Code),
			zap.String("reason", reason.Reason),
		)
	}
}

// forget drops conn so the next call dials again.
func (r *RabbitMQ) forget(conn *amqp.Connection) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
	_ = conn.Close()
}

func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	for retried := false; ; retried = true {
		conn, err := r.connection(ctx)
		if err != nil {
			return nil, err
		}

		ch, err := conn.Channel()
		if err != nil {
			if retried {
				return nil, fmt.Errorf("failed to open rabbitmq channel after reconnect: %w", err)
			}
			r.forget(conn)
			continue
		}

		if err := declareTopology(ch); err != nil {
			_ = ch.Close()
			return nil, err
		}
		return ch, nil
	}
}

func declareTopology(ch *amqp.Channel) error {
	exchanges := []struct {
		name string
		kind string
	}{
		{name: deadLetterExchange, kind: amqp.ExchangeDirect},
		{name: PushExchange, kind: amqp.ExchangeTopic},
	}
	for _, ex := range exchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %q: %w", ex.name, err)
		}
	}

	for _, name := range QueueNames() {
		if err := declareWorkQueue(ch, name); err != nil {
			return err
		}
	}
	return nil
}

// declareWorkQueue declares a durable queue whose rejected messages land in
// its dead-letter queue.
func declareWorkQueue(ch *amqp.Channel, name string) error {
	dlq := DLQName(name)
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlq %q: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, name, deadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq %q: %w", dlq, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    deadLetterExchange,
		"x-dead-letter-routing-key": name,
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", name, err)
	}
	return nil
}
