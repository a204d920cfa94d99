package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/notify-sync/internal/observability"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second

	maxBackoffShift = 16
)

// State is the connection state of a Channel.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CredentialsFunc returns the bearer token for the next dial; "" means
// signed out.
type CredentialsFunc func() string

type ChannelOption func(*Channel)

func WithMaxAttempts(n int) ChannelOption {
	return func(c *Channel) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithBaseDelay(d time.Duration) ChannelOption {
	return func(c *Channel) {
		if d > 0 {
			c.baseDelay = d
		}
	}
}

// WithSleep replaces the backoff wait. sleep must return ctx.Err() once ctx is done.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ChannelOption {
	return func(c *Channel) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

func WithChannelMetrics(metrics *observability.Metrics) ChannelOption {
	return func(c *Channel) {
		c.metrics = metrics
	}
}

// Channel holds one best-effort connection to a realtime topic and
// re-establishes it with exponential backoff after failures. At most one
// dial is in flight at any time.
type Channel struct {
	topic       string
	baseURL     string
	dialer      Dialer
	credentials CredentialsFunc
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	metrics     *observability.Metrics
	logger      *zap.Logger

	mu        sync.Mutex
	state     State
	attempts  int
	conn      Conn
	last      *Message
	cancel    context.CancelFunc
	done      chan struct{}
	onState   []func(State)
	onMessage []func(Message)
}

func NewChannel(
	topic string,
	baseURL string,
	dialer Dialer,
	credentials CredentialsFunc,
	logger *zap.Logger,
	opts ...ChannelOption,
) (*Channel, error) {
	topic = strings.Trim(strings.TrimSpace(topic), "/")
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if _, err := url.Parse(strings.TrimSpace(baseURL)); err != nil || strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("invalid websocket base url %q", baseURL)
	}
	if dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("credentials func is required")
	}

	c := &Channel{
		topic:       topic,
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		dialer:      dialer,
		credentials: credentials,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		sleep:       sleepWithContext,
		logger:      observability.Component(logger, "realtime").With(zap.String("topic", topic)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Channel) Topic() string { return c.topic }

// URL is the endpoint dialed for token: <base>/ws/<topic>/?token=<token>.
func (c *Channel) URL(token string) string {
	return fmt.Sprintf("%s/ws/%s/?token=%s", c.baseURL, c.topic, url.QueryEscape(token))
}

// OnState registers fn to run after every state change.
func (c *Channel) OnState(fn func(State)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.onState = append(c.onState, fn)
	c.mu.Unlock()
}

// OnMessage registers fn to run for every well-formed inbound message.
func (c *Channel) OnMessage(fn func(Message)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.onMessage = append(c.onMessage, fn)
	c.mu.Unlock()
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Channel) LastMessage() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Message{}, false
	}
	return *c.last, true
}

// Connect starts the connection loop. It is a no-op unless the channel is
// idle, and leaves the channel idle when no credentials are available. The
// loop stops when ctx is done or Close is called.
func (c *Channel) Connect(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	if c.credentials() == "" {
		c.logger.Debug("no credentials, staying idle")
		return
	}

	c.mu.Lock()
	if c.state != StateIdle || c.done != nil {
		c.mu.Unlock()
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.attempts = 0
	c.mu.Unlock()

	c.setState(StateConnecting)
	go c.run(loopCtx, done)
}

// Close stops the loop, cancelling a pending backoff or dial, and closes the
// open connection. No dial happens after Close returns.
func (c *Channel) Close() {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-done
}

// Reconnect restarts the loop, for example after the credentials changed.
func (c *Channel) Reconnect(ctx context.Context) {
	c.Close()
	c.Connect(ctx)
}

// Send writes msg as JSON when the channel is open. Otherwise the message is
// dropped and Send reports false.
func (c *Channel) Send(msg any) bool {
	frame, err := json.Marshal(msg)
	if err != nil {
		c.logger.Warn("dropping unencodable outbound message", zap.Error(err))
		return false
	}

	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state != StateOpen || conn == nil {
		c.logger.Debug("dropping outbound message, channel not open", zap.Stringer("state", state))
		return false
	}
	if err := conn.Write(frame); err != nil {
		c.logger.Warn("failed to send realtime message", zap.Error(err))
		return false
	}
	return true
}

func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.finish(done)

	for {
		if ctx.Err() != nil {
			return
		}

		token := c.credentials()
		if token == "" {
			c.logger.Info("credentials cleared, stopping realtime channel")
			return
		}

		c.setState(StateConnecting)
		conn, err := c.dialer.Dial(ctx, c.URL(token))
		if err == nil {
			err = c.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.attempts++
		attempts := c.attempts
		c.mu.Unlock()

		if attempts >= c.maxAttempts {
			c.logger.Warn("realtime reconnect attempts exhausted",
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			return
		}

		delay := c.backoffDelay(attempts)
		c.logger.Info("realtime connection lost, backing off",
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		c.metrics.IncRealtimeReconnect(c.topic)
		c.setState(StateBackoff)
		if err := c.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// serve reads frames from an open connection until it drops or ctx is done.
func (c *Channel) serve(ctx context.Context, conn Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	c.logger.Info("realtime channel open")
	c.setState(StateOpen)

	for {
		frame, err := conn.Read()
		if err != nil {
			return fmt.Errorf("connection dropped: %w", err)
		}
		c.handleFrame(frame)
	}
}

func (c *Channel) handleFrame(frame []byte) {
	msg, err := DecodeMessage(frame)
	if err != nil {
		c.metrics.IncRealtimeMalformed(c.topic)
		c.logger.Warn("dropping malformed realtime frame", zap.Int("bytes", len(frame)), zap.Error(err))
		return
	}
	msg.ReceivedAt = time.Now().UTC()

	c.mu.Lock()
	c.last = &msg
	handlers := append([]func(Message){}, c.onMessage...)
	c.mu.Unlock()

	c.metrics.IncRealtimeMessage(c.topic, string(msg.Kind))
	for _, handler := range handlers {
		handler(msg)
	}
}

// finish returns the channel to idle when the loop identified by done exits.
// The loop is cleared and the state set in one critical section, so Connect
// never sees a stopped loop in a non-idle state.
func (c *Channel) finish(done chan struct{}) {
	c.mu.Lock()
	if c.done != done {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.cancel = nil
	c.done = nil
	handlers, changed := c.transitionLocked(StateIdle)
	c.mu.Unlock()

	if changed {
		c.notifyState(StateIdle, handlers)
	}
}

// backoffDelay is base * 2^attempts.
func (c *Channel) backoffDelay(attempts int) time.Duration {
	if attempts > maxBackoffShift {
		attempts = maxBackoffShift
	}
	return c.baseDelay * time.Duration(1<<uint(attempts))
}

func (c *Channel) setState(state State) {
	c.mu.Lock()
	handlers, changed := c.transitionLocked(state)
	c.mu.Unlock()

	if changed {
		c.notifyState(state, handlers)
	}
}

// transitionLocked moves to state and returns the hooks to run once c.mu is
// released. c.mu must be held.
func (c *Channel) transitionLocked(state State) ([]func(State), bool) {
	if c.state == state {
		return nil, false
	}
	c.state = state
	c.metrics.SetRealtimeState(c.topic, int(state))
	return append([]func(State){}, c.onState...), true
}

func (c *Channel) notifyState(state State, handlers []func(State)) {
	for _, handler := range handlers {
		handler(state)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
