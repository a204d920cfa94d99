package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kursadbilgin/notify-sync/internal/observability"
	"github.com/kursadbilgin/notify-sync/internal/queue"
	"github.com/kursadbilgin/notify-sync/internal/realtime"
	"go.uber.org/zap"
)

const (
	defaultPingPeriod  = 45 * time.Second
	defaultPongTimeout = 15 * time.Second
	controlTimeout     = 5 * time.Second
)

var topicPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ControlHandler receives control messages sent by connected clients.
type ControlHandler interface {
	HandleControl(ctx context.Context, event queue.ControlEvent) error
}

type clientKey struct {
	userID string
	topic  string
}

// Hub is the server end of the realtime endpoint: it authenticates clients on
// GET /ws/<topic>/?token=, fans pushed frames out to them and relays their
// control messages.
type Hub struct {
	verifier    *TokenVerifier
	control     ControlHandler
	upgrader    *websocket.Upgrader
	pingPeriod  time.Duration
	pongTimeout time.Duration
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.RWMutex
	clients map[clientKey][]*client
}

func NewHub(
	verifier *TokenVerifier,
	control ControlHandler,
	pingPeriod time.Duration,
	pongTimeout time.Duration,
	allowedOrigins []string,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Hub, error) {
	if verifier == nil {
		return nil, fmt.Errorf("token verifier is required")
	}
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	if pongTimeout <= 0 {
		pongTimeout = defaultPongTimeout
	}

	origins, err := compileOrigins(allowedOrigins)
	if err != nil {
		return nil, err
	}

	return &Hub{
		verifier:    verifier,
		control:     control,
		upgrader:    newUpgrader(origins),
		pingPeriod:  pingPeriod,
		pongTimeout: pingPeriod + pongTimeout,
		metrics:     metrics,
		logger:      observability.Component(logger, "hub"),
		now:         time.Now,
		clients:     make(map[clientKey][]*client),
	}, nil
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic, ok := topicFromPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	userID, err := h.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		h.logger.Debug("rejecting websocket client", zap.String("topic", topic), zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(conn, userID, topic, h.remove, h.logger)
	h.register(c)
	go c.readLoop(h.pongTimeout, h.handleFrame)
	go c.writeLoop(h.pingPeriod)
}

// Notify queues frame for every client of userID subscribed to topic and
// returns how many clients it was queued for.
func (h *Hub) Notify(userID, topic string, frame []byte) int {
	h.mu.RLock()
	clients := append([]*client(nil), h.clients[clientKey{userID: userID, topic: topic}]...)
	h.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		if err := c.enqueue(frame); err != nil {
			h.logger.Warn("dropping frame for client",
				zap.String("userId", userID),
				zap.String("topic", topic),
				zap.Error(err),
			)
			continue
		}
		delivered++
		h.metrics.IncGatewayPushDelivered(topic)
	}
	return delivered
}

// Clients returns the number of connected clients of userID on topic.
func (h *Hub) Clients(userID, topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[clientKey{userID: userID, topic: topic}])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*client
	for _, clients := range h.clients {
		all = append(all, clients...)
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.close()
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	key := clientKey{userID: c.userID, topic: c.topic}
	h.clients[key] = append(h.clients[key], c)
	h.mu.Unlock()

	h.metrics.IncGatewayClients(c.topic)
	h.logger.Info("websocket client connected", zap.String("userId", c.userID), zap.String("topic", c.topic))
}

func (h *Hub) remove(c *client) {
	key := clientKey{userID: c.userID, topic: c.topic}

	h.mu.Lock()
	clients := h.clients[key]
	for i := range clients {
		if clients[i] == c {
			clients = append(clients[:i:i], clients[i+1:]...)
			break
		}
	}
	if len(clients) == 0 {
		delete(h.clients, key)
	} else {
		h.clients[key] = clients
	}
	h.mu.Unlock()

	h.metrics.DecGatewayClients(c.topic)
	h.logger.Info("websocket client disconnected", zap.String("userId", c.userID), zap.String("topic", c.topic))
}

func (h *Hub) handleFrame(c *client, frame []byte) {
	var msg realtime.ControlMessage
	if err := json.Unmarshal(frame, &msg); err != nil || strings.TrimSpace(msg.Type) == "" {
		h.logger.Debug("ignoring malformed control frame", zap.String("userId", c.userID), zap.String("topic", c.topic))
		return
	}
	if h.control == nil {
		return
	}

	event := queue.ControlEvent{
		ID:             uuid.NewString(),
		UserID:         c.userID,
		Topic:          c.topic,
		Type:           msg.Type,
		NotificationID: msg.NotificationID,
		Page:           msg.Page,
		ReceivedAt:     h.now().UTC(),
	}
	if err := event.Validate(); err != nil {
		h.logger.Debug("ignoring invalid control message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	if err := h.control.HandleControl(ctx, event); err != nil {
		h.logger.Error("failed to relay control message",
			zap.String("userId", c.userID),
			zap.String("type", event.Type),
			zap.Error(err),
		)
	}
}

// topicFromPath extracts <topic> from /ws/<topic>/ (trailing slash optional).
func topicFromPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/ws/")
	if !ok {
		return "", false
	}
	topic := strings.TrimSuffix(rest, "/")
	if !topicPattern.MatchString(topic) {
		return "", false
	}
	return topic, true
}

func compileOrigins(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed origin %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func newUpgrader(allowedOrigins []*regexp.Regexp) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isAllowedOrigin(r, allowedOrigins)
		},
	}
}

// isAllowedOrigin accepts requests without an Origin header, same-host
// origins and hosts matching one of the allowed patterns.
func isAllowedOrigin(r *http.Request, allowedOrigins []*regexp.Regexp) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range allowedOrigins {
		if allowed.MatchString(strings.ToLower(u.Hostname())) {
			return true
		}
	}
	return false
}
