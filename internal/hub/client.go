package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 2 * time.Second
	readLimit    = 4096
	sendCapacity = 16
)

var errClientClosed = errors.New("client closed")

type client struct {
	conn    *websocket.Conn
	userID  string
	topic   string
	onClose func(*client)
	logger  *zap.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
	once   sync.Once
}

func newClient(conn *websocket.Conn, userID, topic string, onClose func(*client), logger *zap.Logger) *client {
	return &client{
		conn:    conn,
		userID:  userID,
		topic:   topic,
		onClose: onClose,
		logger:  logger,
		send:    make(chan []byte, sendCapacity),
	}
}

// enqueue queues frame for the write loop without blocking. A full buffer
// drops the frame.
func (c *client) enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

func (c *client) close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()

		_ = c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

func (c *client) readLoop(pongWait time.Duration, onFrame func(*client, []byte)) {
	defer c.close()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logError("read", err)
			return
		}
		if messageType == websocket.TextMessage && onFrame != nil {
			onFrame(c, data)
		}
	}
}

func (c *client) writeLoop(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logError("write", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logError("ping", err)
				return
			}
		}
	}
}

func (c *client) logError(op string, err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	c.logger.Debug("websocket client error",
		zap.String("op", op),
		zap.String("userId", c.userID),
		zap.String("topic", c.topic),
		zap.Error(err),
	)
}
