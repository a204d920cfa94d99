package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultHandshakeTimeout = 10 * time.Second

// Conn is an established duplex connection carrying text frames.
type Conn interface {
	Read() ([]byte, error)
	Write(frame []byte) error
	Close() error
}

// Dialer opens a Conn to url. Dial must honour ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	dialer *websocket.Dialer
}

func NewWebsocketDialer(handshakeTimeout time.Duration) *WebsocketDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

// wsConn serializes data writes; gorilla allows one concurrent writer.
// WriteControl and Close are safe to call concurrently.
type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) Read() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) Write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
