package broadcast

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/1ureka/meshcall/internal/util"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// WSClient is a Transport backed by the relay's /ws/:topic endpoint. One
// WebSocket is opened per topic and shared by Publish and Subscribe.
type WSClient struct {
	base *url.URL

	mu     sync.Mutex
	conns  map[string]*wsConn
	closed bool
}

// NewWSClient creates a client for the relay at relayURL (ws:// or wss://).
func NewWSClient(relayURL string) (*WSClient, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid relay URL scheme %q", u.Scheme)
	}
	return &WSClient{base: u, conns: make(map[string]*wsConn)}, nil
}

// TopicURL returns the WebSocket URL for topic.
func (c *WSClient) TopicURL(topic string) string {
	return c.base.JoinPath("ws", topic).String()
}

// Publish writes data to the topic's socket, dialing it if necessary.
func (c *WSClient) Publish(ctx context.Context, topic string, data []byte) error {
	conn, err := c.conn(ctx, topic)
	if err != nil {
		return err
	}
	return conn.send(ctx, data)
}

// Subscribe returns the inbound frames of the topic's socket. The channel
// is closed when the socket drops, ctx is done or the client is closed.
func (c *WSClient) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	conn, err := c.conn(ctx, topic)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case data, ok := <-conn.incoming:
				if !ok {
					return
				}
				select {
				case out <- data:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close closes every socket.
func (c *WSClient) Close() error {
	c.mu.Lock()
	conns := c.conns
	c.conns = nil
	c.closed = true
	c.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}
	return nil
}

func (c *WSClient) conn(ctx context.Context, topic string) (*wsConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if conn, ok := c.conns[topic]; ok && !conn.isDone() {
		return conn, nil
	}

	target := c.TopicURL(topic)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	util.LogDebug("relay connected: %s", target)

	conn := newWSConn(ws)
	c.conns[topic] = conn
	return conn, nil
}

// ---------------------------------------------------------------------------
// wsConn: read/write pumps around one socket
// ---------------------------------------------------------------------------

type wsConn struct {
	ws       *websocket.Conn
	incoming chan []byte
	outgoing chan []byte
	done     chan struct{}
	once     sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{
		ws:       ws,
		incoming: make(chan []byte, 64),
		outgoing: make(chan []byte, 16),
		done:     make(chan struct{}),
	}

	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return c
}

func (c *wsConn) readPump() {
	defer func() {
		c.close()
		close(c.incoming)
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogWarning("relay read failed: %v", err)
			}
			return
		}
		select {
		case c.incoming <- data:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(frameType(data), data); err != nil {
				util.LogWarning("relay write failed: %v", err)
				c.close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// frameType keeps JSON as text frames and sends msgpack as binary.
func frameType(data []byte) int {
	if utf8.Valid(data) {
		return websocket.TextMessage
	}
	return websocket.BinaryMessage
}

func (c *wsConn) send(ctx context.Context, data []byte) error {
	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsConn) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
