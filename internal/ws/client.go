package ws

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrSendBufferFull is returned when a client cannot keep up with the event
// stream. The hub drops such clients rather than blocking the broadcaster.
var ErrSendBufferFull = errors.New("send buffer full")

var errClientClosed = errors.New("client closed")

const defaultSendBuffer = 32

// Client represents a websocket client connection. Writes go through a
// buffered queue drained by a single goroutine, so a slow connection never
// stalls a broadcast.
type Client struct {
	conn   *websocket.Conn
	log    *slog.Logger
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

// NewClient constructs a client wrapper with the given send queue capacity
// and starts its write loop.
func NewClient(conn *websocket.Conn, logger *slog.Logger, buffer int) *Client {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	c := &Client{
		conn:   conn,
		log:    logger,
		send:   make(chan []byte, buffer),
		closed: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *Client) writeLoop() {
	for {
		select {
		case payload := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// Send queues a message for delivery. It fails when the queue is full or the
// client is closed; it never blocks.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.closed:
		return errClientClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.closed:
		return errClientClosed
	default:
		return ErrSendBufferFull
	}
}

// Close terminates the connection and stops the write loop.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}
