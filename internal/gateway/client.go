package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/qq-chat-exporter/pkg/protocol"
)

const (
	writeTimeout  = 10 * time.Second
	pongTimeout   = 60 * time.Second
	pingInterval  = 30 * time.Second
	sendBufferLen = 64
)

// Client is one connected WebSocket subscriber.
type Client struct {
	id   string
	conn *websocket.Conn

	send      chan protocol.EventFrame
	closeOnce sync.Once
}

// NewClient wraps an upgraded connection with a unique subscriber id.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan protocol.EventFrame, sendBufferLen),
	}
}

// SendEvent enqueues a frame for delivery, dropping it if the client's
// buffer is full rather than blocking the broadcaster.
func (c *Client) SendEvent(frame protocol.EventFrame) {
	select {
	case c.send <- frame:
	default:
		slog.Warn("gateway.client_send_buffer_full", "client_id", c.id)
	}
}

// Run drives the client's write loop (events + heartbeat pings) and read
// loop (pong/close handling) until ctx is canceled or the connection drops.
func (c *Client) Run(ctx context.Context) {
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := c.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close tears down the underlying connection, safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}
