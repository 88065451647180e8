package fanout

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

const (
	// Time allowed to write a message to the viewer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the viewer.
	pongWait = 60 * time.Second

	// Send pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Viewers only send control frames and the occasional keepalive.
	maxMessageSize = 4 * 1024
)

// Client is one live viewer connection.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	// send is never closed; done signals shutdown so that a concurrent
	// Broadcast can never write to a closed channel.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, buffer int) *Client {
	return &Client{
		id:   ulid.Make().String(),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// enqueue hands data to the write pump without blocking.
// It returns false when the viewer is closed or its buffer is full.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close stops both pumps. Safe to call more than once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// readPump discards inbound frames and notices when the viewer goes away.
func (c *Client) readPump() {
	defer c.hub.unregister(c, reasonDisconnected)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug().Err(err).Str("viewer", c.id).Msg("viewer read error")
			}
			return
		}
	}
}

// writePump delivers queued events in order and keeps the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.unregister(c, reasonWriteFailed)
	}()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
