// File: internal/stream/client.go
package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one WebSocket subscriber attached to the hub
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan StreamMessage
	remoteAddr string
	closeOnce  sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan StreamMessage, 64),
		remoteAddr: remoteAddr,
	}
}

// start launches the read and write pumps
func (c *Client) start() {
	go c.writePump()
	go c.readPump()
}

// enqueue offers a message to the client buffer without blocking. Returns
// false when the buffer is full so the hub can drop the client.
func (c *Client) enqueue(message StreamMessage) bool {
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// closeSend shuts the send channel exactly once
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// readPump consumes inbound frames. Subscribers are read-only apart from
// ping messages, so everything else is discarded.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopChan:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var message StreamMessage
		if err := c.conn.ReadJSON(&message); err != nil {
			return
		}

		if message.Type == MessageTypePing {
			c.enqueue(StreamMessage{Type: MessageTypePong, Timestamp: time.Now().UTC()})
		}
	}
}

// writePump drains the send buffer to the connection and keeps it alive
// with periodic pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
