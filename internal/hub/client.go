package hub

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Maximum time to write a message
	pongWait       = 60 * time.Second    // Time to wait for pong response
	pingPeriod     = (pongWait * 9) / 10 // Ping interval (must be < pongWait)
	maxMessageSize = 512 * 1024          // Maximum message size (512KB)
	sendBuffer     = 256
)

// Client is one editor's WebSocket connection to a document.
// It runs two concurrent goroutines: ReadPump for incoming
// messages and WritePump for outgoing messages.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte // Buffered channel for outbound messages
	documentID string
	clientID   string
}

// NewClient creates a new Client instance.
func NewClient(hub *Hub, conn *websocket.Conn, documentID, clientID string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		documentID: documentID,
		clientID:   clientID,
	}
}

// ReadPump reads messages from the WebSocket and hands them to the hub.
// It runs until the connection closes, then unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("unexpected websocket close from %s: %v", c.clientID, err)
			}
			break
		}

		c.hub.Submit(message, c)
	}
}

// WritePump sends messages from the hub to the WebSocket, one JSON
// message per frame. It also sends periodic pings to detect disconnected
// clients.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
