package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classchat-service/internal/auth"
	"classchat-service/internal/models"
)

// Client is one websocket connection. Inbound frames are processed
// sequentially by the read pump, so no two handlers for the same connection
// ever run concurrently; outbound frames go through a buffered send channel
// drained by the write pump.
type Client struct {
	ID       string
	Identity auth.Identity

	conn *websocket.Conn
	send chan []byte

	closeMu   sync.Mutex
	closed    bool
	closeOnce sync.Once

	ConnectedAt time.Time
	RequestID   string
	TraceID     string
	DeviceID    string
	IP          string
}

func newClient(id string, identity auth.Identity, conn *websocket.Conn, buffer int) *Client {
	return &Client{
		ID:          id,
		Identity:    identity,
		conn:        conn,
		send:        make(chan []byte, buffer),
		ConnectedAt: time.Now(),
	}
}

// Send marshals a frame onto the client's outbound queue.
func (c *Client) Send(frame models.Frame) {
	payload, _ := json.Marshal(frame)
	c.enqueue(payload)
}

// enqueue queues raw bytes for delivery. A full queue means the consumer has
// stalled; the connection is dropped rather than blocking the hub.
func (c *Client) enqueue(payload []byte) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		log.Printf("websocket send queue full conn=%s user=%s, dropping connection", c.ID, c.Identity.UserID)
		c.closeLocked()
	}
}

func (c *Client) close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	c.closeOnce.Do(func() {
		c.closed = true
		close(c.send)
	})
}

// writePump drains the send channel onto the wire.
func (c *Client) writePump() {
	defer c.conn.Close()
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("websocket write error: %v", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump reads and dispatches inbound frames until the connection dies.
// Returns the close reason, empty for a clean shutdown.
func (c *Client) readPump(server *Server) string {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ""
			}
			return err.Error()
		}

		var frame models.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("websocket bad frame from user=%s: %v", c.Identity.UserID, err)
			continue
		}
		server.Handle(c, frame)
	}
}
