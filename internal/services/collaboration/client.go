package collaboration

import (
	"encoding/json"
	"time"

	"collabwrite/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 10 << 20 // content snapshots and inline images can be large
)

// connState is where a connection is in the join protocol
type connState int

const (
	stateConnected connState = iota
	stateJoinPending
	stateWaiting
	stateActive
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case stateJoinPending:
		return "joining"
	case stateWaiting:
		return "waiting"
	case stateActive:
		return "active"
	default:
		return "closed"
	}
}

// Client is one websocket connection attached to the hub
// Fields below send are owned by the hub goroutine.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte // Buffered channel for outbound frames
	hub  *Hub

	state       connState
	documentID  string
	userID      string
	joinSeq     uint64
	dropping    bool
	connectedAt time.Time
}

// NewClient wraps conn. A nil conn gives a detached client whose frames stay on the
// send channel, which is what the tests use.
func NewClient(conn *websocket.Conn, buffer int) *Client {
	return &Client{
		ID:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, buffer),
		connectedAt: time.Now(),
	}
}

// enqueue queues a frame without blocking; false means the buffer is full
func (c *Client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) closeTransport() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// ReadPump reads frames from the websocket and hands them to the hub
// Each connection has its own reading goroutine; it unregisters the client on exit.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.closeTransport()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", zap.String("conn_id", c.ID), zap.Error(err))
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			c.hub.Dispatch(c, models.Envelope{Event: eventMalformed})
			continue
		}

		c.hub.Dispatch(c, env)
	}
}

// WritePump writes queued frames and keepalive pings to the websocket
// Frames are written one per websocket message to keep JSON framing intact.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeTransport()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
