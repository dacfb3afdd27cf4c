package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evently/collab/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound message size.
	maxMessageSize = 4096
)

// Client represents one websocket connection of an authenticated user.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// done is closed by the hub on unregister. send itself is never closed:
	// broadcasters enqueue without holding the hub lock, and a send on a
	// closed channel would panic the whole process.
	done chan struct{}

	UserID int64
	Name   string

	// room is the team id the client is bound to, 0 when unbound.
	// Guarded by hub.mu.
	room int64
}

// NewClient wraps an upgraded connection. The caller registers it with the
// hub and starts the pumps.
func NewClient(h *Hub, conn *websocket.Conn, userID int64, name string) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		UserID: userID,
		Name:   name,
	}
}

// Start registers the client and runs the read/write pumps.
func (c *Client) Start() {
	c.hub.Register <- c
	go c.writePump()
	go c.readPump()
}

func (c *Client) enqueue(data []byte) {
	select {
	case <-c.done:
		// Already unregistered.
	case c.send <- data:
	default:
		// Slow consumer; drop the frame rather than block the hub.
	}
}

func (c *Client) currentRoom() int64 {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.room
}

func (c *Client) sendError(code, message string) {
	if data, err := models.NewEnvelope(models.EventError, models.ErrorPayload{
		Code:    code,
		Message: message,
	}); err == nil {
		c.enqueue(data)
	}
}

// readPump pumps messages from the websocket connection into the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected close", "user_id", c.UserID, "error", err)
			}
			break
		}

		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		c.dispatch(env)
	}
}

// dispatch handles one inbound envelope. Room-scoped events are only honored
// for the room the connection currently owns.
func (c *Client) dispatch(env models.Envelope) {
	switch env.Event {
	case models.EventJoinRoom:
		var p models.JoinRoomPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.TeamID == 0 {
			return
		}
		c.hub.JoinRoom(c, p.TeamID)

	case models.EventLeaveRoom:
		c.hub.LeaveRoom(c)

	case models.EventTyping:
		var p models.TypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if c.currentRoom() != p.TeamID {
			c.sendError("not_in_room", "typing signal for a room you are not in")
			return
		}
		data, err := models.NewEnvelope(models.EventTypingDelta, models.TypingDeltaPayload{
			TeamID: p.TeamID,
			UserID: c.UserID,
			Name:   c.Name,
			Typing: p.Typing,
		})
		if err != nil {
			return
		}
		c.hub.BroadcastToRoom(p.TeamID, data, c)

	case models.EventSendMessage:
		var p models.SendMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if c.currentRoom() != p.TeamID {
			c.sendError("not_in_room", "message for a room you are not in")
			return
		}
		if c.hub.sink == nil {
			return
		}
		if err := c.hub.sink.HandleSend(context.Background(), c.UserID, c.Name, p); err != nil {
			if re, ok := err.(*models.RuleError); ok {
				c.sendError(re.Code, re.Message)
			} else {
				c.sendError("send_failed", "message could not be delivered")
			}
		}
	}
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
