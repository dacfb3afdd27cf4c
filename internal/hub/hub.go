package hub

import (
	"context"
	"sync"

	"github.com/evently/collab/internal/logger"
	"github.com/evently/collab/internal/models"
)

// MessageSink handles send-message events arriving over the websocket. It is
// an interface so the hub does not depend on the message service.
type MessageSink interface {
	HandleSend(ctx context.Context, senderID int64, senderName string, p models.SendMessagePayload) error
}

// Hub maintains the set of active clients, the room each client is bound to,
// and routes room-scoped and per-user events.
type Hub struct {
	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	clients map[*Client]bool

	// rooms maps a team id to the clients currently bound to its room.
	rooms map[int64]map[*Client]bool

	// sessions maps a user id to all of that user's connections, bound or
	// not. Used for cross-team notification push.
	sessions map[int64]map[*Client]bool

	sink MessageSink
	log  *logger.Logger
	mu   sync.RWMutex
}

// New creates a hub. Call Run in a goroutine before registering clients.
func New(log *logger.Logger) *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		rooms:      make(map[int64]map[*Client]bool),
		sessions:   make(map[int64]map[*Client]bool),
		log:        log,
	}
}

// SetSink wires the handler for inbound send-message events.
func (h *Hub) SetSink(s MessageSink) {
	h.sink = s
}

// Run processes client registration. It owns the clients map together with
// the mutex-guarded room bookkeeping.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			if _, ok := h.sessions[client.UserID]; !ok {
				h.sessions[client.UserID] = make(map[*Client]bool)
			}
			h.sessions[client.UserID][client] = true
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; !ok {
				h.mu.Unlock()
				continue
			}
			delete(h.clients, client)
			if conns, ok := h.sessions[client.UserID]; ok {
				delete(conns, client)
				if len(conns) == 0 {
					delete(h.sessions, client.UserID)
				}
			}
			teamID, wentOffline := h.leaveRoomLocked(client)
			close(client.done)
			h.mu.Unlock()

			if wentOffline {
				h.broadcastPresenceDelta(teamID, client.UserID, false)
			}
		}
	}
}

// JoinRoom binds a client to a team room. A client is in at most one room; a
// join while bound elsewhere tears the old binding down first. The client
// receives a full presence snapshot, and the room is told about the user
// coming online if this is their first connection in it.
func (h *Hub) JoinRoom(c *Client, teamID int64) {
	h.mu.Lock()
	oldTeam, wentOffline := h.leaveRoomLocked(c)

	if _, ok := h.rooms[teamID]; !ok {
		h.rooms[teamID] = make(map[*Client]bool)
	}
	cameOnline := !h.userInRoomLocked(teamID, c.UserID)
	h.rooms[teamID][c] = true
	c.room = teamID

	// The snapshot is queued while the lock is still held. Broadcasters
	// serialize on the same lock, so no delta can land in this client's queue
	// ahead of the snapshot and then be erased by it.
	if data, err := models.NewEnvelope(models.EventPresenceSnapshot, models.PresenceSnapshotPayload{
		TeamID: teamID,
		Online: h.roomOnlineLocked(teamID),
	}); err == nil {
		c.enqueue(data)
	}
	h.mu.Unlock()

	if wentOffline {
		h.broadcastPresenceDelta(oldTeam, c.UserID, false)
	}

	if cameOnline {
		h.broadcastPresenceDelta(teamID, c.UserID, true)
	}

	h.log.Debug("client joined room", "team_id", teamID, "user_id", c.UserID)
}

// LeaveRoom releases a client's room binding, if any.
func (h *Hub) LeaveRoom(c *Client) {
	h.mu.Lock()
	teamID, wentOffline := h.leaveRoomLocked(c)
	h.mu.Unlock()

	if wentOffline {
		h.broadcastPresenceDelta(teamID, c.UserID, false)
	}
}

// leaveRoomLocked removes the client from its current room. It reports the
// room left and whether the user's last connection in that room is gone.
// Caller holds h.mu.
func (h *Hub) leaveRoomLocked(c *Client) (int64, bool) {
	teamID := c.room
	if teamID == 0 {
		return 0, false
	}
	c.room = 0

	room, ok := h.rooms[teamID]
	if !ok {
		return 0, false
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, teamID)
	}
	return teamID, !h.userInRoomLocked(teamID, c.UserID)
}

func (h *Hub) userInRoomLocked(teamID, userID int64) bool {
	for client := range h.rooms[teamID] {
		if client.UserID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) roomOnlineLocked(teamID int64) []int64 {
	seen := make(map[int64]bool)
	online := make([]int64, 0, len(h.rooms[teamID]))
	for client := range h.rooms[teamID] {
		if !seen[client.UserID] {
			seen[client.UserID] = true
			online = append(online, client.UserID)
		}
	}
	return online
}

// RoomOnline returns the distinct user ids currently bound to a room.
func (h *Hub) RoomOnline(teamID int64) []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.roomOnlineLocked(teamID)
}

// BroadcastToRoom sends a frame to every client bound to the room. A non-nil
// except client is skipped.
func (h *Hub) BroadcastToRoom(teamID int64, data []byte, except *Client) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[teamID]))
	for client := range h.rooms[teamID] {
		if client != except {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.enqueue(data)
	}
}

// NotifyUser pushes a frame to every connection of a user that is not
// currently bound to the given room. Connections inside the room already see
// the message itself.
func (h *Hub) NotifyUser(userID, exceptTeamID int64, data []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.sessions[userID]))
	for client := range h.sessions[userID] {
		if client.room != exceptTeamID {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.enqueue(data)
	}
}

func (h *Hub) broadcastPresenceDelta(teamID, userID int64, online bool) {
	data, err := models.NewEnvelope(models.EventPresenceDelta, models.PresenceDeltaPayload{
		TeamID: teamID,
		UserID: userID,
		Online: online,
	})
	if err != nil {
		return
	}
	h.BroadcastToRoom(teamID, data, nil)
}
