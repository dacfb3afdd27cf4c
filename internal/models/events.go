package models

import "encoding/json"

// Event names carried over the websocket channel. This is the closed set of
// events the transport speaks; payloads are the structs below.
const (
	// Client to server.
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSendMessage = "send-message"
	EventTyping      = "typing"

	// Server to client.
	EventNewMessage       = "new-message"
	EventPresenceSnapshot = "presence-snapshot"
	EventPresenceDelta    = "presence-delta"
	EventTypingDelta      = "typing-delta"
	EventNotification     = "notification"
	EventError            = "error"
)

// Envelope wraps every websocket frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals a payload into an envelope ready to send.
func NewEnvelope(event string, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// JoinRoomPayload asks the server to scope this connection to a team room.
// It must be re-sent after every reconnect; the server does not remember room
// membership across a dropped connection.
type JoinRoomPayload struct {
	TeamID int64 `json:"team_id"`
}

// LeaveRoomPayload releases the room scope.
type LeaveRoomPayload struct {
	TeamID int64 `json:"team_id"`
}

// SendMessagePayload emits a chat message into the currently bound room.
type SendMessagePayload struct {
	TeamID  int64  `json:"team_id"`
	Type    string `json:"type"`
	Content string `json:"content"`
	FileURL string `json:"file_url,omitempty"`
}

// TypingPayload signals the local typing state for the bound room.
type TypingPayload struct {
	TeamID int64 `json:"team_id"`
	Typing bool  `json:"typing"`
}

// PresenceSnapshotPayload carries the full online set for a room. Sent to a
// client right after it joins; it replaces any previous presence state.
type PresenceSnapshotPayload struct {
	TeamID int64   `json:"team_id"`
	Online []int64 `json:"online"`
}

// PresenceDeltaPayload is an incremental online/offline change. Applying it is
// idempotent set arithmetic.
type PresenceDeltaPayload struct {
	TeamID int64 `json:"team_id"`
	UserID int64 `json:"user_id"`
	Online bool  `json:"online"`
}

// TypingDeltaPayload relays another user's typing state to room members.
type TypingDeltaPayload struct {
	TeamID int64  `json:"team_id"`
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Typing bool   `json:"typing"`
}

// NotificationPayload is a cross-team chat notification delivered to team
// members who are connected but not in the room the message was sent to.
type NotificationPayload struct {
	SenderName string `json:"sender_name"`
	TeamName   string `json:"team_name"`
	Preview    string `json:"preview"`
	Route      string `json:"route"`
}

// ErrorPayload is a server-side rejection pushed over the channel.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}
