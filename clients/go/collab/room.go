package collab

import (
	"encoding/json"
	"sync"

	"github.com/evently/collab/internal/models"
)

// BindState is the room binding lifecycle state.
type BindState int

const (
	Unbound BindState = iota
	Joining
	Bound
)

func (s BindState) String() string {
	switch s {
	case Joining:
		return "joining"
	case Bound:
		return "bound"
	default:
		return "unbound"
	}
}

// RoomBinding scopes the session to one team room. The state machine is
// Unbound -> Joining -> Bound -> Unbound; switching teams always releases the
// previous binding first, so events never leak across rooms. After a
// reconnect the binding re-issues join-room on its own.
type RoomBinding struct {
	session *Session

	mu     sync.Mutex
	state  BindState
	teamID int64

	hookID     int
	snapshotID int
	closed     bool
}

// NewRoomBinding creates an unbound binding on the session.
func NewRoomBinding(s *Session) *RoomBinding {
	b := &RoomBinding{session: s}

	b.hookID = s.OnReconnect(func() {
		b.mu.Lock()
		teamID := b.teamID
		rejoin := b.state != Unbound
		if rejoin {
			b.state = Joining
		}
		b.mu.Unlock()
		if rejoin {
			b.session.Send(models.EventJoinRoom, models.JoinRoomPayload{TeamID: teamID})
		}
	})

	// The presence snapshot doubles as the join acknowledgment.
	b.snapshotID = s.On(models.EventPresenceSnapshot, func(data json.RawMessage) {
		var p models.PresenceSnapshotPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		b.mu.Lock()
		if b.state == Joining && b.teamID == p.TeamID {
			b.state = Bound
		}
		b.mu.Unlock()
	})

	return b
}

// Bind joins the team's room. Fails with ErrAlreadyBound unless the binding
// is currently Unbound.
func (b *RoomBinding) Bind(teamID int64) error {
	b.mu.Lock()
	if b.closed || b.state != Unbound {
		b.mu.Unlock()
		return ErrAlreadyBound
	}
	b.state = Joining
	b.teamID = teamID
	b.mu.Unlock()

	// A send during a gap is fine: the reconnect hook re-issues the join.
	b.session.Send(models.EventJoinRoom, models.JoinRoomPayload{TeamID: teamID})
	return nil
}

// Release leaves the room unconditionally. Called on teardown and before
// binding a different team. Idempotent.
func (b *RoomBinding) Release() {
	b.mu.Lock()
	if b.state == Unbound {
		b.mu.Unlock()
		return
	}
	teamID := b.teamID
	b.state = Unbound
	b.teamID = 0
	b.mu.Unlock()

	b.session.Send(models.EventLeaveRoom, models.LeaveRoomPayload{TeamID: teamID})
}

// State returns the current binding state.
func (b *RoomBinding) State() BindState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// TeamID returns the bound team id, 0 when unbound.
func (b *RoomBinding) TeamID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.teamID
}

// Close releases the room and unsubscribes from the session.
func (b *RoomBinding) Close() {
	b.Release()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.session.OffReconnect(b.hookID)
	b.session.Off(models.EventPresenceSnapshot, b.snapshotID)
}
