package collab

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/evently/collab/internal/models"
)

// DefaultQuietWindow is how long after the last keystroke a typing indicator
// survives. Inbound typing entries expire on the same window so a lost
// "stopped typing" frame cannot leave a ghost typer.
const DefaultQuietWindow = 3 * time.Second

// Presence tracks who is online and who is typing for one team room. The
// online set is authoritative server state, rebuilt from a snapshot on every
// (re)join; the local typing flag is ephemeral client state. The two are
// never merged.
type Presence struct {
	teamID int64
	quiet  time.Duration

	mu          sync.Mutex
	online      map[int64]bool
	hasSnapshot bool
	typing      map[int64]string
	timers      map[int64]*time.Timer

	selfTyping bool
	selfTimer  *time.Timer

	session    *Session
	handlerIDs map[string]int
	hookID     int
	closed     bool

	onChange func()
}

// PresenceOption configures a Presence coordinator.
type PresenceOption func(*Presence)

// WithQuietWindow overrides the typing expiry window.
func WithQuietWindow(d time.Duration) PresenceOption {
	return func(p *Presence) { p.quiet = d }
}

// WithOnChange sets a callback fired after every state change. This is the
// render/auto-scroll signal.
func WithOnChange(f func()) PresenceOption {
	return func(p *Presence) { p.onChange = f }
}

// NewPresence creates a coordinator for one team room.
func NewPresence(teamID int64, opts ...PresenceOption) *Presence {
	p := &Presence{
		teamID: teamID,
		quiet:  DefaultQuietWindow,
		online: make(map[int64]bool),
		typing: make(map[int64]string),
		timers: make(map[int64]*time.Timer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Listen subscribes the coordinator to the session's presence and typing
// events for its room. A reconnect discards all state: it is stale until the
// fresh snapshot arrives.
func (p *Presence) Listen(s *Session) {
	p.mu.Lock()
	p.session = s
	p.mu.Unlock()

	ids := map[string]int{}
	ids[models.EventPresenceSnapshot] = s.On(models.EventPresenceSnapshot, func(data json.RawMessage) {
		var payload models.PresenceSnapshotPayload
		if err := json.Unmarshal(data, &payload); err != nil || payload.TeamID != p.teamID {
			return
		}
		p.ApplySnapshot(payload.Online)
	})
	ids[models.EventPresenceDelta] = s.On(models.EventPresenceDelta, func(data json.RawMessage) {
		var payload models.PresenceDeltaPayload
		if err := json.Unmarshal(data, &payload); err != nil || payload.TeamID != p.teamID {
			return
		}
		p.ApplyDelta(payload.UserID, payload.Online)
	})
	ids[models.EventTypingDelta] = s.On(models.EventTypingDelta, func(data json.RawMessage) {
		var payload models.TypingDeltaPayload
		if err := json.Unmarshal(data, &payload); err != nil || payload.TeamID != p.teamID {
			return
		}
		p.ApplyTyping(payload.UserID, payload.Name, payload.Typing)
	})

	hookID := s.OnReconnect(p.Reset)

	p.mu.Lock()
	p.handlerIDs = ids
	p.hookID = hookID
	p.mu.Unlock()
}

// ApplySnapshot replaces the online set wholesale.
func (p *Presence) ApplySnapshot(online []int64) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.online = make(map[int64]bool, len(online))
	for _, id := range online {
		p.online[id] = true
	}
	p.hasSnapshot = true
	p.mu.Unlock()
	p.notify()
}

// ApplyDelta applies one online/offline change. Idempotent: adding a present
// id or removing an absent one is a no-op, so out-of-order delivery is
// harmless.
func (p *Presence) ApplyDelta(userID int64, online bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if online {
		p.online[userID] = true
	} else {
		delete(p.online, userID)
	}
	p.mu.Unlock()
	p.notify()
}

// ApplyTyping applies an inbound typing change. A typing=true entry expires
// after the quiet window even if no typing=false ever arrives.
func (p *Presence) ApplyTyping(userID int64, name string, typing bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if t, ok := p.timers[userID]; ok {
		t.Stop()
		delete(p.timers, userID)
	}
	if typing {
		p.typing[userID] = name
		p.timers[userID] = time.AfterFunc(p.quiet, func() {
			p.expireTyping(userID)
		})
	} else {
		delete(p.typing, userID)
	}
	p.mu.Unlock()
	p.notify()
}

func (p *Presence) expireTyping(userID int64) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	delete(p.typing, userID)
	delete(p.timers, userID)
	p.mu.Unlock()
	p.notify()
}

// Keystroke signals local typing. The first keystroke emits typing=true
// immediately; every keystroke resets the quiet window; when it elapses with
// no further keystroke, typing=false is emitted. Debounced, not throttled.
func (p *Presence) Keystroke() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	session := p.session
	emit := !p.selfTyping
	p.selfTyping = true
	if p.selfTimer != nil {
		p.selfTimer.Stop()
	}
	p.selfTimer = time.AfterFunc(p.quiet, p.stopTyping)
	p.mu.Unlock()

	if emit && session != nil {
		session.Send(models.EventTyping, models.TypingPayload{TeamID: p.teamID, Typing: true})
	}
}

func (p *Presence) stopTyping() {
	p.mu.Lock()
	if p.closed || !p.selfTyping {
		p.mu.Unlock()
		return
	}
	p.selfTyping = false
	session := p.session
	p.mu.Unlock()

	if session != nil {
		session.Send(models.EventTyping, models.TypingPayload{TeamID: p.teamID, Typing: false})
	}
}

// Online reports whether the user is known to be online. Before the first
// snapshot presence is unknown and reported as offline, never asserted.
func (p *Presence) Online(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasSnapshot && p.online[userID]
}

// OnlineCount returns the number of users known online.
func (p *Presence) OnlineCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasSnapshot {
		return 0
	}
	return len(p.online)
}

// Typers returns the display names of everyone currently typing, sorted for
// stable rendering.
func (p *Presence) Typers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.typing))
	for _, name := range p.typing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TypingLabel renders the typing indicator, pluralized for one vs. many.
func (p *Presence) TypingLabel() string {
	names := p.Typers()
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	case 2:
		return names[0] + " and " + names[1] + " are typing..."
	default:
		return fmt.Sprintf("%d people are typing...", len(names))
	}
}

// Reset discards all presence and typing state. Called on unbind and on
// reconnect so a stale "online"/"typing" never shows after a gap.
func (p *Presence) Reset() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.online = make(map[int64]bool)
	p.hasSnapshot = false
	p.typing = make(map[int64]string)
	for _, t := range p.timers {
		t.Stop()
	}
	p.timers = make(map[int64]*time.Timer)
	if p.selfTimer != nil {
		p.selfTimer.Stop()
	}
	p.selfTyping = false
	p.mu.Unlock()
	p.notify()
}

// Close unsubscribes and stops all timers. The coordinator is unusable after.
func (p *Presence) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	session := p.session
	ids := p.handlerIDs
	hookID := p.hookID
	for _, t := range p.timers {
		t.Stop()
	}
	if p.selfTimer != nil {
		p.selfTimer.Stop()
	}
	p.mu.Unlock()

	if session != nil {
		for event, id := range ids {
			session.Off(event, id)
		}
		session.OffReconnect(hookID)
	}
}

func (p *Presence) notify() {
	if p.onChange != nil {
		p.onChange()
	}
}
