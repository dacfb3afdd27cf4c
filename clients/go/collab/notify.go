package collab

import (
	"encoding/json"
	"sync"

	"github.com/evently/collab/internal/models"
)

// Notification is a cross-team chat alert: who wrote, in which team, a
// truncated preview, and the route to navigate to when selected.
type Notification = models.NotificationPayload

// NotificationRouter delivers cross-team chat notifications while no chat
// room is open. It binds to the session at login and lives until logout,
// independent of any room binding. Exactly one router is active per session:
// attaching twice keeps the first delivery target and never double-delivers.
type NotificationRouter struct {
	session *Session

	mu        sync.Mutex
	attached  bool
	handlerID int
}

// NewNotificationRouter creates a detached router on the session.
func NewNotificationRouter(s *Session) *NotificationRouter {
	return &NotificationRouter{session: s}
}

// Attach subscribes the router with the given delivery callback. A second
// Attach while attached is a no-op.
func (r *NotificationRouter) Attach(deliver func(Notification)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attached {
		return
	}
	r.attached = true
	r.handlerID = r.session.On(models.EventNotification, func(data json.RawMessage) {
		var n Notification
		if err := json.Unmarshal(data, &n); err != nil {
			return
		}
		deliver(n)
	})
}

// Detach unsubscribes. Idempotent; called on logout.
func (r *NotificationRouter) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.attached {
		return
	}
	r.attached = false
	r.session.Off(models.EventNotification, r.handlerID)
}

// Attached reports whether the router is currently subscribed.
func (r *NotificationRouter) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attached
}
