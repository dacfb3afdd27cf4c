package collab

import (
	"testing"

	"github.com/evently/collab/internal/models"
)

func notificationFrame(t *testing.T) []byte {
	t.Helper()
	data, err := models.NewEnvelope(models.EventNotification, models.NotificationPayload{
		SenderName: "Ben",
		TeamName:   "Rocket",
		Preview:    "see you at the demo",
		Route:      "/teams",
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestRouterDeliversOnce(t *testing.T) {
	s := NewSession("ws://example.test/ws", "token")
	r := NewNotificationRouter(s)

	var got []Notification
	r.Attach(func(n Notification) { got = append(got, n) })

	s.dispatch(notificationFrame(t))

	if len(got) != 1 {
		t.Fatalf("delivered %d notifications, want 1", len(got))
	}
	if got[0].SenderName != "Ben" || got[0].Route != "/teams" {
		t.Fatalf("notification = %+v", got[0])
	}
}

func TestDoubleAttachDoesNotDoubleDeliver(t *testing.T) {
	s := NewSession("ws://example.test/ws", "token")
	r := NewNotificationRouter(s)

	delivered := 0
	r.Attach(func(Notification) { delivered++ })
	r.Attach(func(Notification) { delivered += 100 })

	s.dispatch(notificationFrame(t))

	if delivered != 1 {
		t.Fatalf("delivered = %d, want exactly one delivery to the first target", delivered)
	}
}

func TestDetachStopsDelivery(t *testing.T) {
	s := NewSession("ws://example.test/ws", "token")
	r := NewNotificationRouter(s)

	delivered := 0
	r.Attach(func(Notification) { delivered++ })
	if !r.Attached() {
		t.Fatal("router not attached after Attach")
	}

	r.Detach()
	r.Detach()
	if r.Attached() {
		t.Fatal("router still attached after Detach")
	}

	s.dispatch(notificationFrame(t))
	if delivered != 0 {
		t.Fatalf("delivered = %d after detach, want 0", delivered)
	}
}
