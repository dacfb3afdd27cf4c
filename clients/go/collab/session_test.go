package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evently/collab/internal/models"
)

// wsServer is a scripted websocket backend. Each accepted connection is handed
// to the test, which reads the client's frames and decides what to send back.
type wsServer struct {
	srv   *httptest.Server
	conns chan *serverConn
}

type serverConn struct {
	conn   *websocket.Conn
	frames chan models.Envelope
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	ws := &wsServer{conns: make(chan *serverConn, 4)}
	upgrader := websocket.Upgrader{}

	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{conn: conn, frames: make(chan models.Envelope, 16)}
		ws.conns <- sc
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				close(sc.frames)
				return
			}
			var env models.Envelope
			if json.Unmarshal(raw, &env) == nil {
				sc.frames <- env
			}
		}
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http") + "/ws"
}

func (ws *wsServer) accept(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-ws.conns:
		return sc
	case <-time.After(5 * time.Second):
		t.Fatal("no connection arrived")
		return nil
	}
}

func (sc *serverConn) expect(t *testing.T, event string) models.Envelope {
	t.Helper()
	for {
		select {
		case env, ok := <-sc.frames:
			if !ok {
				t.Fatalf("connection closed while waiting for %q", event)
			}
			if env.Event == event {
				return env
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("no %q frame arrived", event)
		}
	}
}

func (sc *serverConn) send(t *testing.T, event string, payload interface{}) {
	t.Helper()
	data, err := models.NewEnvelope(event, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := sc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSessionConnectsAndDispatchesInOrder(t *testing.T) {
	ws := newWSServer(t)
	s := NewSession(ws.url(), "tok")
	defer s.Close()

	var got []string
	done := make(chan struct{})
	s.On(models.EventNewMessage, func(data json.RawMessage) {
		var m models.Message
		json.Unmarshal(data, &m)
		got = append(got, m.ID)
		if len(got) == 3 {
			close(done)
		}
	})

	s.Open(context.Background())
	sc := ws.accept(t)
	waitUntil(t, s.Connected)

	for _, id := range []string{"m1", "m2", "m3"} {
		sc.send(t, models.EventNewMessage, models.Message{ID: id, TeamID: 7})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("received %d of 3 messages", len(got))
	}
	if got[0] != "m1" || got[1] != "m2" || got[2] != "m3" {
		t.Fatalf("order = %v", got)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	s := NewSession("ws://example.test/ws", "tok")
	err := s.Send(models.EventTyping, models.TypingPayload{TeamID: 7, Typing: true})
	if err != ErrNotConnected {
		t.Fatalf("Send while down = %v, want ErrNotConnected", err)
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	ws := newWSServer(t)
	s := NewSession(ws.url(), "tok")
	s.Open(context.Background())
	ws.accept(t)
	waitUntil(t, s.Connected)

	s.Close()
	s.Close()
	waitUntil(t, func() bool { return !s.Connected() })
}

func TestReconnectRejoinsAndRebuildsPresence(t *testing.T) {
	ws := newWSServer(t)
	s := NewSession(ws.url(), "tok")
	defer s.Close()

	binding := NewRoomBinding(s)
	presence := NewPresence(7)
	presence.Listen(s)
	defer presence.Close()

	s.Open(context.Background())
	conn1 := ws.accept(t)
	waitUntil(t, s.Connected)

	if err := binding.Bind(7); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	conn1.expect(t, models.EventJoinRoom)
	conn1.send(t, models.EventPresenceSnapshot, models.PresenceSnapshotPayload{
		TeamID: 7, Online: []int64{1, 2},
	})

	waitUntil(t, func() bool { return binding.State() == Bound })
	waitUntil(t, func() bool { return presence.OnlineCount() == 2 })

	// Drop the connection. The session must reconnect, the binding must
	// re-issue join-room on its own, and presence must be discarded until the
	// fresh snapshot lands. The server holds the snapshot back so the cleared
	// state is observable.
	conn1.conn.Close()

	conn2 := ws.accept(t)
	env := conn2.expect(t, models.EventJoinRoom)
	var join models.JoinRoomPayload
	if err := json.Unmarshal(env.Data, &join); err != nil || join.TeamID != 7 {
		t.Fatalf("rejoin payload = %s", env.Data)
	}

	waitUntil(t, func() bool { return presence.OnlineCount() == 0 })
	if presence.Online(2) {
		t.Fatal("stale presence survived the reconnect")
	}
	if binding.State() != Joining {
		t.Fatalf("binding state = %v before the new snapshot, want joining", binding.State())
	}

	conn2.send(t, models.EventPresenceSnapshot, models.PresenceSnapshotPayload{
		TeamID: 7, Online: []int64{1},
	})
	waitUntil(t, func() bool { return binding.State() == Bound })
	waitUntil(t, func() bool { return presence.OnlineCount() == 1 })
	if presence.Online(2) {
		t.Fatal("user 2 resurrected without being in the new snapshot")
	}
}

func TestReleaseSendsLeaveRoom(t *testing.T) {
	ws := newWSServer(t)
	s := NewSession(ws.url(), "tok")
	defer s.Close()

	binding := NewRoomBinding(s)
	s.Open(context.Background())
	sc := ws.accept(t)
	waitUntil(t, s.Connected)

	if err := binding.Bind(7); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	sc.expect(t, models.EventJoinRoom)

	if err := binding.Bind(8); err != ErrAlreadyBound {
		t.Fatalf("second Bind = %v, want ErrAlreadyBound", err)
	}

	binding.Release()
	env := sc.expect(t, models.EventLeaveRoom)
	var leave models.LeaveRoomPayload
	if err := json.Unmarshal(env.Data, &leave); err != nil || leave.TeamID != 7 {
		t.Fatalf("leave payload = %s", env.Data)
	}
	if binding.State() != Unbound {
		t.Fatalf("state = %v after release, want unbound", binding.State())
	}

	// Released bindings do not rejoin on reconnect.
	if err := binding.Bind(8); err != nil {
		t.Fatalf("rebind after release: %v", err)
	}
	sc.expect(t, models.EventJoinRoom)
}
