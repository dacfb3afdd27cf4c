package collab

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evently/collab/internal/models"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second

	reconnectMin = 500 * time.Millisecond
	reconnectMax = 30 * time.Second
)

// Handler receives the raw payload of one inbound event.
type Handler func(data json.RawMessage)

// Session owns the one live channel to the backend for a signed-in user. It
// authenticates once at connect time, reconnects automatically with backoff,
// and dispatches inbound events to subscribed handlers in receipt order. All
// room bindings multiplex over a single Session.
type Session struct {
	wsURL  string
	token  string
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	cancel    context.CancelFunc

	writeMu sync.Mutex

	handlers      map[string]map[int]Handler
	nextHandlerID int

	hooks      map[int]func()
	nextHookID int
}

// NewSession creates a session for the given websocket URL and auth token.
// Call Open to connect.
func NewSession(wsURL, token string) *Session {
	return &Session{
		wsURL:    wsURL,
		token:    token,
		dialer:   websocket.DefaultDialer,
		handlers: make(map[string]map[int]Handler),
		hooks:    make(map[int]func()),
	}
}

// Open starts the connection loop. Authentication rejections and connection
// losses are retried silently; Connected is the degraded-connectivity
// indicator. Open returns immediately.
func (s *Session) Open(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil || s.closed {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(runCtx)
}

func (s *Session) run(ctx context.Context) {
	backoff := reconnectMin
	for {
		if ctx.Err() != nil || s.isClosed() {
			return
		}

		conn, _, err := s.dialer.DialContext(ctx, s.dialURL(), nil)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}
		backoff = reconnectMin

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conn = conn
		s.connected = true
		hooks := make([]func(), 0, len(s.hooks))
		for _, h := range s.hooks {
			hooks = append(hooks, h)
		}
		s.mu.Unlock()

		// Reconnect hooks run on every successful connect so bindings can
		// re-issue join-room; the server forgets room membership on drop.
		for _, h := range hooks {
			h()
		}

		s.readLoop(conn)

		s.mu.Lock()
		s.connected = false
		s.conn = nil
		s.mu.Unlock()
	}
}

func (s *Session) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(writeWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(raw)
	}
}

// dispatch delivers one inbound frame to every handler subscribed to its
// event, sequentially, preserving receipt order.
func (s *Session) dispatch(raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	s.mu.Lock()
	subs := make([]Handler, 0, len(s.handlers[env.Event]))
	for _, h := range s.handlers[env.Event] {
		subs = append(subs, h)
	}
	s.mu.Unlock()

	for _, h := range subs {
		h(env.Data)
	}
}

// Send emits a typed event. Fire-and-forget: the backend is the source of
// truth for side effects. ErrNotConnected is returned during a gap; consumers
// must not assume delivery across reconnects.
func (s *Session) Send(event string, payload interface{}) error {
	data, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	ok := s.connected
	s.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// On subscribes a handler to an event and returns an id for Off.
func (s *Session) On(event string, h Handler) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers[event] == nil {
		s.handlers[event] = make(map[int]Handler)
	}
	s.nextHandlerID++
	s.handlers[event][s.nextHandlerID] = h
	return s.nextHandlerID
}

// Off removes a subscription. Safe to call twice.
func (s *Session) Off(event string, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers[event], id)
}

// OnReconnect registers a hook invoked after every successful (re)connect.
func (s *Session) OnReconnect(h func()) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHookID++
	s.hooks[s.nextHookID] = h
	return s.nextHookID
}

// OffReconnect removes a reconnect hook.
func (s *Session) OffReconnect(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hooks, id)
}

// Connected reports whether the channel is currently up.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Close tears the session down. Idempotent; guaranteed release on logout.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) dialURL() string {
	u, err := url.Parse(s.wsURL)
	if err != nil {
		return s.wsURL
	}
	q := u.Query()
	q.Set("token", s.token)
	u.RawQuery = q.Encode()
	return u.String()
}
