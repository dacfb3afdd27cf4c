package collab

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/evently/collab/internal/models"
)

// Stream merges a fetched history page with live inbound messages into one
// ordered, duplicate-free sequence. History arrives oldest-first from the
// backend and is kept as-is; live messages are appended at the tail in
// arrival order. The stream never re-sorts by client clock.
type Stream struct {
	mu       sync.Mutex
	messages []models.Message
	seen     map[string]bool
	closed   bool

	session   *Session
	teamID    int64
	handlerID int

	onAppend func()
}

// NewStream creates an empty stream.
func NewStream() *Stream {
	return &Stream{seen: make(map[string]bool)}
}

// OnAppend registers the callback fired after every successful append. This
// is the scroll-to-newest signal.
func (st *Stream) OnAppend(f func()) {
	st.mu.Lock()
	st.onAppend = f
	st.mu.Unlock()
}

// Listen subscribes the stream to live messages for one team room.
func (st *Stream) Listen(s *Session, teamID int64) {
	st.mu.Lock()
	st.session = s
	st.teamID = teamID
	st.mu.Unlock()

	id := s.On(models.EventNewMessage, func(data json.RawMessage) {
		var m models.Message
		if err := json.Unmarshal(data, &m); err != nil || m.TeamID != teamID {
			return
		}
		st.Append(m)
	})

	st.mu.Lock()
	st.handlerID = id
	st.mu.Unlock()
}

// LoadHistory fetches the history page and merges it in. If the stream was
// closed while the fetch was in flight (the user navigated away), the result
// is discarded.
func (st *Stream) LoadHistory(ctx context.Context, tc *TeamClient, teamID int64) error {
	page, err := tc.History(ctx, teamID)
	if err != nil {
		return err
	}
	st.SetHistory(page)
	return nil
}

// SetHistory places the history page at the head of the sequence. Live
// messages that arrived before the page landed stay after it; any live
// message whose id already appears in history is dropped, not duplicated.
func (st *Stream) SetHistory(page []models.Message) {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}

	merged := make([]models.Message, 0, len(page)+len(st.messages))
	seen := make(map[string]bool, len(page)+len(st.messages))
	for _, m := range page {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		merged = append(merged, m)
	}
	for _, m := range st.messages {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		merged = append(merged, m)
	}
	st.messages = merged
	st.seen = seen
	cb := st.onAppend
	st.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Append adds a live message at the tail. A message already present by id is
// skipped, which covers the re-join race where history returns a message
// that also arrives live.
func (st *Stream) Append(m models.Message) {
	st.mu.Lock()
	if st.closed || st.seen[m.ID] {
		st.mu.Unlock()
		return
	}
	st.seen[m.ID] = true
	st.messages = append(st.messages, m)
	cb := st.onAppend
	st.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Messages returns a copy of the merged sequence.
func (st *Stream) Messages() []models.Message {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]models.Message, len(st.messages))
	copy(out, st.messages)
	return out
}

// Len returns the number of messages in the sequence.
func (st *Stream) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.messages)
}

// Close detaches the stream. Late async results are dropped, never applied
// after teardown.
func (st *Stream) Close() {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	session := st.session
	id := st.handlerID
	st.mu.Unlock()

	if session != nil {
		session.Off(models.EventNewMessage, id)
	}
}
