package collab

import (
	"testing"
	"time"

	"github.com/evently/collab/internal/models"
)

func TestPresenceUnknownUntilSnapshot(t *testing.T) {
	p := NewPresence(7)

	// Deltas before the first snapshot must not assert anyone online.
	p.ApplyDelta(1, true)
	if p.Online(1) {
		t.Fatal("user reported online before the first snapshot")
	}
	if p.OnlineCount() != 0 {
		t.Fatalf("OnlineCount() = %d before snapshot, want 0", p.OnlineCount())
	}

	p.ApplySnapshot([]int64{1, 2})
	if !p.Online(1) || !p.Online(2) {
		t.Fatal("snapshot members not reported online")
	}
	if p.Online(3) {
		t.Fatal("stranger reported online")
	}
}

func TestPresenceDeltaIsIdempotent(t *testing.T) {
	p := NewPresence(7)
	p.ApplySnapshot([]int64{1})

	p.ApplyDelta(2, true)
	p.ApplyDelta(2, true)
	if p.OnlineCount() != 2 {
		t.Fatalf("OnlineCount() = %d after duplicate online deltas, want 2", p.OnlineCount())
	}

	p.ApplyDelta(2, false)
	p.ApplyDelta(2, false)
	if p.OnlineCount() != 1 {
		t.Fatalf("OnlineCount() = %d after duplicate offline deltas, want 1", p.OnlineCount())
	}
}

func TestPresenceSnapshotReplacesWholesale(t *testing.T) {
	p := NewPresence(7)
	p.ApplySnapshot([]int64{1, 2, 3})
	p.ApplySnapshot([]int64{4})

	if p.Online(1) || p.Online(2) || p.Online(3) {
		t.Fatal("old snapshot entries survived a new snapshot")
	}
	if !p.Online(4) {
		t.Fatal("new snapshot entry missing")
	}
}

func TestTypingExpiresWithoutStopSignal(t *testing.T) {
	p := NewPresence(7, WithQuietWindow(20*time.Millisecond))

	p.ApplyTyping(2, "Ben", true)
	if got := p.TypingLabel(); got != "Ben is typing..." {
		t.Fatalf("TypingLabel() = %q", got)
	}

	// The stop frame never arrives; the entry must age out on its own.
	time.Sleep(60 * time.Millisecond)
	if got := p.TypingLabel(); got != "" {
		t.Fatalf("TypingLabel() = %q after quiet window, want empty", got)
	}
}

func TestTypingStopClearsImmediately(t *testing.T) {
	p := NewPresence(7)
	p.ApplyTyping(2, "Ben", true)
	p.ApplyTyping(2, "Ben", false)
	if len(p.Typers()) != 0 {
		t.Fatalf("Typers() = %v after stop, want empty", p.Typers())
	}
}

func TestTypingLabelPluralizes(t *testing.T) {
	p := NewPresence(7)

	p.ApplyTyping(2, "Ben", true)
	p.ApplyTyping(3, "Ann", true)
	if got := p.TypingLabel(); got != "Ann and Ben are typing..." {
		t.Fatalf("TypingLabel() = %q", got)
	}

	p.ApplyTyping(4, "Cal", true)
	if got := p.TypingLabel(); got != "3 people are typing..." {
		t.Fatalf("TypingLabel() = %q", got)
	}
}

func TestPresenceResetClearsEverything(t *testing.T) {
	p := NewPresence(7)
	p.ApplySnapshot([]int64{1, 2})
	p.ApplyTyping(2, "Ben", true)

	p.Reset()

	if p.OnlineCount() != 0 {
		t.Fatalf("OnlineCount() = %d after reset, want 0", p.OnlineCount())
	}
	if len(p.Typers()) != 0 {
		t.Fatalf("Typers() = %v after reset, want empty", p.Typers())
	}
	// Back to the unknown state: a delta alone must not resurrect anyone.
	p.ApplyDelta(1, true)
	if p.Online(1) {
		t.Fatal("user reported online after reset without a fresh snapshot")
	}
}

func TestPresenceOnChangeFires(t *testing.T) {
	fired := 0
	p := NewPresence(7, WithOnChange(func() { fired++ }))

	p.ApplySnapshot([]int64{1})
	p.ApplyDelta(2, true)
	p.ApplyTyping(2, "Ben", true)
	if fired != 3 {
		t.Fatalf("onChange fired %d times, want 3", fired)
	}
}

func TestPresenceListenFiltersByTeam(t *testing.T) {
	s := NewSession("ws://example.test/ws", "token")
	p := NewPresence(7)
	p.Listen(s)
	defer p.Close()

	ours, _ := models.NewEnvelope(models.EventPresenceSnapshot, models.PresenceSnapshotPayload{
		TeamID: 7, Online: []int64{1},
	})
	other, _ := models.NewEnvelope(models.EventPresenceSnapshot, models.PresenceSnapshotPayload{
		TeamID: 8, Online: []int64{9},
	})
	s.dispatch(ours)
	s.dispatch(other)

	if !p.Online(1) {
		t.Fatal("snapshot for our room not applied")
	}
	if p.Online(9) {
		t.Fatal("snapshot for another room leaked in")
	}

	delta, _ := models.NewEnvelope(models.EventPresenceDelta, models.PresenceDeltaPayload{
		TeamID: 8, UserID: 2, Online: true,
	})
	s.dispatch(delta)
	if p.Online(2) {
		t.Fatal("delta for another room leaked in")
	}
}

func TestKeystrokeEmitsOnTransitionOnly(t *testing.T) {
	p := NewPresence(7, WithQuietWindow(30*time.Millisecond))

	// No session attached: Keystroke only tracks the local flag. The
	// transition logic is observable through selfTyping.
	p.Keystroke()
	p.mu.Lock()
	first := p.selfTyping
	p.mu.Unlock()
	if !first {
		t.Fatal("first keystroke did not mark self typing")
	}

	p.Keystroke()
	time.Sleep(90 * time.Millisecond)

	p.mu.Lock()
	after := p.selfTyping
	p.mu.Unlock()
	if after {
		t.Fatal("self typing did not clear after the quiet window")
	}
}
