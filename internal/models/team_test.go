package models

import (
	"errors"
	"testing"
)

func teamWithMembers(maxSize int, accepted int) *Team {
	t := &Team{
		ID:       1,
		EventID:  10,
		LeaderID: 100,
		MaxSize:  maxSize,
		Status:   TeamForming,
	}
	for i := 0; i < accepted; i++ {
		t.Members = append(t.Members, Membership{
			TeamID: 1,
			UserID: int64(200 + i),
			Status: MembershipAccepted,
		})
	}
	return t
}

func TestTeamSizeCountsLeader(t *testing.T) {
	team := teamWithMembers(4, 2)
	if got := team.Size(); got != 3 {
		t.Fatalf("Size() = %d, want 3", got)
	}
	if team.IsFull() {
		t.Fatal("team with a free slot reported full")
	}
}

func TestCapacityInvariant(t *testing.T) {
	// 1 + accepted members must never exceed max size at the point a join
	// is admitted.
	for accepted := 0; accepted < 5; accepted++ {
		team := teamWithMembers(4, accepted)
		err := team.CanAdmit(999)
		if err == nil && team.Size()+1 > team.MaxSize {
			t.Fatalf("admitting with %d accepted members would exceed max size %d", accepted, team.MaxSize)
		}
	}
}

func TestCanAdmitRejectsFullTeam(t *testing.T) {
	team := teamWithMembers(3, 2)
	if !team.IsFull() {
		t.Fatal("expected team to be full")
	}
	err := team.CanAdmit(999)
	if !errors.Is(err, ErrTeamFull) {
		t.Fatalf("CanAdmit on full team = %v, want ErrTeamFull", err)
	}
}

func TestCanAdmitRejectsNonForming(t *testing.T) {
	for _, status := range []TeamStatus{TeamComplete, TeamDisbanded} {
		team := teamWithMembers(4, 1)
		team.Status = status
		err := team.CanAdmit(999)
		if !errors.Is(err, ErrNotForming) {
			t.Fatalf("CanAdmit with status %q = %v, want ErrNotForming", status, err)
		}
	}
}

func TestInvitedMembersDoNotCount(t *testing.T) {
	team := teamWithMembers(3, 1)
	team.Members = append(team.Members, Membership{UserID: 300, Status: MembershipInvited})
	if got := team.AcceptedCount(); got != 1 {
		t.Fatalf("AcceptedCount() = %d, want 1", got)
	}
	if team.IsFull() {
		t.Fatal("invited membership must not fill a slot")
	}
}

func TestHasMember(t *testing.T) {
	team := teamWithMembers(4, 2)
	if !team.HasMember(100) {
		t.Fatal("leader not reported as member")
	}
	if !team.HasMember(201) {
		t.Fatal("accepted member not reported")
	}
	if team.HasMember(999) {
		t.Fatal("stranger reported as member")
	}
}

func TestRuleErrorCodesAreDistinct(t *testing.T) {
	rules := []*RuleError{
		ErrTeamExists, ErrInvalidCode, ErrNotForming, ErrTeamFull,
		ErrAlreadyMember, ErrLeaderCannotLeave, ErrNotLeader, ErrNotMember,
	}
	seen := make(map[string]bool)
	for _, re := range rules {
		if re.Code == "" || re.Message == "" {
			t.Fatalf("rule error %+v missing code or message", re)
		}
		if seen[re.Code] {
			t.Fatalf("duplicate rule code %q", re.Code)
		}
		seen[re.Code] = true
	}
}
