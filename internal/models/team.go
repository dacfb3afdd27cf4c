package models

// TeamStatus represents the lifecycle state of a team.
type TeamStatus string

const (
	TeamForming   TeamStatus = "forming"
	TeamComplete  TeamStatus = "complete"
	TeamDisbanded TeamStatus = "disbanded"
)

// MembershipStatus represents the state of a team membership.
type MembershipStatus string

const (
	MembershipInvited  MembershipStatus = "invited"
	MembershipAccepted MembershipStatus = "accepted"
)

// Membership is a (team, user) pair. The leader is not represented as a
// membership; Team.LeaderID carries it separately.
type Membership struct {
	ID        int64            `json:"id"`
	TeamID    int64            `json:"team_id"`
	UserID    int64            `json:"user_id"`
	Status    MembershipStatus `json:"status"`
	JoinedAt  int64            `json:"joined_at"`
	FirstName string           `json:"first_name,omitempty"`
	LastName  string           `json:"last_name,omitempty"`
}

// Team represents a team formed for a team-based event.
type Team struct {
	ID         int64        `json:"id"`
	EventID    int64        `json:"event_id"`
	Name       string       `json:"name"`
	LeaderID   int64        `json:"leader_id"`
	LeaderName string       `json:"leader_name,omitempty"`
	MaxSize    int          `json:"max_size"`
	Status     TeamStatus   `json:"status"`
	InviteCode string       `json:"invite_code"`
	Members    []Membership `json:"members"`
	CreatedAt  int64        `json:"created_at"`
	UpdatedAt  int64        `json:"updated_at"`
}

// AcceptedCount returns the number of accepted memberships, excluding the leader.
func (t *Team) AcceptedCount() int {
	n := 0
	for _, m := range t.Members {
		if m.Status == MembershipAccepted {
			n++
		}
	}
	return n
}

// Size returns the current team size: the leader plus accepted members.
func (t *Team) Size() int {
	return 1 + t.AcceptedCount()
}

// IsFull reports whether the team has reached its maximum size.
func (t *Team) IsFull() bool {
	return t.Size() >= t.MaxSize
}

// HasMember reports whether the user is the leader or holds a membership.
func (t *Team) HasMember(userID int64) bool {
	if userID == t.LeaderID {
		return true
	}
	for _, m := range t.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// CanAdmit checks whether a join by userID is allowed. A nil return means the
// join may proceed; HasMember must be checked separately since an existing
// member re-joining is a success path, not a rejection.
func (t *Team) CanAdmit(userID int64) error {
	if t.Status != TeamForming {
		return ErrNotForming
	}
	if t.IsFull() {
		return ErrTeamFull
	}
	return nil
}

// RuleError is a business rejection with a stable machine code. The message is
// surfaced to the user verbatim.
type RuleError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *RuleError) Error() string { return e.Message }

var (
	ErrTeamExists        = &RuleError{Code: "team_exists", Message: "you already have a team for this event"}
	ErrInvalidCode       = &RuleError{Code: "invalid_code", Message: "invite code is invalid or expired"}
	ErrNotForming        = &RuleError{Code: "not_forming", Message: "this team is no longer accepting members"}
	ErrTeamFull          = &RuleError{Code: "team_full", Message: "team is full"}
	ErrAlreadyMember     = &RuleError{Code: "already_member", Message: "you already belong to a team for this event"}
	ErrLeaderCannotLeave = &RuleError{Code: "leader_cannot_leave", Message: "the leader cannot leave; disband the team instead"}
	ErrNotLeader         = &RuleError{Code: "not_leader", Message: "only the team leader can do this"}
	ErrNotMember         = &RuleError{Code: "not_member", Message: "you are not a member of this team"}
)
