package collab

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send while the transport is down.
var ErrNotConnected = errors.New("collab: not connected")

// ErrAlreadyBound is returned by Bind while another room is still bound.
// Release the old binding first; no two rooms are bound concurrently.
var ErrAlreadyBound = errors.New("collab: a room is already bound")

// ErrRequestInFlight is returned when an identical request is already
// pending. The caller's button stays disabled until the first one resolves.
var ErrRequestInFlight = errors.New("collab: request already in flight")

// Rejection codes the backend distinguishes. Every code maps to a dedicated
// predicate below so callers never have to string-match.
const (
	CodeTeamExists        = "team_exists"
	CodeInvalidCode       = "invalid_code"
	CodeNotForming        = "not_forming"
	CodeTeamFull          = "team_full"
	CodeAlreadyMember     = "already_member"
	CodeLeaderCannotLeave = "leader_cannot_leave"
	CodeNotLeader         = "not_leader"
	CodeNotMember         = "not_member"
)

// APIError is a backend rejection. Message carries the backend's wording
// verbatim for direct display.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("collab: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("collab: %s", e.Message)
}

func hasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// IsTeamFull reports a join rejected because the team is at capacity.
func IsTeamFull(err error) bool { return hasCode(err, CodeTeamFull) }

// IsInvalidCode reports an invite code that does not resolve to a live team.
func IsInvalidCode(err error) bool { return hasCode(err, CodeInvalidCode) }

// IsNotForming reports a join against a team no longer accepting members.
func IsNotForming(err error) bool { return hasCode(err, CodeNotForming) }

// IsAlreadyMember reports that the user already holds a membership elsewhere
// for the same event.
func IsAlreadyMember(err error) bool { return hasCode(err, CodeAlreadyMember) }

// IsTeamExists reports a create against an event the user already has a team
// for.
func IsTeamExists(err error) bool { return hasCode(err, CodeTeamExists) }

// IsLeaderCannotLeave reports a leave attempted by the leader.
func IsLeaderCannotLeave(err error) bool { return hasCode(err, CodeLeaderCannotLeave) }

// IsNotLeader reports a disband attempted by a non-leader.
func IsNotLeader(err error) bool { return hasCode(err, CodeNotLeader) }
