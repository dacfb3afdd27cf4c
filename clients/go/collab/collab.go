// Package collab is the client core of the team collaboration subsystem: one
// reconnecting websocket session per signed-in user, room bindings scoped to a
// team, presence and typing tracking, a merged message stream, the team
// formation API client, and the session-wide notification router.
package collab
