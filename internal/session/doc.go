// Package session manages engagement sessions.
//
// A session is the unit of isolation: it owns the target scope, the
// findings recorded against it, and an activity log. Runs execute within
// exactly one session, and the control surface addresses runs by session
// ID.
package session
