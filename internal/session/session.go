// Package session describes what the friends engine needs from the
// session subsystem: connection identity and the presence table.
package session

import "friendserver/internal/protocol"

// Conn is a live client connection. Send is fire-and-forget: a nil error
// means the message was queued, not delivered.
type Conn interface {
	ID() string
	Username() string
	Send(msg *protocol.Message) error
}

// Presence maps a username to its active connection.
type Presence interface {
	ConnectionOf(username string) (Conn, bool)
}

// Sessions is the read side of the session subsystem.
type Sessions interface {
	Presence
	IsAuthenticated(conn Conn) bool
	UsernameOf(conn Conn) string
}
