// Package sessiontest provides in-memory connections and a presence table
// for tests of code that talks to clients.
package sessiontest

import (
	"errors"
	"sync"

	"friendserver/internal/protocol"
	"friendserver/internal/session"
)

// ErrClosed is returned by Send on a closed Conn.
var ErrClosed = errors.New("sessiontest: connection closed")

// Conn records every message sent to it.
type Conn struct {
	id       string
	username string

	mu     sync.Mutex
	sent   []*protocol.Message
	closed bool
}

// NewConn returns a connection for username; an empty username is an
// unauthenticated connection.
func NewConn(id, username string) *Conn {
	return &Conn{id: id, username: username}
}

func (c *Conn) ID() string       { return c.id }
func (c *Conn) Username() string { return c.username }

func (c *Conn) Send(msg *protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Messages returns a copy of everything sent so far.
func (c *Conn) Messages() []*protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*protocol.Message(nil), c.sent...)
}

// Last returns the most recent message, or nil.
func (c *Conn) Last() *protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

// Tagged returns the messages carrying tag.
func (c *Conn) Tagged(tag protocol.Tag) []*protocol.Message {
	var out []*protocol.Message
	for _, m := range c.Messages() {
		if m.Tag == tag {
			out = append(out, m)
		}
	}
	return out
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}

// Table is a session.Sessions backed by a map.
type Table struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewTable() *Table {
	return &Table{conns: make(map[string]*Conn)}
}

// Login creates a connection for username and marks it online.
func (t *Table) Login(username string) *Conn {
	c := NewConn("conn-"+username, username)
	t.mu.Lock()
	t.conns[username] = c
	t.mu.Unlock()
	return c
}

func (t *Table) Logout(username string) {
	t.mu.Lock()
	delete(t.conns, username)
	t.mu.Unlock()
}

func (t *Table) ConnectionOf(username string) (session.Conn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[username]
	if !ok {
		return nil, false
	}
	return c, true
}

func (t *Table) IsAuthenticated(conn session.Conn) bool {
	return conn != nil && conn.Username() != ""
}

func (t *Table) UsernameOf(conn session.Conn) string {
	return conn.Username()
}
