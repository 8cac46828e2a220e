package websocket

import (
	"context"
	"sync"

	"friendserver/internal/logger"
	"friendserver/internal/monitoring"
	"friendserver/internal/protocol"
	"friendserver/internal/session"

	"go.uber.org/zap"
)

const presenceQueueSize = 256

// MessageHandler is called on the client's read goroutine for every
// inbound frame that parsed.
type MessageHandler func(conn session.Conn, msg *protocol.Message)

// Hub tracks live connections and which one belongs to each logged-in user.
type Hub struct {
	// Every registered connection, authenticated or not
	clients map[*Client]bool

	// Current connection per username
	users map[string]*Client

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// Presence changes in the order Run saw them
	presence chan presenceEvent

	mu sync.RWMutex

	// Callback for user presence changes (username, online bool)
	onPresenceChange func(username string, online bool)

	onMessage MessageHandler
}

type presenceEvent struct {
	username string
	online   bool
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		users:      make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		presence:   make(chan presenceEvent, presenceQueueSize),
	}
}

// SetPresenceCallback sets a callback for when users come online/offline.
// Calls happen one at a time on a single goroutine, in the order the hub
// observed the changes, so a user's logout never overtakes their login.
func (h *Hub) SetPresenceCallback(cb func(username string, online bool)) {
	h.onPresenceChange = cb
}

func (h *Hub) SetMessageHandler(handler MessageHandler) {
	h.onMessage = handler
}

// Run processes registrations until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	go h.deliverPresence()
	defer close(h.presence)
	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.close()
			}
			h.clients = make(map[*Client]bool)
			h.users = make(map[string]*Client)
			h.mu.Unlock()
			monitoring.OnlineUsers.Set(0)
			logger.Log.Info("websocket hub stopped")
			return
		}
	}
}

// Register adds client to the hub. It returns false once the hub stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	var replaced *Client
	if client.username != "" {
		replaced = h.users[client.username]
		h.users[client.username] = client
	}
	h.mu.Unlock()

	logger.Log.Debug("client registered",
		zap.String("conn", client.id),
		zap.String("username", client.username))

	if client.username == "" {
		return
	}
	if replaced != nil {
		// The user stays online; only the old socket goes away.
		logger.Log.Info("connection replaced by new login",
			zap.String("username", client.username),
			zap.String("old_conn", replaced.id))
		replaced.close()
		return
	}
	monitoring.OnlineUsers.Inc()
	h.notifyPresence(client.username, true)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	client.close()

	wasCurrent := client.username != "" && h.users[client.username] == client
	if wasCurrent {
		delete(h.users, client.username)
	}
	h.mu.Unlock()

	logger.Log.Debug("client unregistered",
		zap.String("conn", client.id),
		zap.String("username", client.username))

	if wasCurrent {
		monitoring.OnlineUsers.Dec()
		h.notifyPresence(client.username, false)
	}
}

// notifyPresence queues a presence change. Only Run's goroutine sends, so
// the queue keeps the order of registrations.
func (h *Hub) notifyPresence(username string, online bool) {
	if h.onPresenceChange == nil {
		return
	}
	h.presence <- presenceEvent{username: username, online: online}
}

func (h *Hub) deliverPresence() {
	for event := range h.presence {
		h.onPresenceChange(event.username, event.online)
	}
}

func (h *Hub) dispatch(client *Client, msg *protocol.Message) {
	if h.onMessage == nil {
		return
	}
	h.onMessage(client, msg)
}

// ConnectionOf returns the live connection of username.
func (h *Hub) ConnectionOf(username string) (session.Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.users[username]
	if !ok {
		return nil, false
	}
	return client, true
}

func (h *Hub) IsAuthenticated(conn session.Conn) bool {
	return conn != nil && conn.Username() != ""
}

func (h *Hub) UsernameOf(conn session.Conn) string {
	return conn.Username()
}

// GetOnlineUserCount returns the number of logged-in users.
func (h *Hub) GetOnlineUserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

// GetTotalClientCount returns the number of connected clients, anonymous ones included.
func (h *Hub) GetTotalClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
