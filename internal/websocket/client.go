package websocket

import (
	"errors"
	"sync"
	"time"

	"friendserver/internal/logger"
	"friendserver/internal/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

var (
	ErrClientClosed   = errors.New("websocket: client closed")
	ErrSendBufferFull = errors.New("websocket: send buffer full")
)

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub *Hub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan *protocol.Message

	id       string
	username string

	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
}

// NewClient creates a new client. An empty username makes an
// unauthenticated connection.
func NewClient(hub *Hub, conn *websocket.Conn, username string, limiter *rate.Limiter) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan *protocol.Message, sendBufferSize),
		id:       uuid.NewString(),
		username: username,
		limiter:  limiter,
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Username() string { return c.username }

// Send queues msg for the write pump without blocking. A client that
// cannot keep up is disconnected.
func (c *Client) Send(msg *protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		logger.Log.Warn("send buffer full, dropping client",
			zap.String("conn", c.id),
			zap.String("username", c.username))
		go c.hub.Unregister(c)
		return ErrSendBufferFull
	}
}

// close stops the write pump. Safe to call more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Debug("websocket read error", zap.String("conn", c.id), zap.Error(err))
			}
			break
		}
		c.handleFrame(messageType, data)
	}
}

func (c *Client) handleFrame(messageType int, data []byte) {
	if messageType != websocket.BinaryMessage {
		logger.Log.Debug("ignoring non-binary frame", zap.String("conn", c.id))
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		logger.Log.Debug("rate limited, dropping frame", zap.String("conn", c.id))
		return
	}
	msg, err := protocol.ParseFrame(data)
	if err != nil {
		logger.Log.Debug("malformed frame", zap.String("conn", c.id), zap.Error(err))
		return
	}
	c.hub.dispatch(c, msg)
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			frame, err := message.MarshalBinary()
			if err != nil {
				logger.Log.Error("encode frame", zap.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *Client) Start() {
	go c.writePump()
	c.readPump()
}
