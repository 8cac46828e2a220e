package websocket

import (
	"net/http"
	"strings"

	"friendserver/internal/logger"
	"friendserver/internal/util"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Game clients are not browsers
		return true
	},
}

// Limits is the per-connection inbound message budget.
type Limits struct {
	Rate  float64
	Burst int
}

// ServeWS handles websocket requests from clients. A valid token logs the
// connection in; a connection without one stays anonymous and gets
// NotLoggedIn from every friends operation.
func ServeWS(hub *Hub, jwtSecret string, limits Limits) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Extract token from query parameter or header
		token := r.URL.Query().Get("token")
		if token == "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader != "" {
				parts := strings.Split(authHeader, " ")
				if len(parts) == 2 && parts[0] == "Bearer" {
					token = parts[1]
				}
			}
		}

		username := ""
		if token != "" {
			claims, err := util.ValidateToken(token, jwtSecret)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			username = claims.Username
		}

		// Upgrade connection to WebSocket
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := NewClient(hub, conn, username, rate.NewLimiter(rate.Limit(limits.Rate), limits.Burst))
		if !hub.Register(client) {
			conn.Close()
			return
		}

		go client.Start()
	}
}
