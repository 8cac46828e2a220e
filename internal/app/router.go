package app

import (
	"net/http"

	"friendserver/internal/config"
	"friendserver/internal/logger"
	"friendserver/internal/middleware"
	"friendserver/internal/monitoring"
	"friendserver/internal/websocket"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter wires the HTTP surface: the websocket endpoint, health,
// metrics and the admin API.
func NewRouter(cfg *config.Config, hub *websocket.Hub, adminHandler *AdminHandler) *gin.Engine {
	// Set Gin mode
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(monitoring.MetricsMiddleware())

	// WebSocket route
	limits := websocket.Limits{Rate: cfg.WSMessageRate, Burst: cfg.WSMessageBurst}
	r.GET("/ws", func(c *gin.Context) {
		websocket.ServeWS(hub, cfg.JWTSecret, limits).ServeHTTP(c.Writer, c.Request)
	})

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"clients":      hub.GetTotalClientCount(),
			"online_users": hub.GetOnlineUserCount(),
		})
	})

	r.GET("/metrics", monitoring.PrometheusHandler())

	api := r.Group("/api/v1")
	{
		// Admin routes
		admin := api.Group("/admin")
		if cfg.RateLimitEnabled {
			rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
			admin.Use(rateLimiter.Middleware())
			logger.Log.Info("admin rate limiting enabled",
				zap.Int("rps", cfg.RateLimitRPS),
				zap.Int("burst", cfg.RateLimitBurst))
		}
		admin.Use(middleware.AdminAuth(cfg.AdminTokenHash))
		{
			admin.POST("/users", adminHandler.CreateUser)
			admin.POST("/friends", adminHandler.AddFriend)
			admin.DELETE("/friends", adminHandler.RemoveFriend)
			admin.GET("/friends/:username", adminHandler.GetFriendList)
		}
	}

	return r
}
