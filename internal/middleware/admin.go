package middleware

import (
	"net/http"
	"strings"

	"friendserver/internal/logger"
	"friendserver/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const AdminTokenHeader = "X-Admin-Token"

// AdminAuth accepts requests carrying the token whose bcrypt hash is
// tokenHash, in X-Admin-Token or as a Bearer token. An empty hash
// disables the admin API.
func AdminAuth(tokenHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenHash == "" {
			util.ErrorResponse(c, http.StatusForbidden, "Admin API disabled", nil)
			c.Abort()
			return
		}

		token := c.GetHeader(AdminTokenHeader)
		if token == "" {
			if parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
				token = parts[1]
			}
		}
		if token == "" {
			util.Unauthorized(c, "Admin token required")
			c.Abort()
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
			logger.Log.Warn("rejected admin token", zap.String("client_ip", c.ClientIP()))
			util.Unauthorized(c, "Invalid admin token")
			c.Abort()
			return
		}

		c.Next()
	}
}
