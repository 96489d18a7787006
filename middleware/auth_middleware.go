package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"webability/analytics/utils"
)

// Context keys set by AuthRequired.
const (
	UserIDKey    = "user_id"
	UserEmailKey = "user_email"
)

// AuthRequired accepts a JWT from the jwt_token cookie or a Bearer
// Authorization header and stores the user id (int64) on the context.
func AuthRequired(secret []byte, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := c.Cookie("jwt_token")
		if err != nil || tokenString == "" {
			tokenString = c.GetHeader("Authorization")
			if tokenString == "" {
				log.Debug("No JWT token found in cookie or header", zap.String("path", c.FullPath()))
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
				return
			}
			tokenString = strings.TrimPrefix(tokenString, "Bearer ")
		}

		claims, err := utils.ValidateJWT(secret, tokenString)
		if err != nil {
			log.Info("Rejected JWT token", zap.String("path", c.FullPath()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UserEmailKey, claims.Email)
		c.Next()
	}
}
