package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const defaultOrigin = "http://localhost:3000"

// CORSMiddleware allows the dashboard origin to call the API with credentials.
func CORSMiddleware(origin string) gin.HandlerFunc {
	if origin == "" {
		origin = defaultOrigin
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
