// Package middleware provides request filters and security checks for the application.
// File: middleware/auth.go
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"blitzcup/logger"
	"blitzcup/security"
)

// UsernameKey is where AuthRequired stores the authenticated username in the
// gin context.
const UsernameKey = "username"

// AuthRequired ensures the request carries a valid bearer token. A missing
// token and an invalid token are rejected with distinct reasons.
func AuthRequired(jwtSecret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header {
			logger.Warn.Printf("AuthRequired: No bearer token on %s %s", c.Request.Method, c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "Missing auth token"})
			return
		}

		username, err := security.ValidateToken(jwtSecret, token)
		if err != nil {
			logger.Warn.Printf("AuthRequired: Invalid token on %s %s", c.Request.Method, c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "Invalid auth token"})
			return
		}

		c.Set(UsernameKey, username)
		c.Next()
	}
}
