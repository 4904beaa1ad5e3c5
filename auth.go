package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"totelabel/pkg/auth"
)

// operatorAuthMiddleware requires an operator bearer token. With no secret
// configured every request passes.
func operatorAuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.Next()
			return
		}
		claims, err := auth.FromHeader(secret, c.GetHeader("Authorization"))
		if errors.Is(err, auth.ErrForbidden) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set("username", claims.Username)
		c.Set("role", claims.Role)
		c.Next()
	}
}
