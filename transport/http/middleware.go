package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/pairlink/core"
	"github.com/layer-3/pairlink/service"
)

const grantKey = "grant"

// AuthMiddleware creates middleware that validates access tokens
func AuthMiddleware(auth *service.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")

		if len(header) < 8 || header[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Connect your wallet to continue.",
			})
			return
		}

		grant, err := auth.ValidateAccessToken(c.Request.Context(), header[7:])
		if err != nil {
			status := http.StatusUnauthorized
			if !errors.Is(err, core.ErrInvalidToken) &&
				!errors.Is(err, core.ErrTokenExpired) &&
				!errors.Is(err, core.ErrTokenInvalidated) {
				status = http.StatusInternalServerError
			}
			c.AbortWithStatusJSON(status, gin.H{
				"error":   "unauthorized",
				"message": core.UserMessage(err),
			})
			return
		}

		c.Set(grantKey, grant)
		c.Next()
	}
}

func grantFrom(c *gin.Context) (*core.Grant, bool) {
	v, ok := c.Get(grantKey)
	if !ok {
		return nil, false
	}
	grant, ok := v.(*core.Grant)
	return grant, ok
}
