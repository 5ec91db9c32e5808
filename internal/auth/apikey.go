// Package auth holds the API-key middleware guarding the versioned routes.
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/admatch/internal/apperr"
)

const headerName = "X-API-Key"

// APIKeyMiddleware validates the X-API-Key header with a constant-time
// compare. An empty configured key disables authentication.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		provided := c.GetHeader(headerName)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apperr.Envelope{
				Err: apperr.Body{Code: apperr.CodeInvalidRequest, Message: "missing or invalid API key"},
			})
			return
		}

		c.Next()
	}
}
