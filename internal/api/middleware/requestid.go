package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"engiero/internal/idgen"
)

const (
	RequestIDKey = "X-Request-ID"

	maxRequestIDLength = 64
)

// RequestID injects a request ID into each request context. A client-supplied
// ID is kept only when it is short and printable.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDKey)
		if !validRequestID(requestID) {
			requestID = idgen.New()
		}
		c.Header(RequestIDKey, requestID)
		c.Set(RequestIDKey, requestID)
		c.Next()
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	return !strings.ContainsFunc(id, func(r rune) bool {
		return r < 0x21 || r > 0x7e
	})
}
