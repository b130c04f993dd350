package server

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/net/http/httpguts"
)

const (
	// RequestIDHeader is read from clients and echoed on every response
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey is the gin context key holding the request id
	RequestIDKey = "request_id"

	maxRequestIDLength = 128
)

// RequestIDMiddleware adds a unique request ID to each request. A client
// supplied id is kept when it is short and a valid header value.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if !validRequestID(requestID) {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

func validRequestID(id string) bool {
	return id != "" && len(id) <= maxRequestIDLength && httpguts.ValidHeaderFieldValue(id)
}
