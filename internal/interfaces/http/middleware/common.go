// Package middleware provides the gin middleware of the execution API.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/konozy/ordersync/internal/infrastructure/logger"
)

const (
	// RequestIDHeader carries the caller's request id
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey is the gin context key for the request id
	RequestIDKey = "request_id"
	// MaxRequestIDLength bounds caller supplied request ids
	MaxRequestIDLength = 128
)

// RequestID adds a request id to each request, reusing the caller's when
// present. The id is echoed in the response and attached to the request
// context so logs carry it.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > MaxRequestIDLength {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDKey, requestID)
		c.Writer.Header().Set(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

// GetRequestID returns the request id set by RequestID
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
