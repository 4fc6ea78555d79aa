package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chainwatch/chainwatch/pkg/logging"
)

// RequestIDMiddleware assigns a request ID to every request
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// LoggingMiddleware logs each request with its outcome and latency
func LoggingMiddleware() gin.HandlerFunc {
	logger := logging.GetLogger()

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.WithFields(logging.Fields{
			"method":     c.Request.Method,
			"path":       path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"request_id": requestID(c),
		}).Info("Request completed")
	}
}

// RecoveryMiddleware converts panics into 500 responses
func RecoveryMiddleware() gin.HandlerFunc {
	logger := logging.GetLogger()

	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Request handler panicked",
					"panic", fmt.Sprintf("%v", r),
					"path", c.Request.URL.Path,
					"request_id", requestID(c),
				)
				InternalErrorResponse(c, "An unexpected error occurred")
				c.Abort()
			}
		}()
		c.Next()
	}
}
