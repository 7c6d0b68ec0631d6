// Gin middleware wiring the shell's local HTTP surface into logrus, with
// request IDs and panic recovery.
package logging

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// GinLogrusLogger returns a Gin middleware handler that logs HTTP requests
// served by the shell bridge using logrus. It captures method, path, status,
// latency and client IP, and propagates a request ID via response headers.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		requestID := c.Request.Header.Get("X-Request-Id")
		if strings.TrimSpace(requestID) == "" {
			requestID = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-Id", requestID)

		c.Next()

		latency := time.Since(start).Truncate(time.Millisecond)
		statusCode := c.Writer.Status()

		entry := log.WithFields(log.Fields{
			"status":     statusCode,
			"latency_ms": latency.Milliseconds(),
			"client_ip":  c.ClientIP(),
			"method":     c.Request.Method,
			"path":       path,
			"request_id": requestID,
		})
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			entry = entry.WithField("errors", msg)
		}

		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error("shell request")
		case statusCode >= http.StatusBadRequest:
			entry.Warn("shell request")
		default:
			entry.Debug("shell request")
		}
	}
}

// GinRecovery returns a middleware that recovers from handler panics,
// logging the panic value and stack before responding 500.
func GinRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{
					"panic": fmt.Sprintf("%v", r),
					"path":  c.Request.URL.Path,
				}).Errorf("shell handler panic:\n%s", debug.Stack())
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}
