// Package middleware holds gin middleware shared by all routes.
package middleware

import (
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger writes one line per request with status, latency, client and path.
// Query strings are left out since they carry conversation ids.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		line := formatLogLine(status, time.Since(start), c.ClientIP(), c.Request.Method, path,
			c.Errors.ByType(gin.ErrorTypePrivate).String())
		switch {
		case status >= 500:
			log.Printf("[ERROR] %s", line)
		case status >= 400:
			log.Printf("[WARN] %s", line)
		default:
			log.Printf("[INFO] %s", line)
		}
	}
}

func formatLogLine(status int, latency time.Duration, clientIP, method, path, errMsg string) string {
	switch {
	case latency < time.Millisecond:
	case latency < time.Second:
		latency = latency.Truncate(time.Microsecond)
	default:
		latency = latency.Truncate(time.Millisecond)
	}
	line := fmt.Sprintf("[%d %s] | %-12s | %-15s | %-7s | %s",
		status, statusClass(status), latency, clientIP, method, path)
	if errMsg != "" {
		line += " | " + errMsg
	}
	return line
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "OK"
	case code >= 300 && code < 400:
		return "REDIRECT"
	case code >= 400 && code < 500:
		return "CLIENT_ERR"
	default:
		return "SERVER_ERR"
	}
}

// Recovery turns a panicking handler into a 500 JSON response.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
