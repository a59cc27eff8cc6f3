package fakebackend

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const ownerContextKey = "auth_owner"

// authMiddleware validates bearer tokens and stores the owning email in the context.
func (b *Backend) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		b.mu.Lock()
		owner, ok := b.tokens[token]
		b.mu.Unlock()
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ownerContextKey, owner)
		c.Next()
	}
}

func ownerFromContext(c *gin.Context) string {
	v, _ := c.Get(ownerContextKey)
	owner, _ := v.(string)
	return owner
}

func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// scriptMiddleware records every request and applies holds and scripted failures.
func (b *Backend) scriptMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		method, path := c.Request.Method, c.Request.URL.Path
		b.record(method, path)
		if h := b.takeHold(method, path); h != nil {
			close(h.arrived)
			select {
			case <-h.release:
			case <-c.Request.Context().Done():
				c.Abort()
				return
			}
		}
		if f, ok := b.takeFailure(method, path); ok {
			if f.body == "" {
				c.AbortWithStatus(f.status)
				return
			}
			c.AbortWithStatusJSON(f.status, gin.H{"message": f.body})
			return
		}
		c.Next()
	}
}

func (b *Backend) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		b.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
