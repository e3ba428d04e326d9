package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	UserIDHeader    = "X-User-ID"
	RequestIDHeader = "X-Request-ID"

	userIDKey = "user_id"
)

// UserID returns the id stored by RateLimiter.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// RateLimiter requires the user id header and lets each user through at
// most once per limit. A zero limit only enforces the header.
type RateLimiter struct {
	users map[string]time.Time
	mu    sync.Mutex
	limit time.Duration
}

func NewRateLimiter(limit time.Duration) *RateLimiter {
	return &RateLimiter{
		users: make(map[string]time.Time),
		limit: limit,
	}
}

func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(UserIDHeader)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": UserIDHeader + " header required"})
			return
		}
		r.mu.Lock()
		last, exists := r.users[userID]
		if exists && time.Since(last) < r.limit {
			r.mu.Unlock()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		r.users[userID] = time.Now()
		r.mu.Unlock()
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// RequestLogger tags each request with an id and logs it once done.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(RequestIDHeader, reqID)
		start := time.Now()

		c.Next()

		logger.Info("http request",
			zap.String("request_id", reqID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.String("user_id", UserID(c)),
			zap.Duration("latency", time.Since(start)))
	}
}
