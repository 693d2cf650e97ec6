package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimit keeps one token bucket per key. Requests over the limit get 429.
func RateLimit(perSecond float64, burst int, key func(c *gin.Context) string) gin.HandlerFunc {
	if burst < 1 {
		burst = 1
	}
	var (
		mu      sync.Mutex
		buckets = map[string]*rate.Limiter{}
	)
	limiter := func(k string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := buckets[k]
		if !ok {
			l = rate.NewLimiter(rate.Limit(perSecond), burst)
			buckets[k] = l
		}
		return l
	}

	return func(c *gin.Context) {
		if perSecond <= 0 {
			c.Next()
			return
		}
		if !limiter(key(c)).Allow() {
			abort(c, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
			return
		}
		c.Next()
	}
}

// ByParam keys the limiter on a path parameter, falling back to the client IP.
func ByParam(name string) func(c *gin.Context) string {
	return func(c *gin.Context) string {
		if v := c.Param(name); v != "" {
			return v
		}
		return c.ClientIP()
	}
}
