package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"stickerstudio/internal/config"
	"stickerstudio/internal/logger"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type rateLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit allows each client IP rps requests per second with the given
// burst. It is disabled in development.
func RateLimit(cfg *config.Config, rps float64, burst int) gin.HandlerFunc {
	clients := make(map[string]*rateLimiter)
	var mu sync.Mutex

	return func(c *gin.Context) {
		if cfg.IsDevelopment() {
			c.Next()
			return
		}

		ip := c.ClientIP()
		now := time.Now()

		mu.Lock()
		client, exists := clients[ip]
		if !exists {
			client = &rateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			clients[ip] = client
		}
		client.lastSeen = now
		allowed := client.limiter.Allow()

		for ip, cl := range clients {
			if now.Sub(cl.lastSeen) > 10*time.Minute {
				delete(clients, ip)
			}
		}
		mu.Unlock()

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func CORS(allowedOrigins string) gin.HandlerFunc {
	origins := strings.Split(allowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		for _, allowed := range origins {
			if allowed != "" && (allowed == "*" || origin == allowed) {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				break
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Expose-Headers", "Content-Disposition")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func SecurityHeaders(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		if !cfg.IsDevelopment() {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

// LogRequests writes one structured line per request once it completes.
func LogRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency", time.Since(start).String(),
			"ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.String())
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("Request failed", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("Request rejected", fields...)
		default:
			logger.Debug("Request served", fields...)
		}
	}
}

// AddServices exposes shared services to handlers through the gin context.
func AddServices(services map[string]interface{}) gin.HandlerFunc {
	return func(c *gin.Context) {
		for key, svc := range services {
			c.Set(key, svc)
		}
		c.Next()
	}
}
