package security

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const rateWindow = time.Minute

type RateLimiter struct {
	redis redis.Cmdable
	limit int64
	log   *zap.Logger
}

// NewRateLimiter allows perMinute requests per client. A non-positive perMinute disables limiting.
func NewRateLimiter(redisClient redis.Cmdable, perMinute int, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{redis: redisClient, limit: int64(perMinute), log: log}
}

// Middleware limits payment requests per authenticated user, or per IP for anonymous callers.
// Redis errors let the request through.
func (r *RateLimiter) Middleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if r.isSuspiciousUserAgent(e.Request.UserAgent()) {
			return e.JSON(http.StatusForbidden, map[string]string{
				"error": "Access denied",
			})
		}
		if r.redis == nil || r.limit <= 0 {
			return e.Next()
		}

		ctx := e.Request.Context()
		key := fmt.Sprintf("ratelimit:%s", clientID(e))

		count, err := r.redis.Incr(ctx, key).Result()
		if err != nil {
			r.log.Warn("rate limit check failed", zap.String("key", key), zap.Error(err))
			return e.Next()
		}
		if count == 1 {
			r.redis.Expire(ctx, key, rateWindow)
		}
		if count > r.limit {
			e.Response.Header().Set("Retry-After", "60")
			return e.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}
		return e.Next()
	}
}

func (r *RateLimiter) isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(strings.ToLower(ua), pattern) {
			return true
		}
	}
	return false
}

func clientID(e *core.RequestEvent) string {
	if e.Auth != nil {
		return "user:" + e.Auth.Id
	}
	host, _, err := net.SplitHostPort(e.Request.RemoteAddr)
	if err != nil {
		return "ip:" + e.Request.RemoteAddr
	}
	return "ip:" + host
}
