package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/makkenzo/redeem-key-service/internal/ierr"
	"github.com/makkenzo/redeem-key-service/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter is a fixed-window request counter kept in Redis, one counter
// per client IP and window.
type RateLimiter struct {
	redis    *redis.Client
	requests int
	window   time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewRateLimiter(client *redis.Client, requests int, window time.Duration, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		redis:    client,
		requests: requests,
		window:   window,
		now:      time.Now,
		logger:   logger.Named("RateLimiter"),
	}
}

// Allow counts one request for subject. Redis failures are returned to the
// caller, which decides whether to fail open.
func (l *RateLimiter) Allow(ctx context.Context, subject string) (bool, error) {
	windowStart := l.now().UnixNano() / int64(l.window)
	key := "ratelimit:" + subject + ":" + strconv.FormatInt(windowStart, 10)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("rate limit expire: %w", err)
		}
	}

	return count <= int64(l.requests), nil
}

// Middleware rejects requests over the limit with ierr.ErrRateLimited. When
// Redis is unreachable requests are let through.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			l.logger.Warn("Rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}

		if !allowed {
			metrics.RateLimited.Inc()
			l.logger.Debug("Request rate limited", zap.String("client_ip", c.ClientIP()))
			c.Header("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			_ = c.Error(ierr.ErrRateLimited)
			c.Abort()
			return
		}

		c.Next()
	}
}
