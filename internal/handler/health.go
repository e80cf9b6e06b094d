package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StorePinger probes the key store without reconnecting.
type StorePinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store  StorePinger
	redis  *redis.Client
	logger *zap.Logger
}

// NewHealthHandler builds the health check. redis may be nil when neither the
// rate limiter nor the worker is enabled.
func NewHealthHandler(store StorePinger, redis *redis.Client, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		store:  store,
		redis:  redis,
		logger: logger.Named("HealthHandler"),
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	storeStatus := "ok"
	if err := h.store.Ping(c.Request.Context()); err != nil {
		storeStatus = "error"
		h.logger.Error("Health check: key store ping failed", zap.Error(err))
	}

	dependencies := gin.H{"store": storeStatus}
	healthy := storeStatus == "ok"

	if h.redis != nil {
		redisStatus := "ok"
		if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
			redisStatus = "error"
			healthy = false
			h.logger.Error("Health check: Redis ping failed", zap.Error(err))
		}
		dependencies["redis"] = redisStatus
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":       "unhealthy",
			"dependencies": dependencies,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"dependencies": dependencies,
	})
}
