package middleware

import (
	"crypto/subtle"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/makkenzo/redeem-key-service/internal/ierr"
	"github.com/makkenzo/redeem-key-service/internal/util"
	"go.uber.org/zap"
)

const apiSecretHeader = "X-API-Secret"

// APISecretMiddleware guards the routes used by the consuming game server.
// Callers present the shared secret in the X-API-Secret header.
func APISecretMiddleware(secret string, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("APISecretMiddleware")
	expected := util.HashSecret(secret)

	return func(c *gin.Context) {
		provided := c.GetHeader(apiSecretHeader)
		if provided == "" {
			log.Debug("API secret header is missing", zap.String("header", apiSecretHeader), zap.String("client_ip", c.ClientIP()))
			_ = c.Error(fmt.Errorf("%w: api secret required", ierr.ErrForbidden))
			c.Abort()
			return
		}

		if secret == "" || subtle.ConstantTimeCompare(util.HashSecret(provided), expected) != 1 {
			log.Warn("Invalid API secret presented", zap.String("client_ip", c.ClientIP()))
			_ = c.Error(fmt.Errorf("%w: invalid api secret", ierr.ErrForbidden))
			c.Abort()
			return
		}

		c.Next()
	}
}
