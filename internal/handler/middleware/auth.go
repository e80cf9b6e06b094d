package middleware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/makkenzo/redeem-key-service/internal/ierr"
	"github.com/makkenzo/redeem-key-service/internal/service"
	"go.uber.org/zap"
)

const adminClaimsKey = "adminClaims"

var (
	errNoCredentials = errors.New("authorization header required")
	errNotBearer     = errors.New("authorization scheme must be Bearer")
	errEmptyToken    = errors.New("bearer token is empty")
)

// bearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errNoCredentials
	}
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", errNotBearer
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", errEmptyToken
	}
	return token, nil
}

// RequireAdmin admits requests carrying a valid admin token and stores its
// claims on the gin context.
func RequireAdmin(authService *service.AuthService, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("RequireAdmin")
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			log.Debug("Rejected request without usable credentials", zap.String("path", c.FullPath()), zap.Error(err))
			_ = c.Error(fmt.Errorf("%w: %w", ierr.ErrUnauthorized, err))
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			log.Warn("Admin token rejected", zap.String("client_ip", c.ClientIP()), zap.Error(err))
			_ = c.Error(err)
			c.Abort()
			return
		}

		c.Set(adminClaimsKey, claims)
		c.Next()
	}
}

// AdminClaimsFrom returns the claims stored by RequireAdmin, if any.
func AdminClaimsFrom(c *gin.Context) (*service.AdminClaims, bool) {
	claims, ok := c.Value(adminClaimsKey).(*service.AdminClaims)
	return claims, ok
}
