package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/makkenzo/redeem-key-service/internal/handler/dto"
	"github.com/makkenzo/redeem-key-service/internal/handler/middleware"
	"github.com/makkenzo/redeem-key-service/internal/ierr"
	"github.com/makkenzo/redeem-key-service/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterDeps carries everything the route table needs. RateLimiter is
// optional.
type RouterDeps struct {
	Keys         *KeyHandler
	Health       *HealthHandler
	AuthService  *service.AuthService
	RateLimiter  *middleware.RateLimiter
	APISecret    string
	AllowOrigins []string
	LegacyRoutes bool
	Logger       *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logMsg := "Panic recovered"
		if err, ok := recovered.(string); ok {
			logMsg = fmt.Sprintf("%s: %s", logMsg, err)
		} else if err, ok := recovered.(error); ok {
			logMsg = fmt.Sprintf("%s: %v", logMsg, err)
		}
		deps.Logger.Error(logMsg, zap.Stack("stack"))

		_ = c.Error(ierr.ErrInternalServer)
		c.AbortWithStatusJSON(http.StatusInternalServerError, dto.APIErrorResponse{
			Code:    "INTERNAL_ERROR",
			Message: "An unexpected error occurred.",
		})
	}))

	corsConfig := cors.Config{
		AllowOrigins: deps.AllowOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-API-Secret",
			"X-Request-ID",
		},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))
	router.Use(middleware.ErrorHandlerMiddleware(deps.Logger))

	router.GET("/healthz", deps.Health.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiSecret := middleware.APISecretMiddleware(deps.APISecret, deps.Logger)
	requireAdmin := middleware.RequireAdmin(deps.AuthService, deps.Logger)

	validateChain := []gin.HandlerFunc{apiSecret}
	if deps.RateLimiter != nil {
		validateChain = append(validateChain, deps.RateLimiter.Middleware())
	}
	validateChain = append(validateChain, deps.Keys.Validate)

	apiV1 := router.Group("/api/v1")
	{
		keyRoutes := apiV1.Group("/keys")
		{
			keyRoutes.POST("/validate", validateChain...)

			keyRoutes.Use(requireAdmin)

			keyRoutes.POST("", deps.Keys.Provision)
			keyRoutes.GET("", deps.Keys.List)
			keyRoutes.GET("/:key", deps.Keys.Get)
			keyRoutes.POST("/bind", deps.Keys.Bind)
			keyRoutes.POST("/unbind", deps.Keys.Unbind)
			keyRoutes.PUT("/:key/expiry", deps.Keys.SetExpiry)
		}
	}

	// Paths served by the first version of the service, kept for existing clients.
	if deps.LegacyRoutes {
		legacy := router.Group("")
		legacy.Use(apiSecret)
		{
			legacy.GET("/keys", deps.Keys.List)
			legacy.POST("/bind", deps.Keys.Bind)
			legacy.POST("/unbind", deps.Keys.Unbind)
		}
	}

	return router
}
