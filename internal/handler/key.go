package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/makkenzo/redeem-key-service/internal/handler/dto"
	"github.com/makkenzo/redeem-key-service/internal/ierr"
	"github.com/makkenzo/redeem-key-service/internal/service"
	"go.uber.org/zap"
)

type KeyHandler struct {
	service *service.KeyService
	logger  *zap.Logger
}

func NewKeyHandler(service *service.KeyService, logger *zap.Logger) *KeyHandler {
	return &KeyHandler{
		service: service,
		logger:  logger.Named("KeyHandler"),
	}
}

// invalidRequest keeps validator details reachable for the error middleware.
func invalidRequest(err error) error {
	return fmt.Errorf("%w: %w", ierr.ErrInvalidArgument, err)
}

func (h *KeyHandler) Bind(c *gin.Context) {
	var req dto.BindKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind bind-key request", zap.Error(err))
		_ = c.Error(invalidRequest(err))
		return
	}

	res, err := h.service.Bind(c.Request.Context(), req.Key, req.PlayerID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.logger.Info("Key bound via handler", zap.String("key", req.Key), zap.String("player_id", req.PlayerID), zap.Bool("created", res.Created))
	c.JSON(http.StatusOK, dto.BindKeyResponse{
		Success:  true,
		Message:  "key bound",
		Key:      req.Key,
		PlayerID: req.PlayerID,
		Created:  res.Created,
	})
}

func (h *KeyHandler) Unbind(c *gin.Context) {
	var req dto.UnbindKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind unbind-key request", zap.Error(err))
		_ = c.Error(invalidRequest(err))
		return
	}

	if err := h.service.Unbind(c.Request.Context(), req.Key); err != nil {
		_ = c.Error(err)
		return
	}

	h.logger.Info("Key unbound via handler", zap.String("key", req.Key))
	c.JSON(http.StatusOK, dto.MessageResponse{Success: true, Message: "key unbound"})
}

func (h *KeyHandler) Validate(c *gin.Context) {
	var req dto.ValidateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(invalidRequest(err))
		return
	}

	res, err := h.service.Validate(c.Request.Context(), req.Key, req.PlayerID)
	if err != nil {
		h.logger.Debug("Key validation refused", zap.String("key", req.Key), zap.Error(err))
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewValidateKeyResponse(res))
}

func (h *KeyHandler) SetExpiry(c *gin.Context) {
	key := c.Param("key")

	var req dto.SetExpiryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind set-expiry request", zap.String("key", key), zap.Error(err))
		_ = c.Error(invalidRequest(err))
		return
	}

	if err := h.service.SetExpiry(c.Request.Context(), key, *req.ExpireTime); err != nil {
		_ = c.Error(err)
		return
	}

	h.logger.Info("Key expiry set via handler", zap.String("key", key), zap.Time("expire_at", *req.ExpireTime))
	c.JSON(http.StatusOK, dto.MessageResponse{Success: true, Message: "expiry updated"})
}

func (h *KeyHandler) List(c *gin.Context) {
	keys, err := h.service.ListAll(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.logger.Debug("Keys listed via handler", zap.Int("count", len(keys)))
	c.JSON(http.StatusOK, dto.NewKeyListResponse(keys, h.service.Sentinels()))
}

func (h *KeyHandler) Get(c *gin.Context) {
	k, err := h.service.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewKeyResponse(k, h.service.Sentinels()))
}

func (h *KeyHandler) Provision(c *gin.Context) {
	var req dto.ProvisionKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind provision request", zap.Error(err))
		_ = c.Error(invalidRequest(err))
		return
	}

	k, err := h.service.Provision(c.Request.Context(), req.ToService())
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.logger.Info("Key provisioned via handler", zap.String("key", k.Key))
	c.JSON(http.StatusCreated, dto.NewKeyResponse(k, h.service.Sentinels()))
}
