package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/makkenzo/redeem-key-service/internal/domain/redeemkey"
	"github.com/makkenzo/redeem-key-service/internal/metrics"
	"go.uber.org/zap"
)

// InventorySource is satisfied by service.KeyService.
type InventorySource interface {
	Inventory(ctx context.Context) (redeemkey.Inventory, error)
}

type InventoryReportHandler struct {
	source InventorySource
	logger *zap.Logger
}

func NewInventoryReportHandler(source InventorySource, logger *zap.Logger) *InventoryReportHandler {
	return &InventoryReportHandler{
		source: source,
		logger: logger.Named("InventoryReportHandler"),
	}
}

// ProcessTask counts keys per state and publishes the counts as gauges.
func (h *InventoryReportHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if t.Type() != TypeInventoryReport {
		return fmt.Errorf("unexpected task type: %s", t.Type())
	}

	var p InventoryReportPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			h.logger.Error("Failed to unmarshal payload for inventory report task", zap.Error(err), zap.ByteString("payload", t.Payload()))
			return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	h.logger.Debug("Processing inventory report task...", zap.String("reason", p.Reason))

	inv, err := h.source.Inventory(ctx)
	if err != nil {
		h.logger.Error("Failed to build key inventory", zap.Error(err))
		return fmt.Errorf("inventory report failed: %w", err)
	}

	metrics.SetInventory(inv)

	h.logger.Info("Key inventory report finished",
		zap.Int("total", inv.Total),
		zap.Int("unbound", inv.Unbound),
		zap.Int("bound", inv.Bound),
		zap.Int("wildcard", inv.Wildcard),
		zap.Int("wildcard_expired", inv.ExpiredWildcard),
	)
	return nil
}
