package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/makkenzo/redeem-key-service/internal/config"
	"github.com/makkenzo/redeem-key-service/internal/domain/redeemkey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticInventory struct{}

func (staticInventory) Inventory(ctx context.Context) (redeemkey.Inventory, error) {
	return redeemkey.Inventory{}, nil
}

func TestRedisConnOpt(t *testing.T) {
	opt := RedisConnOpt(config.RedisConfig{Addr: "redis:6379", Password: "pw", DB: 2})
	assert.Equal(t, "redis:6379", opt.Addr)
	assert.Equal(t, "pw", opt.Password)
	assert.Equal(t, 2, opt.DB)
}

func TestRunWorkers_InvalidSchedule(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := &config.Config{
		Redis:  config.RedisConfig{Addr: mr.Addr()},
		Worker: config.WorkerConfig{Enabled: true, Concurrency: 1, ReportSchedule: "not a schedule"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := RunWorkers(ctx, cfg, staticInventory{}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler registration error")
}
