package main

import (
	"context"
	"fmt"

	"github.com/makkenzo/redeem-key-service/internal/config"
	"github.com/makkenzo/redeem-key-service/internal/domain/redeemkey"
	"github.com/makkenzo/redeem-key-service/internal/handler"
	"github.com/makkenzo/redeem-key-service/internal/metrics"
	"github.com/makkenzo/redeem-key-service/internal/storage/connector"
	"github.com/makkenzo/redeem-key-service/internal/storage/memstorage"
	"github.com/makkenzo/redeem-key-service/internal/storage/mongodb"
	"github.com/makkenzo/redeem-key-service/internal/storage/postgres"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// keyStore bundles the repository with the hooks main needs around it.
type keyStore struct {
	repo   redeemkey.Repository
	pinger handler.StorePinger
	// warmUp opens the first connection so the health check has a session to probe.
	warmUp func(ctx context.Context) error
	close  func(ctx context.Context) error
}

func openKeyStore(cfg *config.Config, sentinels redeemkey.Sentinels, logger *zap.Logger) (*keyStore, error) {
	opts := connector.Options{
		MaxRetries:       cfg.Connector.MaxRetries,
		RetryDelay:       cfg.Connector.RetryDelay,
		ConnectTimeout:   cfg.Connector.ConnectTimeout,
		OperationTimeout: cfg.Connector.OperationTimeout,
	}

	switch cfg.Storage.Driver {
	case config.DriverMongo:
		conn := connector.New(mongodb.Dialer(&cfg.Mongo, opts), opts)
		return &keyStore{
			repo:   mongodb.NewKeyRepository(conn, sentinels, cfg.Mongo.LegacyOwnerField, logger),
			pinger: conn,
			warmUp: warmUp(conn, config.DriverMongo, logger),
			close:  conn.Close,
		}, nil
	case config.DriverPostgres:
		conn := connector.New(postgres.Dialer(&cfg.Database), opts)
		return &keyStore{
			repo:   postgres.NewKeyRepository(conn, logger),
			pinger: conn,
			warmUp: warmUp(conn, config.DriverPostgres, logger),
			close:  conn.Close,
		}, nil
	case config.DriverMemory:
		repo := memstorage.NewKeyRepository()
		return &keyStore{
			repo:   repo,
			pinger: repo,
			warmUp: func(context.Context) error { return nil },
			close:  func(context.Context) error { return nil },
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// warmUp reports the startup connect the same way repositories report theirs.
func warmUp[H any](conn *connector.Connector[H], backend string, logger *zap.Logger) func(ctx context.Context) error {
	log := logger.Named("KeyStore")
	return func(ctx context.Context) error {
		_, st, err := conn.Acquire(ctx)
		connector.Report(log, st, err)
		metrics.ObserveAcquire(backend, st, err)
		return err
	}
}

var (
	_ handler.StorePinger = (*connector.Connector[*mongo.Collection])(nil)
	_ handler.StorePinger = (*connector.Connector[postgres.Querier])(nil)
)
