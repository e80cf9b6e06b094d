package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/makkenzo/redeem-key-service/internal/config"
	"github.com/makkenzo/redeem-key-service/internal/domain/redeemkey"
	"github.com/makkenzo/redeem-key-service/internal/ierr"
	"github.com/makkenzo/redeem-key-service/internal/service"
	"github.com/makkenzo/redeem-key-service/internal/storage/connector"
	"github.com/makkenzo/redeem-key-service/internal/storage/mongodb"
	"github.com/makkenzo/redeem-key-service/internal/storage/postgres"
	"github.com/makkenzo/redeem-key-service/internal/util"
	"go.uber.org/zap"
)

// initialKey is the first key every fresh deployment starts with.
const initialKey = "INIT-001"

func main() {
	configPath := flag.String("config", "./configs/config.dev.yaml", "Path to configuration file")
	count := flag.Int("count", 0, "Number of random keys to generate in addition to the initial key")
	prefix := flag.String("prefix", "KEY", "Prefix for generated keys")
	length := flag.Int("length", 12, "Random characters per generated key")
	wildcard := flag.Bool("wildcard", false, "Provision generated keys as wildcard keys")
	reward := flag.String("reward", "", "Reward for generated keys; defaults to keys.defaultReward")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sentinels := redeemkey.Sentinels{
		Unbound:  cfg.Keys.UnboundSentinel,
		Wildcard: cfg.Keys.WildcardSentinel,
	}
	opts := connector.Options{
		MaxRetries:       cfg.Connector.MaxRetries,
		RetryDelay:       cfg.Connector.RetryDelay,
		ConnectTimeout:   cfg.Connector.ConnectTimeout,
		OperationTimeout: cfg.Connector.OperationTimeout,
	}

	var repo redeemkey.Repository
	switch cfg.Storage.Driver {
	case config.DriverMongo:
		conn := connector.New(mongodb.Dialer(&cfg.Mongo, opts), opts)
		defer conn.Close(context.Background())
		repo = mongodb.NewKeyRepository(conn, sentinels, cfg.Mongo.LegacyOwnerField, logger)
	case config.DriverPostgres:
		conn := connector.New(postgres.Dialer(&cfg.Database), opts)
		defer conn.Close(context.Background())
		repo = postgres.NewKeyRepository(conn, logger)
	default:
		log.Fatalf("Seeding needs a persistent store, got driver %q", cfg.Storage.Driver)
	}

	svc := service.NewKeyService(repo, sentinels, service.Policy{
		AllowWildcardUnbind: cfg.Keys.AllowWildcardUnbind,
		DefaultReward:       cfg.Keys.DefaultReward,
	}, logger)

	requests := []service.ProvisionRequest{{Key: initialKey, Owner: redeemkey.Unbound()}}
	owner := redeemkey.Unbound()
	if *wildcard {
		owner = redeemkey.Wildcard()
	}
	for i := 0; i < *count; i++ {
		key, err := util.GenerateRedeemKey(*prefix, *length)
		if err != nil {
			log.Fatalf("Failed to generate key: %v", err)
		}
		requests = append(requests, service.ProvisionRequest{Key: key, Owner: owner, Reward: *reward})
	}

	created, skipped := 0, 0
	for _, req := range requests {
		k, err := svc.Provision(ctx, req)
		switch {
		case errors.Is(err, ierr.ErrKeyExists):
			skipped++
			fmt.Printf("exists   %s\n", req.Key)
		case err != nil:
			log.Fatalf("Failed to provision %s: %v", req.Key, err)
		default:
			created++
			fmt.Printf("created  %s  %s  %s\n", k.Key, sentinels.Format(k.Owner), k.Reward)
		}
	}

	fmt.Printf("\nSeeding finished: %d created, %d already present\n", created, skipped)
}
