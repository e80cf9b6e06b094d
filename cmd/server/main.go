package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/makkenzo/redeem-key-service/internal/config"
	"github.com/makkenzo/redeem-key-service/internal/domain/redeemkey"
	"github.com/makkenzo/redeem-key-service/internal/handler"
	"github.com/makkenzo/redeem-key-service/internal/handler/middleware"
	"github.com/makkenzo/redeem-key-service/internal/service"
	"github.com/makkenzo/redeem-key-service/internal/storage/redis"
	"github.com/makkenzo/redeem-key-service/internal/worker"
	"github.com/makkenzo/redeem-key-service/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "./configs/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.NewZapLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	sugarLogger := appLogger.Sugar()

	sugarLogger.Info("Starting application...")
	sugarLogger.Infof("Log level set to: %s, storage driver: %s", cfg.Log.Level, cfg.Storage.Driver)

	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sentinels := redeemkey.Sentinels{
		Unbound:  cfg.Keys.UnboundSentinel,
		Wildcard: cfg.Keys.WildcardSentinel,
	}

	store, err := openKeyStore(cfg, sentinels, appLogger)
	if err != nil {
		sugarLogger.Fatalf("Failed to set up key store: %v", err)
	}
	defer func() {
		if err := store.close(context.Background()); err != nil {
			sugarLogger.Warnf("Key store close failed: %v", err)
		}
	}()

	// The connector reconnects on demand, so a store that is down at boot
	// only degrades requests until it comes back.
	if err := store.warmUp(appCtx); err != nil {
		sugarLogger.Warnf("Key store not reachable at startup: %v", err)
	}

	var redisClient *goredis.Client
	if cfg.RateLimit.Enabled || cfg.Worker.Enabled {
		redisClient, err = redis.NewRedisClient(appCtx, &cfg.Redis, appLogger)
		if err != nil {
			sugarLogger.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
	}

	keyService := service.NewKeyService(store.repo, sentinels, service.Policy{
		AllowWildcardUnbind: cfg.Keys.AllowWildcardUnbind,
		DefaultReward:       cfg.Keys.DefaultReward,
	}, appLogger)

	authService, err := service.NewAuthService(&cfg.Auth, appLogger)
	if err != nil {
		sugarLogger.Fatalf("Failed to set up auth: %v", err)
	}

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window, appLogger)
	}

	router := handler.NewRouter(handler.RouterDeps{
		Keys:         handler.NewKeyHandler(keyService, appLogger),
		Health:       handler.NewHealthHandler(store.pinger, redisClient, appLogger),
		AuthService:  authService,
		RateLimiter:  rateLimiter,
		APISecret:    cfg.Auth.APISecret,
		AllowOrigins: cfg.Server.AllowOrigins,
		LegacyRoutes: cfg.Server.LegacyRoutes,
		Logger:       appLogger,
	})

	if cfg.Auth.APISecret == "" {
		sugarLogger.Warn("auth.apiSecret is empty; validation and legacy routes will refuse every request")
	}

	g, groupCtx := errgroup.WithContext(appCtx)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		sugarLogger.Infof("HTTP server listening on port %s", cfg.Server.Port)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugarLogger.Errorf("HTTP server ListenAndServe error: %v", err)
			return fmt.Errorf("http server failed: %w", err)
		}
		sugarLogger.Info("HTTP server stopped listening.")
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		sugarLogger.Info("Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownPeriod)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			sugarLogger.Errorf("HTTP server graceful shutdown failed: %v", err)
			return fmt.Errorf("http server shutdown error: %w", err)
		}
		sugarLogger.Info("HTTP server shutdown complete.")
		return nil
	})

	if cfg.Worker.Enabled {
		g.Go(func() error {
			if err := worker.RunWorkers(groupCtx, cfg, keyService, appLogger); err != nil {
				appLogger.Error("Asynq worker failed", zap.Error(err))
				return fmt.Errorf("asynq worker error: %w", err)
			}
			sugarLogger.Info("Asynq workers finished gracefully.")
			return nil
		})
	}

	sugarLogger.Info("Application started. Waiting for interrupt signal (Ctrl+C) or component error...")

	waitErr := g.Wait()

	sugarLogger.Info("Shutdown sequence finished.")

	if waitErr != nil {
		if errors.Is(waitErr, context.Canceled) {
			sugarLogger.Info("Shutdown reason: Context canceled (likely due to OS signal).")
		} else {
			sugarLogger.Errorf("Application shutdown finished with unexpected error: %v", waitErr)
		}
	} else {
		sugarLogger.Info("Application shutdown successfully (all components finished without errors).")
	}

	sugarLogger.Info("Application exiting now.")
}
