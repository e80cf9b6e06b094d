package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/makkenzo/redeem-key-service/internal/config"
	"github.com/makkenzo/redeem-key-service/internal/tasks"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunWorkers starts the asynq server and the scheduler that enqueues the
// periodic inventory report. It blocks until ctx is cancelled or either
// component fails, then shuts both down.
func RunWorkers(ctx context.Context, cfg *config.Config, source tasks.InventorySource, logger *zap.Logger) error {
	redisConnOpts := RedisConnOpt(cfg.Redis)

	srv := asynq.NewServer(
		redisConnOpts,
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				"default": 3,
				"low":     1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log := logger.Named("AsynqServerErrorHandler")
				log.Error("Asynq task processing failed",
					zap.String("task_type", task.Type()),
					zap.ByteString("payload", task.Payload()),
					zap.Error(err),
				)
			}),
			Logger: NewAsynqLoggerAdapter(logger.Named("AsynqServer")),
		},
	)

	mux := asynq.NewServeMux()
	reportHandler := tasks.NewInventoryReportHandler(source, logger)
	mux.HandleFunc(tasks.TypeInventoryReport, reportHandler.ProcessTask)

	scheduler := asynq.NewScheduler(
		redisConnOpts,
		&asynq.SchedulerOpts{
			Logger: NewAsynqLoggerAdapter(logger.Named("AsynqScheduler")),
		},
	)

	reportTask, err := tasks.NewInventoryReportTask("scheduled", asynq.Queue("low"))
	if err != nil {
		return fmt.Errorf("scheduler task creation error: %w", err)
	}
	entryID, err := scheduler.Register(cfg.Worker.ReportSchedule, reportTask)
	if err != nil {
		return fmt.Errorf("scheduler registration error: %w", err)
	}
	logger.Info("Registered periodic key inventory report", zap.String("entry_id", entryID), zap.String("schedule", cfg.Worker.ReportSchedule))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting Asynq Server...")
		if err := srv.Start(mux); err != nil {
			return fmt.Errorf("asynq server error: %w", err)
		}
		<-gCtx.Done()
		logger.Info("Shutting down Asynq Server...")
		srv.Shutdown()
		logger.Info("Asynq Server stopped.")
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting Asynq Scheduler...")
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("asynq scheduler error: %w", err)
		}
		<-gCtx.Done()
		logger.Info("Shutting down Asynq Scheduler...")
		scheduler.Shutdown()
		logger.Info("Asynq Scheduler stopped.")
		return nil
	})

	return g.Wait()
}

// RedisConnOpt maps the shared redis settings onto asynq's connection options.
func RedisConnOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

type asynqLoggerAdapter struct {
	logger *zap.Logger
}

func NewAsynqLoggerAdapter(logger *zap.Logger) *asynqLoggerAdapter {
	return &asynqLoggerAdapter{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (l *asynqLoggerAdapter) Debug(args ...interface{}) {
	l.logger.Debug(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Info(args ...interface{}) {
	l.logger.Info(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Warn(args ...interface{}) {
	l.logger.Warn(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Error(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Fatal(args ...interface{}) {
	l.logger.Fatal(fmt.Sprint(args...))
}
