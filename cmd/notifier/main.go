package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"taskflow/internal/config"
	"taskflow/internal/logger"
	"taskflow/internal/notify"
)

// notifier drains the notification queue filled by the API server.
func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency:    10,
			RetryDelayFunc: asynq.DefaultRetryDelayFunc,
			Queues: map[string]int{
				cfg.NotificationQueue: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error("notification task failed", zap.String("task_type", task.Type()), zap.Error(err))
			}),
		},
	)

	mux := notify.NewServeMux(notify.LogDeliverer{Log: log})
	if err := server.Start(mux); err != nil {
		log.Fatal("[Asynq] failed to start notifier", zap.Error(err))
	}
	log.Info("[Asynq] notifier started", zap.String("queue", cfg.NotificationQueue))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	server.Shutdown()
	log.Info("[Asynq] notifier stopped")
}
