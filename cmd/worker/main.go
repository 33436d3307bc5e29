// Package main runs the transcode worker that consumes the Redis job queue.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/safetrain/backend/config"
	"github.com/safetrain/backend/internal/app"
	"github.com/safetrain/backend/internal/jobs"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Worker.QueueDriver != "redis" {
		logger.Fatal("worker requires QUEUE_DRIVER=redis", zap.String("queue_driver", cfg.Worker.QueueDriver))
	}

	ctx := context.Background()
	pipeline, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build pipeline", zap.Error(err))
	}
	defer pipeline.Close()

	consumer := jobs.NewConsumer(pipeline.Queue, cfg.Worker.Concurrency, pipeline.Coordinator.Process, logger)
	consumer.SetAbandon(pipeline.Coordinator.Abandon)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		consumer.Run(workerCtx)
	}()
	go pipeline.Sweeper(cfg, logger).Run(workerCtx)
	logger.Info("worker started", zap.Int("concurrency", cfg.Worker.Concurrency))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	<-done
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
