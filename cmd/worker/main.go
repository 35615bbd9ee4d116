// Package main runs the background engagement worker: folds finalized watch sessions into
// per-video aggregates and archives their event logs to S3.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/watchtrack/config"
	"github.com/aura-webinar/watchtrack/internal/analytics"
	"github.com/aura-webinar/watchtrack/internal/watchsessions"
	"github.com/aura-webinar/watchtrack/internal/worker"
	"github.com/aura-webinar/watchtrack/pkg/database"
	"github.com/aura-webinar/watchtrack/pkg/queue"
	"github.com/aura-webinar/watchtrack/pkg/redis"
	"github.com/aura-webinar/watchtrack/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var archiver worker.Archiver
	if cfg.AWS.ArchiveBucket != "" {
		archive, err := storage.NewArchive(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			Bucket:          cfg.AWS.ArchiveBucket,
			Endpoint:        cfg.AWS.S3Endpoint,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		archiver = archive
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewEngagementProcessor(
		watchsessions.NewRepository(pool),
		analytics.NewRepository(pool),
		archiver,
		jobQueue,
		logger,
	)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := processor.Backfill(workerCtx, cfg.Worker.BackfillLimit); err != nil {
		logger.Warn("engagement backfill", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Run(workerCtx)
	}()
	logger.Info("worker started", zap.Bool("archive", archiver != nil))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("worker did not stop in time")
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
