// Package main runs the watch-tracking HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/watchtrack/config"
	"github.com/aura-webinar/watchtrack/internal/analytics"
	"github.com/aura-webinar/watchtrack/internal/auth"
	"github.com/aura-webinar/watchtrack/internal/health"
	"github.com/aura-webinar/watchtrack/internal/middleware"
	"github.com/aura-webinar/watchtrack/internal/models"
	"github.com/aura-webinar/watchtrack/internal/sessions"
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Sessions (guest and authenticated, heartbeat renewal)
	sessionRepo := sessions.NewRepository(pool)
	presence := sessions.NewRedisPresence(rdb.Client, cfg.Session.IdleTTL)
	sessionHandler := sessions.NewHandler(sessionRepo, presence, cfg.Session.MaxAge, logger)

	// Watch sessions (progress and event log)
	watchRepo := watchsessions.NewRepository(pool)
	watchHandler := watchsessions.NewHandler(watchRepo, jobQueue, logger)

	// Engagement aggregates (admin)
	analyticsRepo := analytics.NewRepository(pool)
	analyticsHandler := analytics.NewHandler(analyticsRepo, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	healthHandler := health.NewHandler(map[string]health.CheckFunc{
		"postgres": pool.Ping,
		"redis":    rdb.Healthy,
	}, 2*time.Second, logger)
	router.GET("/health", healthHandler.Get)

	// Guests are allowed; a valid bearer token attaches the user.
	optionalAuth := middleware.OptionalJWT(jwtService)
	sessionHandler.Register(router, optionalAuth)
	watchHandler.Register(router, optionalAuth)

	admin := router.Group("")
	admin.Use(middleware.JWT(jwtService), middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/videos/:id/engagement", analyticsHandler.GetByVideo)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// In-process engagement worker; cmd/worker runs the same loop standalone.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Worker.InProcess {
		var archiver worker.Archiver
		if cfg.AWS.ArchiveBucket != "" {
			archive, err := storage.NewArchive(ctx, archiveConfig(cfg.AWS), logger)
			if err != nil {
				logger.Warn("archive disabled", zap.Error(err))
			} else {
				archiver = archive
			}
		}
		processor := worker.NewEngagementProcessor(watchRepo, analyticsRepo, archiver, jobQueue, logger)
		if _, err := processor.Backfill(workerCtx, cfg.Worker.BackfillLimit); err != nil {
			logger.Warn("engagement backfill", zap.Error(err))
		}
		go processor.Run(workerCtx)
		logger.Info("engagement worker started", zap.Bool("archive", archiver != nil))
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func archiveConfig(c config.AWSConfig) storage.S3Config {
	return storage.S3Config{
		Region:          c.Region,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		Bucket:          c.ArchiveBucket,
		Endpoint:        c.S3Endpoint,
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
