// Package main runs the video ingestion HTTP server with status WebSockets and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/safetrain/backend/config"
	"github.com/safetrain/backend/internal/app"
	"github.com/safetrain/backend/internal/auth"
	"github.com/safetrain/backend/internal/middleware"
	"github.com/safetrain/backend/internal/videos"
	"github.com/safetrain/backend/pkg/response"
	"github.com/safetrain/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pipeline, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build pipeline", zap.Error(err))
	}
	defer pipeline.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	videoHandler := videos.NewHandler(pipeline.Store, pipeline.Coordinator, pipeline.Publisher, cfg.Storage.SignedURLTTL, cfg.Video.MaxUploadBytes, logger)
	videoHandler.SetSubscriber(pipeline.Subscriber)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger, "/health", "/metrics"))
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.MaxMultipartMemory = 32 << 20

	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if pipeline.Local != nil {
		router.Static(storage.MediaPrefix, pipeline.Local.Dir())
	}

	v := router.Group("/videos")
	{
		v.GET("", videoHandler.List)
		v.GET("/:id", videoHandler.Get)
		v.GET("/:id/stream-url", videoHandler.StreamURL)
		v.POST("/upload", middleware.JWT(jwtService), middleware.RequireRole(auth.RoleAdmin, auth.RoleTrainer), videoHandler.Upload)
		v.POST("/:id/views", middleware.JWT(jwtService), videoHandler.RecordView)
		// WebSocket clients pass the token as a query parameter.
		v.GET("/:id/ws", middleware.JWTQuery(jwtService), videoHandler.Watch)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Jobs run on their own context so an answered upload request does not cancel them.
	jobsCtx, jobsCancel := context.WithCancel(context.Background())
	defer jobsCancel()
	if pipeline.Pool != nil {
		pipeline.Pool.Start(jobsCtx, pipeline.Coordinator.Process)
		go pipeline.Sweeper(cfg, logger).Run(jobsCtx)
		logger.Info("in-process transcode workers started", zap.Int("workers", cfg.Worker.Concurrency))
	} else {
		logger.Info("transcode jobs go to the redis queue; run cmd/worker to process them")
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	// Cancelled jobs still record their failure before the pool returns.
	jobsCancel()
	if pipeline.Pool != nil {
		pipeline.Pool.Stop()
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
