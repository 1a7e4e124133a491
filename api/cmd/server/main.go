package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"docpipeline/api/config"
	"docpipeline/api/handlers"
	"docpipeline/api/middleware"
	"docpipeline/api/service"
	"docpipeline/cache"
	"docpipeline/queue"
	"docpipeline/storage"
	"docpipeline/store/repository"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	logger.Info("API Service starting",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.Strings("queues", cfg.QueueNames),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Database connection failed", zap.Error(err))
	}
	defer pgPool.Close()
	if err := repository.EnsureSchema(ctx, pgPool); err != nil {
		logger.Fatal("Schema bootstrap failed", zap.Error(err))
	}

	redisClient, err := cache.Connect(cfg.RedisAddr)
	if err != nil {
		logger.Fatal("Redis connection failed", zap.Error(err))
	}
	defer redisClient.Close()

	objectStore, err := storage.NewMinioStorage(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioSecure, logger)
	if err != nil {
		logger.Fatal("Object storage connection failed", zap.Error(err))
	}
	for _, bucket := range []string{cfg.UploadBucket, cfg.OutputBucket} {
		if err := objectStore.EnsureBucket(ctx, bucket); err != nil {
			logger.Fatal("Bucket bootstrap failed", zap.String("bucket", bucket), zap.Error(err))
		}
	}

	repo := repository.NewPostgresRepo(pgPool)
	statuses := cache.NewStatusCache(redisClient)
	broker := queue.NewBroker(redisClient, logger)

	taskService := service.NewTaskService(repo, statuses, broker, objectStore, service.Options{
		Queues:              cfg.QueueNames,
		MaxQueuingTasks:     cfg.MaxQueuingTasks,
		DefaultBucket:       cfg.UploadBucket,
		DefaultOutputBucket: cfg.OutputBucket,
	})
	taskHandler := handlers.NewTaskHandler(taskService, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", taskHandler.Submit)
	mux.HandleFunc("/status/", taskHandler.Status)
	mux.HandleFunc("/health", taskHandler.Health)

	handler := middleware.TraceID(
		middleware.Logging(logger)(
			middleware.Recovery(logger)(mux),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("address", server.Addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}
