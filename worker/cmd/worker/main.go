package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"docpipeline/cache"
	"docpipeline/device"
	"docpipeline/queue"
	"docpipeline/storage"
	"docpipeline/store/repository"
	"docpipeline/worker/config"
	"docpipeline/worker/processor"
	"docpipeline/worker/runner"
)

func main() {
	cfg := config.Load()

	queueName := flag.String("queue", cfg.QueueName, "queue to consume")
	nodeName := flag.String("node", "", "unique worker node identity")
	concurrency := flag.Int("concurrency", 1, "in-flight tasks (must be 1)")
	pool := flag.String("pool", "single-process", "execution pool type")
	flag.Bool("without-mingle", true, "skip cluster handshake at startup")
	flag.Bool("without-gossip", true, "disable cluster state broadcast")
	flag.Bool("without-heartbeat", true, "disable broker heartbeat events")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if *nodeName == "" {
		*nodeName = "worker_" + *queueName + "_cpu"
	}
	if *concurrency != 1 || *pool != "single-process" {
		logger.Fatal("Unsupported execution parameters: exactly one in-flight task per worker process",
			zap.Int("concurrency", *concurrency),
			zap.String("pool", *pool),
		)
	}

	logger.Info("Worker starting",
		zap.String("queue", *queueName),
		zap.String("node", *nodeName),
		zap.String("inference_url", cfg.ServerURL),
		zap.String("device", cfg.GPUDevice),
	)

	onProcessStart(cfg, logger)

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

	// Process-local singletons: built exactly once, owned by this process.
	repo := repository.NewPostgresRepo(pgPool)
	statuses := cache.NewStatusCache(redisClient)
	proc := processor.NewInferenceProcessor(objectStore, cfg.ServerURL, logger)
	run := runner.New(repo, proc, statuses, logger)

	consumer := queue.NewConsumer(redisClient, *queueName, *nodeName, logger)
	consumer.Recover(ctx)

	if err := consumer.Consume(ctx, run.Handle); err != nil && ctx.Err() == nil {
		logger.Fatal("Consume loop failed", zap.Error(err))
	}
	logger.Info("Worker stopped", zap.String("node", *nodeName))
}

// onProcessStart applies the device-isolation variables for the device this
// process owns, before any heavy resource is touched, so visibility takes
// effect at first use.
func onProcessStart(cfg *config.Config, logger *zap.Logger) {
	if cfg.GPUDevice == "" {
		return
	}
	deviceType := device.Detect()
	for k, v := range device.EnvVarsFor(deviceType, cfg.GPUDevice) {
		os.Setenv(k, v)
		logger.Info("Device isolation applied",
			zap.String("var", k),
			zap.String("device", v),
		)
	}
}
