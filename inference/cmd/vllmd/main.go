package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"docpipeline/inference/supervisor"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := supervisor.LoadConfig()

	logger.Info("Inference supervisor starting",
		zap.Strings("devices", cfg.Devices),
		zap.String("device_type", string(cfg.DeviceType)),
		zap.Int("base_port", cfg.BasePort),
		zap.Duration("stagger", cfg.Stagger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := supervisor.New(cfg, logger).Run(ctx)
	logger.Sync()
	os.Exit(code)
}
