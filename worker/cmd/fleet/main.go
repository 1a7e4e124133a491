package main

import (
	"os"

	"go.uber.org/zap"

	"docpipeline/device"
	"docpipeline/worker/config"
	"docpipeline/worker/fleet"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	devices := device.ParseDevices(cfg.InferenceDevices)
	deviceType := device.Detect()

	logger.Info("Worker fleet starting",
		zap.String("queue", cfg.QueueName),
		zap.Strings("devices", devices),
		zap.String("device_type", string(deviceType)),
		zap.Int("base_port", cfg.BasePort),
	)

	specs := fleet.BuildSpecs(cfg.QueueName, devices, deviceType, cfg.BaseEndpoint, cfg.BasePort, os.Environ())

	launcher := fleet.NewLauncher(cfg.WorkerBin, logger)
	if err := launcher.Run(specs); err != nil {
		logger.Fatal("Fleet launch failed", zap.Error(err))
	}
	logger.Info("All workers exited")
}
