package supervisor

import (
	"os"
	"strconv"
	"strings"
	"time"

	"docpipeline/device"
)

type Config struct {
	Devices     []string
	DeviceType  device.Type
	BasePort    int
	Stagger     time.Duration
	Grace       time.Duration
	LogDir      string
	ScratchBase string
	// Command builds the serving-instance argv for one device/port pair.
	Command func(deviceID string, port int) []string
}

// LoadConfig reads the supervisor configuration from the environment. The
// default command launches a vLLM OpenAI-compatible server.
func LoadConfig() *Config {
	devicesRaw := strings.TrimSpace(os.Getenv("INFERENCE_DEVICES"))
	if devicesRaw == "" {
		devicesRaw = "0"
	}

	return &Config{
		Devices:     device.ParseDevices(devicesRaw),
		DeviceType:  device.Detect(),
		BasePort:    getEnvAsInt("VLLM_BASE_PORT", 8000),
		Stagger:     time.Duration(getEnvAsInt("VLLM_STARTUP_STAGGER_SECONDS", 10)) * time.Second,
		Grace:       time.Duration(getEnvAsInt("VLLM_SHUTDOWN_GRACE_SECONDS", 15)) * time.Second,
		LogDir:      getEnv("VLLM_LOG_DIR", "logs"),
		ScratchBase: getEnv("VLLM_TMP_BASE_DIR", "/tmp/vllm_sockets"),
		Command:     vllmCommand,
	}
}

func vllmCommand(_ string, port int) []string {
	cmd := []string{
		getEnv("VLLM_BIN", "vllm"),
		"serve",
		getEnv("VLLM_MODEL", "opendatalab/MinerU2.5-2509-1.2B"),
		"--host", "0.0.0.0",
		"--port", strconv.Itoa(port),
		"--tensor-parallel-size", getEnv("VLLM_TENSOR_PARALLEL_SIZE", "1"),
		"--gpu-memory-utilization", getEnv("VLLM_GPU_MEMORY_UTILIZATION", "0.5"),
		"--trust-remote-code",
	}
	if extra := strings.TrimSpace(os.Getenv("VLLM_EXTRA_ARGS")); extra != "" {
		cmd = append(cmd, strings.Fields(extra)...)
	}
	return cmd
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
