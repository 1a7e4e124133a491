package device

import (
	"os"
	"strings"
	"sync"
)

// Type identifies the accelerator family the host exposes. Each process sees
// at most one physical device, selected through the family's visibility
// environment variable before any heavy runtime is touched.
type Type string

const (
	TypeCPU  Type = "cpu"
	TypeCUDA Type = "cuda"
	TypeNPU  Type = "npu"
	TypeMPS  Type = "mps"
)

var (
	detectOnce sync.Once
	detected   Type
)

// Detect returns the accelerator family for this host. INFERENCE_DEVICE_TYPE
// overrides detection; otherwise the device nodes are probed once and cached
// for the process lifetime.
func Detect() Type {
	if v := os.Getenv("INFERENCE_DEVICE_TYPE"); v != "" {
		return Type(strings.ToLower(strings.TrimSpace(v)))
	}

	detectOnce.Do(func() {
		detected = probeHardware()
	})
	return detected
}

func probeHardware() Type {
	if _, err := os.Stat("/dev/nvidia0"); err == nil {
		return TypeCUDA
	}
	// Ascend NPUs expose /dev/davinci<N> device nodes.
	if _, err := os.Stat("/dev/davinci0"); err == nil {
		return TypeNPU
	}
	return TypeCPU
}

// EnvVarsFor builds the isolation variables that restrict a child process to
// one physical device. CPU and MPS need no isolation.
func EnvVarsFor(t Type, deviceID string) map[string]string {
	switch t {
	case TypeCUDA:
		return map[string]string{"CUDA_VISIBLE_DEVICES": deviceID}
	case TypeNPU:
		return map[string]string{"ASCEND_RT_VISIBLE_DEVICES": deviceID}
	default:
		return nil
	}
}

// ParseDevices splits a comma-separated device id list, trimming whitespace
// and dropping empty entries. An empty list means CPU mode.
func ParseDevices(s string) []string {
	parts := strings.Split(s, ",")
	devices := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			devices = append(devices, p)
		}
	}
	return devices
}
