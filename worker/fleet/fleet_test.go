package fleet

import (
	"strings"
	"testing"

	"docpipeline/device"
)

func envValue(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return strings.TrimPrefix(kv, prefix), true
		}
	}
	return "", false
}

func TestBuildSpecs_ThreeDevices(t *testing.T) {
	devices := device.ParseDevices("0,1, 2")
	specs := BuildSpecs("docs", devices, device.TypeCUDA, "localhost", 8000, nil)

	if len(specs) != 3 {
		t.Fatalf("Expected 3 specs, got %d", len(specs))
	}

	wantURLs := []string{
		"http://localhost:8000/v1",
		"http://localhost:8001/v1",
		"http://localhost:8002/v1",
	}
	for i, spec := range specs {
		if spec.ServerURL != wantURLs[i] {
			t.Errorf("Spec %d inference URL = %s, want %s", i, spec.ServerURL, wantURLs[i])
		}
		if got, _ := envValue(spec.Env, "CUDA_VISIBLE_DEVICES"); got != spec.Device {
			t.Errorf("Spec %d CUDA_VISIBLE_DEVICES = %q, want %q", i, got, spec.Device)
		}
		if got, _ := envValue(spec.Env, "WORKER_GPU_DEVICE"); got != spec.Device {
			t.Errorf("Spec %d WORKER_GPU_DEVICE = %q, want %q", i, got, spec.Device)
		}
	}

	if specs[2].NodeName != "worker_docs_2" {
		t.Errorf("Unexpected node name %s", specs[2].NodeName)
	}
}

func TestBuildSpecs_CPUFallback(t *testing.T) {
	specs := BuildSpecs("docs", device.ParseDevices(""), device.TypeCPU, "localhost", 8000, nil)

	if len(specs) != 1 {
		t.Fatalf("Expected 1 CPU spec, got %d", len(specs))
	}
	spec := specs[0]
	if spec.NodeName != "worker_docs_cpu" {
		t.Errorf("Unexpected node name %s", spec.NodeName)
	}
	if spec.ServerURL != "http://localhost:8000/v1" {
		t.Errorf("Unexpected inference URL %s", spec.ServerURL)
	}
	if _, ok := envValue(spec.Env, "WORKER_GPU_DEVICE"); ok {
		t.Error("CPU worker must not carry a device assignment")
	}
	if _, ok := envValue(spec.Env, "CUDA_VISIBLE_DEVICES"); ok {
		t.Error("CPU worker must not carry isolation vars")
	}
}

func TestBuildSpecs_NPUIsolation(t *testing.T) {
	specs := BuildSpecs("docs", []string{"4"}, device.TypeNPU, "10.0.0.5", 9000, nil)

	if got, _ := envValue(specs[0].Env, "ASCEND_RT_VISIBLE_DEVICES"); got != "4" {
		t.Errorf("Expected ASCEND_RT_VISIBLE_DEVICES=4, got %q", got)
	}
	if _, ok := envValue(specs[0].Env, "CUDA_VISIBLE_DEVICES"); ok {
		t.Error("NPU worker must not set the CUDA isolation var")
	}
}

func TestBuildSpecs_ConsumptionContractFlags(t *testing.T) {
	specs := BuildSpecs("docs", []string{"0"}, device.TypeCUDA, "localhost", 8000, nil)

	args := strings.Join(specs[0].Args, " ")
	for _, want := range []string{
		"--queue docs",
		"--node worker_docs_0",
		"--concurrency 1",
		"--pool single-process",
		"--without-mingle",
		"--without-gossip",
		"--without-heartbeat",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("Args %q missing %q", args, want)
		}
	}
}

func TestBuildSpecs_InheritedVarsReplaced(t *testing.T) {
	// Globally exported copies of the per-worker variables must not leak
	// through: the child resolves the first occurrence of a duplicated key.
	base := []string{
		"VLLM_SERVER_URL=http://stale:9999/v1",
		"CUDA_VISIBLE_DEVICES=7",
		"WORKER_QUEUE_NAME=other",
		"REDIS_ADDR=redis:6379",
	}
	specs := BuildSpecs("docs", []string{"0", "1"}, device.TypeCUDA, "localhost", 8000, base)

	for i, spec := range specs {
		for key, want := range map[string]string{
			"VLLM_SERVER_URL":      spec.ServerURL,
			"CUDA_VISIBLE_DEVICES": spec.Device,
			"WORKER_QUEUE_NAME":    "docs",
		} {
			count := 0
			for _, kv := range spec.Env {
				if strings.HasPrefix(kv, key+"=") {
					count++
				}
			}
			if count != 1 {
				t.Errorf("Spec %d has %d occurrences of %s, want 1", i, count, key)
			}
			if got, _ := envValue(spec.Env, key); got != want {
				t.Errorf("Spec %d %s = %q, want %q", i, key, got, want)
			}
		}
		if got, _ := envValue(spec.Env, "REDIS_ADDR"); got != "redis:6379" {
			t.Errorf("Spec %d lost unrelated base env, REDIS_ADDR=%q", i, got)
		}
	}
}

func TestBuildSpecs_BaseEnvPreserved(t *testing.T) {
	base := []string{"REDIS_ADDR=redis:6379", "DATABASE_URL=postgres://db"}
	specs := BuildSpecs("docs", []string{"0"}, device.TypeCUDA, "localhost", 8000, base)

	if got, _ := envValue(specs[0].Env, "REDIS_ADDR"); got != "redis:6379" {
		t.Errorf("Base env not preserved, REDIS_ADDR=%q", got)
	}
	if got, _ := envValue(specs[0].Env, "WORKER_QUEUE_NAME"); got != "docs" {
		t.Errorf("Queue name not injected, got %q", got)
	}
}
