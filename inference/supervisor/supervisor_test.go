package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"docpipeline/device"
)

func testConfig(t *testing.T, command func(deviceID string, port int) []string) *Config {
	t.Helper()
	return &Config{
		Devices:     []string{"0", "1"},
		DeviceType:  device.TypeCPU,
		BasePort:    18000,
		Stagger:     0,
		Grace:       2 * time.Second,
		LogDir:      t.TempDir(),
		ScratchBase: t.TempDir(),
		Command:     command,
	}
}

func TestSupervisor_InstanceExitTearsDownFleet(t *testing.T) {
	cfg := testConfig(t, func(deviceID string, _ int) []string {
		if deviceID == "1" {
			return []string{"/bin/sh", "-c", "sleep 0.3; exit 3"}
		}
		return []string{"/bin/sh", "-c", "sleep 60"}
	})

	s := New(cfg, zaptest.NewLogger(t))

	start := time.Now()
	code := s.Run(context.Background())
	elapsed := time.Since(start)

	if code != 3 {
		t.Errorf("Expected supervisor exit code 3, got %d", code)
	}
	if elapsed > cfg.Grace+10*time.Second {
		t.Errorf("Teardown took too long: %v", elapsed)
	}
}

func TestSupervisor_NormalExitIsFleetFatal(t *testing.T) {
	cfg := testConfig(t, func(deviceID string, _ int) []string {
		if deviceID == "1" {
			// Exits cleanly; a partial fleet is still unusable.
			return []string{"/bin/sh", "-c", "exit 0"}
		}
		return []string{"/bin/sh", "-c", "sleep 60"}
	})

	s := New(cfg, zaptest.NewLogger(t))

	code := s.Run(context.Background())
	if code != 0 {
		t.Errorf("Expected exit code 0 from clean instance exit, got %d", code)
	}
}

// readPid reads a PID a shell child wrote via `echo $$ > file`.
func readPid(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("PID file %s missing: %v", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("Bad PID file %s: %v", path, err)
	}
	return pid
}

// processAlive reports whether the PID still names a live process.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func TestSupervisor_TeardownKillsSiblings(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pid")
	cfg := testConfig(t, func(deviceID string, _ int) []string {
		if deviceID == "1" {
			return []string{"/bin/sh", "-c", "sleep 0.3; exit 3"}
		}
		return []string{"/bin/sh", "-c", "echo $$ > " + pidFile + "; exec sleep 60"}
	})

	s := New(cfg, zaptest.NewLogger(t))

	if code := s.Run(context.Background()); code != 3 {
		t.Fatalf("Expected supervisor exit code 3, got %d", code)
	}

	pid := readPid(t, pidFile)
	if processAlive(pid) {
		t.Errorf("Sibling instance %d still running after Run returned", pid)
	}
}

func TestSupervisor_GraceBoundWithStubbornInstances(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := testConfig(t, func(deviceID string, _ int) []string {
		if deviceID == "2" {
			return []string{"/bin/sh", "-c", "sleep 0.3; exit 3"}
		}
		pidFile := filepath.Join(tmpDir, "pid"+deviceID)
		// Ignores SIGTERM; only the force-kill phase can take it down.
		return []string{"/bin/sh", "-c", "trap '' TERM; echo $$ > " + pidFile + "; sleep 60"}
	})
	cfg.Devices = []string{"0", "1", "2"}
	cfg.Grace = 1 * time.Second

	s := New(cfg, zaptest.NewLogger(t))

	start := time.Now()
	code := s.Run(context.Background())
	elapsed := time.Since(start)

	if code != 3 {
		t.Errorf("Expected supervisor exit code 3, got %d", code)
	}
	if elapsed > 15*time.Second {
		t.Errorf("Teardown of multiple stragglers not bounded by grace: %v", elapsed)
	}
	for _, dev := range []string{"0", "1"} {
		pid := readPid(t, filepath.Join(tmpDir, "pid"+dev))
		if processAlive(pid) {
			t.Errorf("Stubborn instance on device %s (pid %d) survived teardown", dev, pid)
		}
	}
}

func TestSupervisor_GracefulShutdown(t *testing.T) {
	cfg := testConfig(t, func(string, int) []string {
		return []string{"/bin/sh", "-c", "sleep 60"}
	})

	s := New(cfg, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	code := s.Run(ctx)
	elapsed := time.Since(start)

	if code != 0 {
		t.Errorf("Expected exit code 0 on graceful shutdown, got %d", code)
	}
	if elapsed > cfg.Grace+10*time.Second {
		t.Errorf("Graceful shutdown took too long: %v", elapsed)
	}
}

func TestSupervisor_PerInstanceIsolation(t *testing.T) {
	cfg := testConfig(t, func(string, int) []string {
		return []string{"/bin/sh", "-c", "echo started; exit 0"}
	})

	s := New(cfg, zaptest.NewLogger(t))
	s.Run(context.Background())

	for _, dev := range cfg.Devices {
		scratch := filepath.Join(cfg.ScratchBase, "dev"+dev)
		if _, err := os.Stat(scratch); err != nil {
			t.Errorf("Scratch dir for device %s missing: %v", dev, err)
		}

		logPath := filepath.Join(cfg.LogDir, "vllm_dev"+dev+".log")
		data, err := os.ReadFile(logPath)
		if err != nil {
			t.Errorf("Log file for device %s missing: %v", dev, err)
			continue
		}
		if len(data) == 0 {
			t.Errorf("Log file for device %s is empty", dev)
		}
	}
}

func TestSanitizeDeviceID(t *testing.T) {
	if got := sanitizeDeviceID("0,1"); got != "0_1" {
		t.Errorf("Expected 0_1, got %s", got)
	}
	if got := sanitizeDeviceID(""); got != "cpu" {
		t.Errorf("Expected cpu, got %s", got)
	}
}
