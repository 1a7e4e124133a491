package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"docpipeline/device"
)

// Supervisor keeps one model-serving instance alive per device. The fleet is
// only useful as a complete set — each worker expects its paired instance —
// so the first instance to exit, for any reason, tears the whole group down
// and the supervisor exits with that instance's code.
type Supervisor struct {
	cfg    *Config
	logger *zap.Logger
}

type instance struct {
	deviceID string
	port     int
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
}

func New(cfg *Config, logger *zap.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, logger: logger}
}

// Run launches all instances with a staggered start, then blocks until either
// the context is cancelled (graceful shutdown, returns 0) or any instance
// exits (fleet-fatal, returns its exit code). Either way no instance survives
// the return.
func (s *Supervisor) Run(ctx context.Context) int {
	if err := os.MkdirAll(s.cfg.LogDir, 0o755); err != nil {
		s.logger.Error("Log dir unavailable", zap.Error(err))
		return 1
	}

	devices := s.cfg.Devices
	if len(devices) == 0 {
		s.logger.Warn("Empty device list, starting one CPU instance")
		devices = []string{""}
	}

	instances := make([]*instance, 0, len(devices))
	// Closure so teardown sees the instances appended after this point.
	defer func() { s.terminateAll(instances) }()

	exits := make(chan *instance, len(devices))

	for i, deviceID := range devices {
		inst, err := s.spawn(deviceID, s.cfg.BasePort+i)
		if err != nil {
			s.logger.Error("Instance start failed",
				zap.String("device", deviceID),
				zap.Error(err),
			)
			return 1
		}
		instances = append(instances, inst)
		go func(inst *instance) {
			<-inst.done
			exits <- inst
		}(inst)

		// Staggered startup: model load is memory- and I/O-heavy, so
		// instances never initialize simultaneously.
		if i < len(devices)-1 && s.cfg.Stagger > 0 {
			select {
			case <-time.After(s.cfg.Stagger):
			case <-ctx.Done():
				s.logger.Warn("Shutdown requested during startup")
				return 0
			}
		}
	}

	select {
	case <-ctx.Done():
		s.logger.Warn("Shutdown requested, stopping all instances")
		return 0
	case inst := <-exits:
		s.logger.Error("Instance exited, stopping all",
			zap.String("device", inst.deviceID),
			zap.Int("port", inst.port),
			zap.Int("code", inst.exitCode),
		)
		return inst.exitCode
	}
}

func (s *Supervisor) spawn(deviceID string, port int) (*instance, error) {
	args := s.cfg.Command(deviceID, port)
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command for device %q", deviceID)
	}

	scratchDir := filepath.Join(s.cfg.ScratchBase, "dev"+sanitizeDeviceID(deviceID))
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}

	logPath := filepath.Join(s.cfg.LogDir, "vllm_dev"+sanitizeDeviceID(deviceID)+".log")
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("log file: %w", err)
	}

	env := os.Environ()
	env = append(env, "TMPDIR="+scratchDir)
	if deviceID != "" {
		for k, v := range device.EnvVarsFor(s.cfg.DeviceType, deviceID) {
			env = append(env, k+"="+v)
		}
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = env
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	s.logger.Info("Starting inference instance",
		zap.String("device", deviceID),
		zap.Int("port", port),
		zap.String("log", logPath),
	)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, err
	}

	inst := &instance{
		deviceID: deviceID,
		port:     port,
		cmd:      cmd,
		done:     make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		inst.exitCode = exitCodeOf(cmd, err)
		logFile.Close()
		close(inst.done)
	}()
	return inst, nil
}

// terminateAll requests graceful termination of every live instance, waits up
// to the grace window, then force-kills stragglers. Safe to call more than
// once.
func (s *Supervisor) terminateAll(instances []*instance) {
	for _, inst := range instances {
		if !inst.exited() {
			if err := inst.cmd.Process.Signal(syscall.SIGTERM); err != nil {
				s.logger.Warn("Terminate signal failed",
					zap.String("device", inst.deviceID),
					zap.Error(err),
				)
			}
		}
	}

	// One absolute deadline for the whole group; a per-instance timer channel
	// would let the first straggler swallow the grace window.
	deadline := time.Now().Add(s.cfg.Grace)
	for _, inst := range instances {
		select {
		case <-inst.done:
		case <-time.After(time.Until(deadline)):
		}
	}

	for _, inst := range instances {
		if !inst.exited() {
			s.logger.Warn("Force-killing straggler",
				zap.String("device", inst.deviceID),
				zap.Int("port", inst.port),
			)
			inst.cmd.Process.Kill()
			select {
			case <-inst.done:
			case <-time.After(5 * time.Second):
			}
		}
	}
}

func (i *instance) exited() bool {
	select {
	case <-i.done:
		return true
	default:
		return false
	}
}

func exitCodeOf(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	if state := cmd.ProcessState; state != nil {
		if code := state.ExitCode(); code >= 0 {
			return code
		}
	}
	// Killed by signal or not a plain exit code.
	return 1
}

func sanitizeDeviceID(deviceID string) string {
	if deviceID == "" {
		return "cpu"
	}
	return strings.ReplaceAll(deviceID, ",", "_")
}
