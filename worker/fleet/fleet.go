package fleet

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"docpipeline/device"
)

// WorkerSpec describes one worker process before it is spawned. All per-device
// configuration is injected through the child environment; the CLI flags carry
// the fixed consumption contract.
type WorkerSpec struct {
	Device    string // "" means CPU mode
	Index     int
	NodeName  string
	ServerURL string
	Env       []string
	Args      []string
}

// BuildSpecs expands a device list into per-device worker specs. An empty
// device list yields exactly one CPU-mode worker. Worker i is paired with the
// inference instance on basePort+i.
func BuildSpecs(queueName string, devices []string, deviceType device.Type, baseEndpoint string, basePort int, baseEnv []string) []WorkerSpec {
	if len(devices) == 0 {
		devices = []string{""}
	}

	specs := make([]WorkerSpec, 0, len(devices))
	for i, dev := range devices {
		serverURL := fmt.Sprintf("http://%s:%d/v1", baseEndpoint, basePort+i)

		nodeName := fmt.Sprintf("worker_%s_cpu", queueName)
		if dev != "" {
			nodeName = fmt.Sprintf("worker_%s_%s", queueName, dev)
		}

		overrides := map[string]string{
			"WORKER_QUEUE_NAME": queueName,
			"VLLM_SERVER_URL":   serverURL,
		}
		if dev != "" {
			overrides["WORKER_GPU_DEVICE"] = dev
			for k, v := range device.EnvVarsFor(deviceType, dev) {
				overrides[k] = v
			}
		}
		env := mergeEnv(baseEnv, overrides)

		specs = append(specs, WorkerSpec{
			Device:    dev,
			Index:     i,
			NodeName:  nodeName,
			ServerURL: serverURL,
			Env:       env,
			Args: []string{
				"--queue", queueName,
				"--node", nodeName,
				"--concurrency", "1",
				"--pool", "single-process",
				"--without-mingle",
				"--without-gossip",
				"--without-heartbeat",
			},
		})
	}
	return specs
}

// mergeEnv applies overrides with replace semantics: inherited copies of an
// overridden key are dropped, not shadowed. The child resolves the first
// occurrence of a duplicated key, so a stale inherited value would win over
// an appended per-device one.
func mergeEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		if key, _, ok := strings.Cut(kv, "="); ok {
			if _, overridden := overrides[key]; overridden {
				continue
			}
		}
		env = append(env, kv)
	}
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

// Launcher spawns one worker process per device and waits for all of them.
type Launcher struct {
	workerBin string
	logger    *zap.Logger
}

func NewLauncher(workerBin string, logger *zap.Logger) *Launcher {
	return &Launcher{workerBin: workerBin, logger: logger}
}

// Run starts every spec and joins on each. A single worker's crash is logged
// and does not touch its siblings: each device's worker lives and dies
// independently, unlike the inference fleet.
func (l *Launcher) Run(specs []WorkerSpec) error {
	cmds := make([]*exec.Cmd, 0, len(specs))

	for _, spec := range specs {
		cmd := exec.Command(l.workerBin, spec.Args...)
		cmd.Env = spec.Env
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		l.logger.Info("Spawning worker",
			zap.String("node", spec.NodeName),
			zap.String("device", spec.Device),
			zap.String("inference_url", spec.ServerURL),
		)

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start worker %s: %w", spec.NodeName, err)
		}
		cmds = append(cmds, cmd)
	}

	var wg sync.WaitGroup
	for i, cmd := range cmds {
		wg.Add(1)
		go func(spec WorkerSpec, cmd *exec.Cmd) {
			defer wg.Done()
			err := cmd.Wait()
			if err != nil {
				l.logger.Error("Worker exited",
					zap.String("node", spec.NodeName),
					zap.Error(err),
				)
				return
			}
			l.logger.Info("Worker exited", zap.String("node", spec.NodeName))
		}(specs[i], cmd)
	}
	wg.Wait()

	return nil
}
