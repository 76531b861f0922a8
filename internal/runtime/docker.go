// Package runtime manages long-lived benchmark containers through the
// container runtime CLI. The core only ever observes process exit status
// and captured output, never the runtime's internal API.
package runtime

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/psantana5/rocm-bench/pkg/logging"
	"github.com/psantana5/rocm-bench/pkg/models"
	"github.com/psantana5/rocm-bench/pkg/retry"
)

// Runner executes a host command and returns its combined output. It is an
// interface so lifecycle and exec behaviour can be tested without a real
// container runtime on the machine.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// execRunner runs commands via os/exec
type execRunner struct{}

// NewExecRunner returns a Runner backed by os/exec
func NewExecRunner() Runner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Docker wraps the docker (or podman) CLI
type Docker struct {
	bin    string
	runner Runner
	log    *logging.Logger
}

// NewDocker creates a CLI wrapper using the given binary name
func NewDocker(bin string, runner Runner, log *logging.Logger) *Docker {
	if bin == "" {
		bin = "docker"
	}
	return &Docker{bin: bin, runner: runner, log: log}
}

// Pull pulls an image. Transient registry failures are retried with
// backoff; anything else fails the pull outright.
func (d *Docker) Pull(ctx context.Context, image string) error {
	d.log.Info("Pulling image", map[string]interface{}{"image": image})

	var permanent error
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		out, rerr := d.runner.Run(ctx, d.bin, "pull", image)
		if rerr != nil {
			perr := fmt.Errorf("pull failed: %v: %s", rerr, firstLine(out))
			if !retry.IsRetryable(perr) {
				permanent = perr
				return nil
			}
			d.log.Warn("Pull attempt failed", map[string]interface{}{"image": image, "error": perr.Error()})
			return perr
		}
		return nil
	})
	if permanent != nil {
		return permanent
	}
	return err
}

// ImagePresent reports whether an image already exists locally
func (d *Docker) ImagePresent(ctx context.Context, image string) bool {
	_, err := d.runner.Run(ctx, d.bin, "image", "inspect", image)
	return err == nil
}

// ContainerState observes the state of a named container
func (d *Docker) ContainerState(ctx context.Context, name string) (models.EnvState, error) {
	out, err := d.runner.Run(ctx, d.bin, "inspect", "-f", "{{.State.Running}}", name)
	if err != nil {
		if strings.Contains(out, "No such") || strings.Contains(err.Error(), "No such") {
			return models.EnvAbsent, nil
		}
		return models.EnvAbsent, fmt.Errorf("inspect failed: %v: %s", err, firstLine(out))
	}

	if strings.TrimSpace(out) == "true" {
		return models.EnvRunning, nil
	}
	return models.EnvStopped, nil
}

// Create creates (but does not start) a named container that sleeps
// forever, so repeated exec calls reuse one environment
func (d *Docker) Create(ctx context.Context, name, image string, mounts, devices []string) error {
	args := []string{"create", "--name", name,
		"--network", "host",
		"--ipc", "host",
		"--group-add", "video",
		"--cap-add", "SYS_PTRACE",
		"--security-opt", "seccomp=unconfined",
	}
	for _, m := range mounts {
		args = append(args, "-v", m)
	}
	for _, dev := range devices {
		args = append(args, "--device", dev)
	}
	args = append(args, image, "sleep", "infinity")

	out, err := d.runner.Run(ctx, d.bin, args...)
	if err != nil {
		return fmt.Errorf("create failed: %v: %s", err, firstLine(out))
	}
	return nil
}

// Start starts a container
func (d *Docker) Start(ctx context.Context, name string) error {
	out, err := d.runner.Run(ctx, d.bin, "start", name)
	if err != nil {
		return fmt.Errorf("start failed: %v: %s", err, firstLine(out))
	}
	return nil
}

// Stop stops a container
func (d *Docker) Stop(ctx context.Context, name string) error {
	out, err := d.runner.Run(ctx, d.bin, "stop", name)
	if err != nil {
		return fmt.Errorf("stop failed: %v: %s", err, firstLine(out))
	}
	return nil
}

// Exec runs a command inside a running container and returns its combined
// output. The output text is the benchmark's only data channel back.
func (d *Docker) Exec(ctx context.Context, name string, cmd ...string) (string, error) {
	args := append([]string{"exec", name}, cmd...)
	return d.runner.Run(ctx, d.bin, args...)
}

// ListRunning returns names of running containers with the given prefix
func (d *Docker) ListRunning(ctx context.Context, prefix string) ([]string, error) {
	out, err := d.runner.Run(ctx, d.bin, "ps", "--format", "{{.Names}}")
	if err != nil {
		return nil, fmt.Errorf("ps failed: %v: %s", err, firstLine(out))
	}

	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && strings.HasPrefix(line, prefix) {
			names = append(names, line)
		}
	}
	return names, nil
}

// firstLine trims command output to its first line for error messages
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
