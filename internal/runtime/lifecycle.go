package runtime

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/psantana5/rocm-bench/pkg/logging"
	"github.com/psantana5/rocm-bench/pkg/models"
)

// NamePrefix prefixes every container this system creates, so stray
// environments can be found and stopped as a group.
const NamePrefix = "rocmbench"

var nameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// EnvironmentName derives the deterministic container name for an image.
// Repeated invocations for the same (repository, tag) always land on the
// same name, which is what makes environments reusable across stages and
// across days.
func EnvironmentName(repository, tag string) string {
	repo := repository
	if i := strings.LastIndex(repo, "/"); i >= 0 {
		repo = repo[i+1:]
	}
	return NamePrefix + "_" + nameSanitizer.ReplaceAllString(repo, "_") + "_" + nameSanitizer.ReplaceAllString(tag, "_")
}

// Manager guarantees one running execution environment per image tag.
//
// Creation is best-effort with respect to concurrent callers: two
// processes racing to create the same named container is tolerated (the
// loser re-reads state and continues) but not serialized with a lock.
type Manager struct {
	docker           *Docker
	mounts           []string
	devices          []string
	readinessTimeout time.Duration
	log              *logging.Logger
}

// NewManager creates a lifecycle manager with a fixed mount/device policy
func NewManager(docker *Docker, mounts, devices []string, readinessTimeout time.Duration, log *logging.Logger) *Manager {
	return &Manager{
		docker:           docker,
		mounts:           mounts,
		devices:          devices,
		readinessTimeout: readinessTimeout,
		log:              log,
	}
}

// Ensure brings the environment for an image to RUNNING and returns it.
// ABSENT environments are pulled, created and started; STOPPED ones are
// started; RUNNING ones are a no-op. Safe to call repeatedly.
func (m *Manager) Ensure(ctx context.Context, candidate *models.ImageCandidate) (*models.ExecutionEnvironment, error) {
	image := candidate.Ref()
	name := EnvironmentName(candidate.Repository, candidate.Tag)

	env := &models.ExecutionEnvironment{
		Name:       name,
		Image:      image,
		MountSpec:  m.mounts,
		DeviceSpec: m.devices,
	}

	state, err := m.docker.ContainerState(ctx, name)
	if err != nil {
		return nil, &models.EnvironmentError{Operation: "inspect", Name: name, Err: err}
	}

	switch state {
	case models.EnvRunning:
		m.log.Debug("Environment already running", map[string]interface{}{"name": name})

	case models.EnvStopped:
		m.log.Info("Starting stopped environment", map[string]interface{}{"name": name})
		if err := m.docker.Start(ctx, name); err != nil {
			return nil, &models.EnvironmentError{Operation: "start", Name: name, Err: err}
		}

	case models.EnvAbsent:
		if !m.docker.ImagePresent(ctx, image) {
			if err := m.docker.Pull(ctx, image); err != nil {
				return nil, &models.EnvironmentError{Operation: "pull", Name: image, Err: err}
			}
		}

		m.log.Info("Creating environment", map[string]interface{}{"name": name, "image": image})
		if err := m.docker.Create(ctx, name, image, m.mounts, m.devices); err != nil {
			// A concurrent caller may have created it between our inspect
			// and create; re-read and keep going if so.
			if !strings.Contains(err.Error(), "already in use") && !strings.Contains(err.Error(), "Conflict") {
				return nil, &models.EnvironmentError{Operation: "create", Name: name, Err: err}
			}
			m.log.Warn("Lost create race, reusing existing container", map[string]interface{}{"name": name})
		}

		if err := m.docker.Start(ctx, name); err != nil {
			if !strings.Contains(err.Error(), "already started") {
				return nil, &models.EnvironmentError{Operation: "start", Name: name, Err: err}
			}
		}
	}

	if err := m.awaitReady(ctx, name); err != nil {
		return nil, err
	}

	env.State = models.EnvRunning
	return env, nil
}

// awaitReady polls until the container accepts exec, with a hard timeout.
// On expiry the container is stopped and the step reported failed; there
// is no point benchmarking inside an environment that never came up.
func (m *Manager) awaitReady(ctx context.Context, name string) error {
	deadline := time.Now().Add(m.readinessTimeout)

	for {
		if _, err := m.docker.Exec(ctx, name, "true"); err == nil {
			return nil
		}

		if time.Now().After(deadline) {
			m.log.Error("Environment readiness timed out, stopping it", map[string]interface{}{"name": name})
			_ = m.docker.Stop(ctx, name)
			return &models.EnvironmentError{
				Operation: "readiness",
				Name:      name,
				Err:       fmt.Errorf("not ready after %s", m.readinessTimeout),
			}
		}

		select {
		case <-ctx.Done():
			return &models.EnvironmentError{Operation: "readiness", Name: name, Err: ctx.Err()}
		case <-time.After(5 * time.Second):
		}
	}
}

// StopOthers stops every rocmbench container except keep. Used by the GPU
// lease before re-polling utilization.
func (m *Manager) StopOthers(ctx context.Context, keep string) error {
	names, err := m.docker.ListRunning(ctx, NamePrefix)
	if err != nil {
		return err
	}

	for _, name := range names {
		if name == keep {
			continue
		}
		m.log.Info("Stopping other environment", map[string]interface{}{"name": name})
		if err := m.docker.Stop(ctx, name); err != nil {
			m.log.Warn("Failed to stop environment", map[string]interface{}{"name": name, "error": err.Error()})
		}
	}

	return nil
}
