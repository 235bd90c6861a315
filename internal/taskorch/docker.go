package taskorch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/testcontainers/testcontainers-go"
)

// DockerEngine launches agent containers via the local Docker daemon using
// testcontainers-go — the library the teacher itself reaches for whenever a
// test needs a real container lifecycle (registry/store/mongo/mongo_test.go,
// registry/health_tracker_integration_test.go). Here it is promoted from
// test-only use to the production backend for the agent container itself.
type DockerEngine struct{}

// NewDockerEngine returns a ContainerEngine backed by the local Docker
// daemon.
func NewDockerEngine() *DockerEngine { return &DockerEngine{} }

func (e *DockerEngine) Start(ctx context.Context, spec ContainerSpec) (Container, error) {
	req := testcontainers.ContainerRequest{
		Name:  spec.Name,
		Image: spec.Image,
		Env:   spec.Env,
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.AutoRemove = true
			hc.Binds = append(hc.Binds, spec.HostWorkspacePath+":"+spec.ContainerWorkspacePath)
			if spec.MemoryLimitBytes > 0 {
				hc.Resources.Memory = spec.MemoryLimitBytes
			}
			if spec.CPUCores > 0 {
				hc.Resources.NanoCPUs = int64(spec.CPUCores * 1e9)
			}
		},
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start agent container %q: %w", spec.Name, err)
	}
	return &dockerContainer{c: c}, nil
}

type dockerContainer struct {
	c testcontainers.Container
}

func (d *dockerContainer) ID() string { return d.c.GetContainerID() }

func (d *dockerContainer) State(ctx context.Context) (ContainerState, error) {
	s, err := d.c.State(ctx)
	if err != nil {
		return ContainerState{}, err
	}
	return ContainerState{Running: s.Running, ExitCode: s.ExitCode}, nil
}

func (d *dockerContainer) Stop(ctx context.Context, timeout *time.Duration) error {
	// testcontainers-go forwards this to the Docker daemon's stop call,
	// which sends SIGTERM and escalates to SIGKILL once timeout elapses.
	return d.c.Stop(ctx, timeout)
}

func (d *dockerContainer) Remove(ctx context.Context) error {
	// AutoRemove means the daemon may already have removed the container by
	// the time this runs; Terminate tolerates a "no such container" error.
	err := d.c.Terminate(ctx)
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "No such container")
}
