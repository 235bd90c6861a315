package taskorch

import (
	"context"
	"time"
)

// ContainerState is the liveness snapshot the monitor loop inspects each
// poll: whether the container is still running, and if not, its exit code.
type ContainerState struct {
	Running  bool
	ExitCode int
}

// Container is the handle returned by starting an agent container. It is
// intentionally narrow — the orchestrator never interprets tool outputs or
// reads container logs, it only observes liveness and stops/removes.
type Container interface {
	ID() string
	State(ctx context.Context) (ContainerState, error)
	Stop(ctx context.Context, timeout *time.Duration) error
	Remove(ctx context.Context) error
}

// ContainerEngine abstracts container start so the real Docker-backed
// implementation can be swapped for an in-memory fake in tests, the same
// way the teacher swaps a real workflow engine for engine/inmem.
type ContainerEngine interface {
	Start(ctx context.Context, spec ContainerSpec) (Container, error)
}
