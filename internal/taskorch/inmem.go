package taskorch

import (
	"context"
	"sync"
	"time"
)

// InmemEngine is a fake ContainerEngine for unit tests, following the same
// status-tracking-map shape as the teacher's engine/inmem.Engine: containers
// "run" until the test explicitly marks them exited, with no real process
// or daemon involved.
type InmemEngine struct {
	mu         sync.Mutex
	containers map[string]*inmemContainer
}

// NewInmemEngine returns an InmemEngine with no started containers.
func NewInmemEngine() *InmemEngine {
	return &InmemEngine{containers: make(map[string]*inmemContainer)}
}

func (e *InmemEngine) Start(_ context.Context, spec ContainerSpec) (Container, error) {
	c := &inmemContainer{id: spec.Name, running: true}
	e.mu.Lock()
	e.containers[spec.Name] = c
	e.mu.Unlock()
	return c, nil
}

// Exit marks a previously started container as exited with the given code,
// simulating the agent process finishing inside the container without a
// finish event ever reaching the Store.
func (e *InmemEngine) Exit(name string, exitCode int) {
	e.mu.Lock()
	c := e.containers[name]
	e.mu.Unlock()
	if c == nil {
		return
	}
	c.mu.Lock()
	c.running = false
	c.exitCode = exitCode
	c.mu.Unlock()
}

type inmemContainer struct {
	id       string
	mu       sync.Mutex
	running  bool
	exitCode int
	removed  bool
}

func (c *inmemContainer) ID() string { return c.id }

func (c *inmemContainer) State(context.Context) (ContainerState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ContainerState{Running: c.running, ExitCode: c.exitCode}, nil
}

func (c *inmemContainer) Stop(context.Context, *time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *inmemContainer) Remove(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = true // idempotent: a second call is a harmless no-op
	return nil
}
