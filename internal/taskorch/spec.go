// Package taskorch implements the Task Orchestrator: per-task container
// lifecycle management described by spec.md §4.8. It consumes one task at
// a time (the caller, a worker pulling off the Background Worker Broker,
// handles concurrency across tasks), spawns an isolated agent container,
// polls the Store and the container's own state until a terminal condition
// is reached, and synthesises a finish event when the container itself
// never gets the chance to write one.
package taskorch

import (
	"time"

	"github.com/mgx-platform/agentcore/internal/session"
)

// Defaults mirror spec.md §4.8/§5's stated defaults.
const (
	DefaultPollInterval           = 2 * time.Second
	DefaultTaskTimeout            = 30 * time.Minute
	DefaultMemoryLimitBytes int64 = 2 << 30 // 2 GiB
	DefaultCPUCores               = 1.0
	DefaultContainerWorkspacePath = "/workspace"
	DefaultStopGrace              = 10 * time.Second
)

// Task describes one unit of work handed to the orchestrator by a worker.
// WorkspaceHostPath must be the path as seen by the Docker daemon, not the
// path inside the worker's own container, since bind mounts resolve on the
// host.
type Task struct {
	SessionID         string
	WorkspaceID       string
	Framework         session.Framework
	WorkspaceHostPath string
	StoreConn         string
}

// Config holds the orchestrator-wide settings that apply to every task,
// overridable per deployment.
type Config struct {
	Image                  string
	ContainerWorkspacePath string
	MemoryLimitBytes       int64
	CPUCores               float64
	PollInterval           time.Duration
	TaskTimeout            time.Duration
	StopGrace              time.Duration
}

// ContainerSpec is the fully resolved description of the container to
// launch for one task, independent of the backend (Docker, or a fake for
// tests) that actually starts it.
type ContainerSpec struct {
	Name                   string
	Image                  string
	Env                    map[string]string
	HostWorkspacePath      string
	ContainerWorkspacePath string
	MemoryLimitBytes       int64
	CPUCores               float64
}

// BuildSpec resolves a Task plus Config into a ContainerSpec: step 1 of
// spec.md §4.8. The container name is deterministic from the session id so
// retries and restarts target the same container rather than leaking one
// per attempt.
func BuildSpec(task Task, cfg Config) ContainerSpec {
	return ContainerSpec{
		Name:  ContainerName(task.SessionID),
		Image: cfg.Image,
		Env: map[string]string{
			"SESSION_ID":        task.SessionID,
			"WORKSPACE_ID":      task.WorkspaceID,
			"FRAMEWORK":         string(task.Framework),
			"RUN_MODE":          runMode(task.StoreConn),
			"STORE_CONN":        task.StoreConn,
			"MGX_AGENT_API_KEY": task.SessionID,
		},
		HostWorkspacePath:      task.WorkspaceHostPath,
		ContainerWorkspacePath: containerWorkspacePath(cfg),
		MemoryLimitBytes:       memoryLimitBytes(cfg),
		CPUCores:               cpuCores(cfg),
	}
}

// ContainerName derives the deterministic container name for a session, so
// the same task retried after a crash finds (and can clean up) the
// previous attempt's container instead of colliding with a fresh name.
func ContainerName(sessionID string) string {
	return "agentcore-run-" + sessionID
}

func containerWorkspacePath(cfg Config) string {
	if cfg.ContainerWorkspacePath != "" {
		return cfg.ContainerWorkspacePath
	}
	return DefaultContainerWorkspacePath
}

func memoryLimitBytes(cfg Config) int64 {
	if cfg.MemoryLimitBytes > 0 {
		return cfg.MemoryLimitBytes
	}
	return DefaultMemoryLimitBytes
}

func cpuCores(cfg Config) float64 {
	if cfg.CPUCores > 0 {
		return cfg.CPUCores
	}
	return DefaultCPUCores
}

func pollInterval(cfg Config) time.Duration {
	if cfg.PollInterval > 0 {
		return cfg.PollInterval
	}
	return DefaultPollInterval
}

func taskTimeout(cfg Config) time.Duration {
	if cfg.TaskTimeout > 0 {
		return cfg.TaskTimeout
	}
	return DefaultTaskTimeout
}

// runMode reports which backend the agent container should use for its
// Event/Message Stores, per spec.md §6's RUN_MODE ∈ {memory, database}: an
// empty store connection string means there is nothing durable to connect
// to, so the container falls back to its own in-process store.
func runMode(storeConn string) string {
	if storeConn == "" {
		return "memory"
	}
	return "database"
}

func stopGrace(cfg Config) time.Duration {
	if cfg.StopGrace > 0 {
		return cfg.StopGrace
	}
	return DefaultStopGrace
}
