package taskorch

import (
	"context"
	"time"

	"github.com/mgx-platform/agentcore/internal/apperr"
	"github.com/mgx-platform/agentcore/internal/store"
	"github.com/mgx-platform/agentcore/internal/telemetry"
)

// Orchestrator implements spec.md §4.8's five steps for one task at a time:
// build the container spec, start it, monitor until a terminal condition,
// terminate, and clean up idempotently. Concurrency across tasks is the
// caller's responsibility (one Orchestrator per worker goroutine, or one
// shared Orchestrator called serially — both are safe).
type Orchestrator struct {
	Engine ContainerEngine
	Events store.EventStore
	Config Config
	Log    telemetry.Logger
}

// New returns an Orchestrator. log may be nil, in which case a no-op
// logger is used.
func New(engine ContainerEngine, events store.EventStore, cfg Config, log telemetry.Logger) *Orchestrator {
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	return &Orchestrator{Engine: engine, Events: events, Config: cfg, Log: log}
}

// Run executes one task end to end: start the container, then monitor until
// the run's finish event appears, the container exits on its own, the task
// timeout elapses, or ctx is cancelled (an explicit stop signal from §4.9).
// Run always leaves exactly one finish event behind for the session, never
// returning an error for any of these terminal outcomes — only for failure
// to start the container at all.
func (o *Orchestrator) Run(ctx context.Context, task Task) error {
	spec := BuildSpec(task, o.Config)
	c, err := o.Engine.Start(ctx, spec)
	if err != nil {
		return apperr.TransportErr("taskorch.start", err)
	}
	o.Log.Info(ctx, "taskorch: container started", "session_id", task.SessionID, "container", spec.Name)
	return o.monitor(ctx, task.SessionID, c)
}

// monitor is step 3/4 of spec.md §4.8. ctx cancellation is reserved for the
// explicit stop signal (§4.9's stop endpoint cancels the context associated
// with a run); the task's own wall-clock timeout is tracked separately so
// the two terminal reasons (stopped vs timeout) stay distinguishable.
func (o *Orchestrator) monitor(ctx context.Context, sessionID string, c Container) error {
	deadline := time.Now().Add(taskTimeout(o.Config))
	ticker := time.NewTicker(pollInterval(o.Config))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return o.terminate(sessionID, c, store.FinishStopped, "stop-signal", 0)
		case <-ticker.C:
			fe, err := o.Events.FinishEvent(ctx, sessionID)
			if err != nil {
				o.Log.Warn(ctx, "taskorch: finish-event poll failed", "session_id", sessionID, "err", err)
			} else if fe != nil {
				o.cleanup(c)
				return nil
			}

			state, err := c.State(ctx)
			if err != nil {
				o.Log.Warn(ctx, "taskorch: container state poll failed", "session_id", sessionID, "err", err)
			} else if !state.Running {
				return o.terminate(sessionID, c, store.FinishFailed, "container-exited", state.ExitCode)
			}

			if time.Now().After(deadline) {
				return o.terminate(sessionID, c, store.FinishTimeout, "", 0)
			}
		}
	}
}

// terminate is step 4/5: stop and remove the container, and synthesise a
// finish event unless a real one already won the race (idempotent via the
// finish-event index, per spec.md §4.8 step 5).
func (o *Orchestrator) terminate(sessionID string, c Container, status store.FinishStatus, reason string, exitCode int) error {
	ctx := context.Background()
	defer o.cleanup(c)

	if fe, err := o.Events.FinishEvent(ctx, sessionID); err == nil && fe != nil {
		return nil
	}

	data := map[string]any{"status": string(status)}
	if reason != "" {
		data["reason"] = reason
	}
	if reason == "container-exited" {
		data["exit_code"] = exitCode
	}
	if _, err := o.Events.AppendEvent(ctx, &store.Event{
		SessionID: sessionID,
		Timestamp: store.Now(),
		Type:      store.EventFinish,
		Data:      data,
	}); err != nil {
		o.Log.Error(ctx, "taskorch: failed to append synthetic finish event", "session_id", sessionID, "err", err)
	}
	return nil
}

// cleanup stops then removes the container, tolerating either call being a
// no-op if the container is already gone — containers are safe to remove
// repeatedly per spec.md §4.8 step 5.
func (o *Orchestrator) cleanup(c Container) {
	ctx := context.Background()
	grace := stopGrace(o.Config)
	_ = c.Stop(ctx, &grace)
	_ = c.Remove(ctx)
}
