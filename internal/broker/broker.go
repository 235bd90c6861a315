// Package broker implements the Background Worker Broker: a durable
// at-least-once queue between the SSE Gateway and the Task Orchestrator,
// per spec.md §4.10. Producers (the Gateway) enqueue one Task per execution
// request; a pool of workers consumes them via a Pulse consumer group and
// hands each to the Task Orchestrator (C8), which never itself runs inside
// a worker process — workers stay cheap and horizontally scalable.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	pulsec "github.com/mgx-platform/agentcore/internal/broker/pulse"
	"github.com/mgx-platform/agentcore/internal/session"
	"github.com/mgx-platform/agentcore/internal/telemetry"
)

// Task is the payload dispatched from the Gateway to a worker. RunID is the
// de-duplication key required by spec.md §1 Non-goals ("at-least-once with
// de-duplication keys is sufficient").
type Task struct {
	RunID             string            `json:"run_id"`
	SessionID         string            `json:"session_id"`
	WorkspaceID       string            `json:"workspace_id"`
	Framework         session.Framework `json:"framework"`
	WorkspaceHostPath string            `json:"workspace_host_path"`
	StoreConn         string            `json:"store_conn"`
}

const (
	streamName  = "agentcore.tasks"
	sinkName    = "agentcore.workers"
	eventName   = "task"
	deadStream  = streamName + ".dead"
	attemptsTTL = time.Hour

	// DefaultMaxAttempts bounds redelivery before a task is dead-lettered.
	DefaultMaxAttempts = 5
)

// Handler processes one dispatched task. Returning an error leaves the
// task unacknowledged so Pulse's consumer-group redelivery (after the sink's
// ack grace period) retries it, up to MaxAttempts.
type Handler func(ctx context.Context, task Task) error

// attemptsCounter tracks delivery attempts per run id so the dead-letter
// threshold can be enforced independent of whichever stream backend is in
// use. The Redis-backed production implementation lives in redis_attempts.go;
// tests substitute an in-memory one.
type attemptsCounter interface {
	incr(ctx context.Context, runID string) (int64, error)
}

// Broker wraps a Pulse client (itself backed by Redis Streams) to provide
// task enqueue/consume, grounded on the teacher's
// features/stream/pulse/clients/pulse.Client wrapper and the
// runtime/toolregistry/provider subscribe-handle-ack loop.
type Broker struct {
	pulse       pulsec.Client
	attempts    attemptsCounter
	maxAttempts int
	log         telemetry.Logger
}

// Options configures a Broker.
type Options struct {
	Redis       *redis.Client
	MaxAttempts int
	Log         telemetry.Logger
}

// New constructs a Broker. Redis is required.
func New(opts Options) (*Broker, error) {
	if opts.Redis == nil {
		return nil, fmt.Errorf("broker: redis client is required")
	}
	pulse, err := pulsec.New(pulsec.Options{Redis: opts.Redis})
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}
	return newBroker(pulse, &redisAttempts{redis: opts.Redis}, opts.MaxAttempts, opts.Log), nil
}

func newBroker(pulse pulsec.Client, attempts attemptsCounter, maxAttempts int, log telemetry.Logger) *Broker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	return &Broker{pulse: pulse, attempts: attempts, maxAttempts: maxAttempts, log: log}
}

// Enqueue publishes a task to the durable stream, returning the Redis-
// assigned event id.
func (b *Broker) Enqueue(ctx context.Context, task Task) (string, error) {
	if task.RunID == "" {
		return "", fmt.Errorf("broker: task run id is required")
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("broker: marshal task: %w", err)
	}
	stream, err := b.pulse.Stream(streamName)
	if err != nil {
		return "", fmt.Errorf("broker: open stream: %w", err)
	}
	id, err := stream.Add(ctx, eventName, payload)
	if err != nil {
		return "", fmt.Errorf("broker: enqueue task %s: %w", task.RunID, err)
	}
	return id, nil
}

// Consume subscribes to the task stream under a shared consumer group and
// invokes handler for each task until ctx is cancelled. It is safe to run
// Consume concurrently from multiple worker processes: Pulse's consumer
// group semantics ensure each task is delivered to exactly one worker at a
// time (redelivered to another on ack timeout).
func (b *Broker) Consume(ctx context.Context, handler Handler) error {
	stream, err := b.pulse.Stream(streamName)
	if err != nil {
		return fmt.Errorf("broker: open stream: %w", err)
	}
	sink, err := stream.NewSink(ctx, sinkName, streamopts.WithSinkAckGracePeriod(30*time.Second))
	if err != nil {
		return fmt.Errorf("broker: create sink: %w", err)
	}
	defer sink.Close(ctx)

	events := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("broker: task stream subscription closed")
			}
			b.handleEvent(ctx, sink, ev, handler)
		}
	}
}

func (b *Broker) handleEvent(ctx context.Context, sink pulsec.Sink, ev *streaming.Event, handler Handler) {
	var task Task
	if err := json.Unmarshal(ev.Payload, &task); err != nil {
		b.log.Error(ctx, "broker: malformed task payload, dead-lettering", "event_id", ev.ID, "err", err)
		b.deadLetter(ctx, ev.Payload, "malformed payload")
		b.ack(ctx, sink, ev)
		return
	}

	attempts, err := b.attempts.incr(ctx, task.RunID)
	if err != nil {
		b.log.Warn(ctx, "broker: attempts counter failed, proceeding without dedup guard", "run_id", task.RunID, "err", err)
	}
	if attempts > int64(b.maxAttempts) {
		b.log.Error(ctx, "broker: task exceeded max attempts, dead-lettering", "run_id", task.RunID, "attempts", attempts)
		b.deadLetter(ctx, ev.Payload, "max attempts exceeded")
		b.ack(ctx, sink, ev)
		return
	}

	if err := handler(ctx, task); err != nil {
		b.log.Error(ctx, "broker: handler failed, leaving unacked for redelivery", "run_id", task.RunID, "attempt", attempts, "err", err)
		return
	}
	b.ack(ctx, sink, ev)
}

func (b *Broker) ack(ctx context.Context, sink pulsec.Sink, ev *streaming.Event) {
	if err := sink.Ack(ctx, ev); err != nil {
		b.log.Error(ctx, "broker: ack failed", "event_id", ev.ID, "err", err)
	}
}

func (b *Broker) deadLetter(ctx context.Context, payload []byte, reason string) {
	deadStreamHandle, err := b.pulse.Stream(deadStream)
	if err != nil {
		b.log.Error(ctx, "broker: open dead-letter stream failed", "err", err)
		return
	}
	if _, err := deadStreamHandle.Add(ctx, reason, payload); err != nil {
		b.log.Error(ctx, "broker: publish to dead-letter stream failed", "err", err)
	}
}
