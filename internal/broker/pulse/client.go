// Package pulse is a thin wrapper around goa.design/pulse streaming,
// scoped to exactly the operations the Background Worker Broker needs:
// open a named stream, publish to it, and subscribe via a consumer group.
// Adapted from the teacher's features/stream/pulse/clients/pulse.Client.
package pulse

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

// Options configures the client. Redis is required.
type Options struct {
	Redis        *redis.Client
	StreamMaxLen int
}

// Client opens named Pulse streams.
type Client interface {
	Stream(name string, opts ...streamopts.Stream) (Stream, error)
}

// Stream exposes publish and consumer-group subscription on a named stream.
type Stream interface {
	Add(ctx context.Context, event string, payload []byte) (string, error)
	NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
}

// Sink is a consumer-group handle for reading from a Stream.
type Sink interface {
	Subscribe() <-chan *streaming.Event
	Ack(ctx context.Context, ev *streaming.Event) error
	Close(ctx context.Context)
}

type client struct {
	redis  *redis.Client
	maxLen int
}

// New constructs a Client backed by the given Redis connection.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("pulse: redis client is required")
	}
	return &client{redis: opts.Redis, maxLen: opts.StreamMaxLen}, nil
}

func (c *client) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("pulse: stream name is required")
	}
	var streamOpts []streamopts.Stream
	if c.maxLen > 0 {
		streamOpts = append(streamOpts, streamopts.WithStreamMaxLen(c.maxLen))
	}
	streamOpts = append(streamOpts, opts...)
	str, err := streaming.NewStream(name, c.redis, streamOpts...)
	if err != nil {
		return nil, fmt.Errorf("pulse: open stream %q: %w", name, err)
	}
	return &handle{stream: str}, nil
}

type handle struct {
	stream *streaming.Stream
}

func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse: add event %q: %w", event, err)
	}
	return id, nil
}

func (h *handle) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	s, err := h.stream.NewSink(ctx, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("pulse: create sink %q: %w", name, err)
	}
	return &sinkAdapter{Sink: s}, nil
}

type sinkAdapter struct {
	*streaming.Sink
}

func (s *sinkAdapter) Close(ctx context.Context) {
	s.Sink.Close(ctx)
}
