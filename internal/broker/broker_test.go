package broker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	pulsec "github.com/mgx-platform/agentcore/internal/broker/pulse"
)

type fakePulseClient struct {
	mu      sync.Mutex
	streams map[string]*fakeStream
}

func newFakePulseClient() *fakePulseClient {
	return &fakePulseClient{streams: make(map[string]*fakeStream)}
}

func (c *fakePulseClient) Stream(name string, _ ...streamopts.Stream) (pulsec.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[name]
	if !ok {
		s = &fakeStream{name: name}
		c.streams[name] = s
	}
	return s, nil
}

type fakeStream struct {
	name    string
	mu      sync.Mutex
	sink    *fakeSink
	pending []*streaming.Event
	seq     int
}

func (s *fakeStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	s.mu.Lock()
	s.seq++
	id := s.name + "-" + event + "-" + time.Now().String()
	ev := &streaming.Event{ID: id, EventName: event, Payload: payload}
	sink := s.sink
	if sink == nil {
		s.pending = append(s.pending, ev)
	}
	s.mu.Unlock()
	if sink != nil {
		sink.deliver(ev)
	}
	return id, nil
}

func (s *fakeStream) NewSink(_ context.Context, _ string, _ ...streamopts.Sink) (pulsec.Sink, error) {
	sink := &fakeSink{ch: make(chan *streaming.Event, 64), acked: make(map[string]bool)}
	s.mu.Lock()
	s.sink = sink
	for _, ev := range s.pending {
		sink.ch <- ev
	}
	s.pending = nil
	s.mu.Unlock()
	return sink, nil
}

type fakeSink struct {
	ch    chan *streaming.Event
	mu    sync.Mutex
	acked map[string]bool
}

func (s *fakeSink) deliver(ev *streaming.Event) { s.ch <- ev }

func (s *fakeSink) Subscribe() <-chan *streaming.Event { return s.ch }

func (s *fakeSink) Ack(_ context.Context, ev *streaming.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked[ev.ID] = true
	return nil
}

func (s *fakeSink) Close(context.Context) {}

type inmemAttempts struct {
	mu    sync.Mutex
	count map[string]int64
}

func newInmemAttempts() *inmemAttempts { return &inmemAttempts{count: make(map[string]int64)} }

func (a *inmemAttempts) incr(_ context.Context, runID string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count[runID]++
	return a.count[runID], nil
}

func TestEnqueueThenConsumeDeliversTask(t *testing.T) {
	t.Parallel()

	pulse := newFakePulseClient()
	b := newBroker(pulse, newInmemAttempts(), 3, nil)

	task := Task{RunID: "r1", SessionID: "s1", WorkspaceHostPath: "/tmp/ws"}
	_, err := b.Enqueue(context.Background(), task)
	require.NoError(t, err)

	received := make(chan Task, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = b.Consume(ctx, func(_ context.Context, task Task) error {
			received <- task
			return nil
		})
	}()
	defer cancel()

	select {
	case got := <-received:
		require.Equal(t, task.RunID, got.RunID)
		require.Equal(t, task.SessionID, got.SessionID)
	case <-time.After(time.Second):
		t.Fatal("consumer did not receive enqueued task")
	}
}

func TestHandlerFailureLeavesTaskUnacked(t *testing.T) {
	t.Parallel()

	pulse := newFakePulseClient()
	b := newBroker(pulse, newInmemAttempts(), 3, nil)

	stream, err := pulse.Stream(streamName)
	require.NoError(t, err)
	sink, err := stream.NewSink(context.Background(), sinkName)
	require.NoError(t, err)

	payload, err := json.Marshal(Task{RunID: "r2"})
	require.NoError(t, err)
	ev := &streaming.Event{ID: "e1", EventName: eventName, Payload: payload}

	var calls int
	b.handleEvent(context.Background(), sink, ev, func(context.Context, Task) error {
		calls++
		return context.DeadlineExceeded
	})

	require.Equal(t, 1, calls)
	fs := sink.(*fakeSink)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.False(t, fs.acked["e1"])
}

func TestTaskExceedingMaxAttemptsIsDeadLettered(t *testing.T) {
	t.Parallel()

	pulse := newFakePulseClient()
	b := newBroker(pulse, newInmemAttempts(), 2, nil)

	stream, err := pulse.Stream(streamName)
	require.NoError(t, err)
	sink, err := stream.NewSink(context.Background(), sinkName)
	require.NoError(t, err)

	payload, err := json.Marshal(Task{RunID: "r3"})
	require.NoError(t, err)
	ev := &streaming.Event{ID: "e2", EventName: eventName, Payload: payload}

	var calls int
	handler := func(context.Context, Task) error {
		calls++
		return context.DeadlineExceeded
	}
	b.handleEvent(context.Background(), sink, ev, handler)
	b.handleEvent(context.Background(), sink, ev, handler)
	b.handleEvent(context.Background(), sink, ev, handler)

	require.Equal(t, 2, calls, "handler should not run once attempts exceed the max")
	fs := sink.(*fakeSink)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.True(t, fs.acked["e2"], "exhausted task should be acked after dead-lettering")

	dead, err := pulse.Stream(deadStream)
	require.NoError(t, err)
	require.NotNil(t, dead)
}
