package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/mgx-platform/agentcore/internal/model"
)

// streamer adapts an Anthropic Messages SSE stream to model.Streamer,
// translating provider events into model.Chunks on a background goroutine.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan model.Chunk

	mu       sync.Mutex
	finalErr error
	errSet   bool
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion]) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, stream: stream, chunks: make(chan model.Chunk, 32)}
	go s.run()
	return s
}

func (s *streamer) Recv() (model.Chunk, error) {
	select {
	case c, ok := <-s.chunks:
		if ok {
			return c, nil
		}
		if err := s.err(); err != nil {
			return model.Chunk{}, err
		}
		return model.Chunk{}, io.EOF
	case <-s.ctx.Done():
		s.setErr(s.ctx.Err())
		return model.Chunk{}, s.ctx.Err()
	}
}

func (s *streamer) Close() error {
	s.cancel()
	return s.stream.Close()
}

func (s *streamer) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.errSet {
		s.errSet = true
		s.finalErr = err
	}
}

func (s *streamer) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalErr
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer s.stream.Close()

	toolArgs := map[int]*strings.Builder{}
	toolMeta := map[int]model.ToolUsePart{}

	for s.stream.Next() {
		event := s.stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolArgs[int(ev.Index)] = &strings.Builder{}
				toolMeta[int(ev.Index)] = model.ToolUsePart{ID: tu.ID, Name: tu.Name}
			}
		case sdk.ContentBlockDeltaEvent:
			idx := int(ev.Index)
			switch d := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if !s.emit(model.Chunk{Type: model.ChunkTypeText, Text: d.Text}) {
					return
				}
			case sdk.ThinkingDelta:
				if !s.emit(model.Chunk{Type: model.ChunkTypeThinking, Thinking: d.Thinking}) {
					return
				}
			case sdk.InputJSONDelta:
				if b, ok := toolArgs[idx]; ok {
					b.WriteString(d.PartialJSON)
					meta := toolMeta[idx]
					if !s.emit(model.Chunk{Type: model.ChunkTypeToolCallDelta, ToolCallDelta: &model.ToolCallDelta{
						ID: meta.ID, Name: meta.Name, Delta: d.PartialJSON,
					}}) {
						return
					}
				}
			}
		case sdk.ContentBlockStopEvent:
			idx := int(ev.Index)
			if meta, ok := toolMeta[idx]; ok {
				raw := toolArgs[idx].String()
				if raw == "" {
					raw = "{}"
				}
				meta.Input = json.RawMessage(raw)
				if !s.emit(model.Chunk{Type: model.ChunkTypeToolCall, ToolCall: &meta}) {
					return
				}
				delete(toolMeta, idx)
				delete(toolArgs, idx)
			}
		case sdk.MessageDeltaEvent:
			if ev.Delta.StopReason != "" {
				if !s.emit(model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &model.TokenUsage{
					OutputTokens: int(ev.Usage.OutputTokens),
				}}) {
					return
				}
			}
		case sdk.MessageStopEvent:
			s.emit(model.Chunk{Type: model.ChunkTypeStop})
			return
		}
	}
	if err := s.stream.Err(); err != nil {
		s.setErr(err)
	}
}

func (s *streamer) emit(c model.Chunk) bool {
	select {
	case s.chunks <- c:
		return true
	case <-s.ctx.Done():
		s.setErr(s.ctx.Err())
		return false
	}
}
