// Package runtime implements the Streaming Runtime (C7): it owns the Team
// State for one run, drives the Graph Orchestrator, and translates node
// execution into the persisted Event/Message stream the SSE Gateway polls.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mgx-platform/agentcore/internal/agent"
	"github.com/mgx-platform/agentcore/internal/apperr"
	"github.com/mgx-platform/agentcore/internal/graph"
	"github.com/mgx-platform/agentcore/internal/model"
	"github.com/mgx-platform/agentcore/internal/store"
	"github.com/mgx-platform/agentcore/internal/telemetry"
	"github.com/mgx-platform/agentcore/internal/tools"
)

// Options configures one Run. One Runtime serves exactly one run and is
// discarded after Run returns, per §4.7's "one run per container; no
// cross-run sharing".
type Options struct {
	SessionID   string
	WorkspaceID string
	Framework   string
	TraceID     string

	Team  *agent.Team
	Graph *graph.Graph

	Events   store.EventStore
	Messages store.MessageStore

	// HistoryLimit bounds how many prior messages are preloaded into the
	// initial Team State. Zero means no bound.
	HistoryLimit int
	// MaxNodeTransitions caps total node transitions to prevent runaway
	// routing loops. Defaults to 50.
	MaxNodeTransitions int
	// ModelRetries bounds the number of times a node's invoke loop is
	// retried after a model-call failure before the run fails, per §4.7's
	// "retried with bounded exponential back-off". Defaults to 3.
	ModelRetries int
	// RetryBaseDelay is the base of the exponential back-off between model
	// retries. Defaults to 500ms.
	RetryBaseDelay time.Duration

	Log telemetry.Logger
}

// Runtime drives one graph execution end to end.
type Runtime struct {
	opts Options
}

// New constructs a Runtime, applying defaults for unset options.
func New(opts Options) *Runtime {
	if opts.MaxNodeTransitions <= 0 {
		opts.MaxNodeTransitions = 50
	}
	if opts.ModelRetries <= 0 {
		opts.ModelRetries = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 500 * time.Millisecond
	}
	if opts.Log == nil {
		opts.Log = telemetry.NoopLogger{}
	}
	return &Runtime{opts: opts}
}

// Run executes the full input-resolution → node loop → finish sequence
// described by §4.7. It returns nil once a terminal finish event has been
// emitted, including for the non-error "stopped" and "failed" outcomes —
// the return error is reserved for conditions the caller must react to
// beyond what the event stream already records (currently none; kept for
// forward compatibility with callers that want to distinguish persistence
// failures during finish itself).
func (r *Runtime) Run(ctx context.Context) error {
	last, err := r.opts.Messages.LastMessage(ctx, r.opts.SessionID)
	if err != nil {
		return r.finish(ctx, store.FinishFailed, fmt.Sprintf("resolve last message: %v", err))
	}
	if last == nil || last.Role != store.RoleUser {
		return r.finish(ctx, store.FinishStopped, "no-user-turn")
	}

	history, err := r.opts.Messages.ListMessages(ctx, r.opts.SessionID, r.opts.HistoryLimit, store.Ascending)
	if err != nil {
		return r.finish(ctx, store.FinishFailed, fmt.Sprintf("load history: %v", err))
	}

	state := &TeamState{
		Messages:    history,
		Framework:   r.opts.Framework,
		WorkspaceID: r.opts.WorkspaceID,
		Slots:       map[string]string{},
	}

	r.emit(ctx, store.EventAgentStart, nil, map[string]any{
		"prompt":     last.Content,
		"framework":  r.opts.Framework,
		"message_id": last.ID,
	})

	current := r.opts.Graph.Start
	transitions := 0
	for current != graph.TerminalNode {
		transitions++
		if transitions > r.opts.MaxNodeTransitions {
			return r.finish(ctx, store.FinishFailed, "node-transition-cap-exceeded")
		}

		node := r.opts.Graph.Nodes[current]
		if node == nil {
			return r.finish(ctx, store.FinishFailed, fmt.Sprintf("unknown-node:%s", current))
		}

		if state.Stage != current {
			r.emit(ctx, store.EventStageChange, nil, map[string]any{"from_stage": state.Stage, "to_stage": current})
			state.Stage = current
		}
		r.emit(ctx, store.EventNodeStart, &node.Name, map[string]any{"node_name": current, "namespace": []string{}})

		ag, ok := r.opts.Team.Agents[agent.Role(node.Role)]
		if !ok {
			return r.finish(ctx, store.FinishFailed, fmt.Sprintf("no agent bound to role %q", node.Role))
		}

		decision, err := r.runNodeWithRetry(ctx, node.Name, ag, state)
		if err != nil {
			r.emit(ctx, store.EventAgentError, &node.Name, map[string]any{
				"error":      err.Error(),
				"error_type": string(errKind(err)),
				"namespace":  []string{},
			})
			return r.finish(ctx, store.FinishFailed, err.Error())
		}

		r.emit(ctx, store.EventNodeEnd, &node.Name, map[string]any{"node_name": current, "decision": decision.NextAction})
		state.LastDecision = decision.NextAction

		next, fellBack := r.opts.Graph.Resolve(current, decision.NextAction)
		if fellBack && decision.NextAction != "" {
			r.emit(ctx, store.EventCustom, &node.Name, map[string]any{
				"custom_type": "routing_fallback",
				"payload":     fmt.Sprintf("unknown action %q at node %q, defaulting to linear successor", decision.NextAction, current),
			})
		}
		current = next
	}

	return r.finish(ctx, store.FinishSuccess, "")
}

// runNodeWithRetry wraps one node's invoke loop with the §4.7 bounded
// exponential back-off retry on model-call failure. Retrying at node
// granularity (rather than per individual model call inside the loop) is a
// deliberate simplification: the invoke loop does not expose a narrower
// failure boundary, and a node's tool calls are idempotent enough (file
// writes, decision recording) that re-running the whole turn is safe.
func (r *Runtime) runNodeWithRetry(ctx context.Context, nodeName string, ag *agent.Agent, state *TeamState) (tools.DecisionArgs, error) {
	var lastErr error
	for attempt := 0; attempt <= r.opts.ModelRetries; attempt++ {
		if attempt > 0 {
			delay := r.opts.RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return tools.DecisionArgs{}, ctx.Err()
			}
		}
		decision, err := r.runNode(ctx, nodeName, ag, state)
		if err == nil {
			return decision, nil
		}
		lastErr = err
		kind, _ := apperr.KindOf(err)
		if kind != apperr.Model && kind != apperr.Persistence && !errors.Is(err, context.DeadlineExceeded) {
			return tools.DecisionArgs{}, err
		}
	}
	return tools.DecisionArgs{}, lastErr
}

// runNode drives one node's invoke loop, translating its progress into
// persisted events and messages as it happens.
func (r *Runtime) runNode(ctx context.Context, nodeName string, ag *agent.Agent, state *TeamState) (tools.DecisionArgs, error) {
	var messageID string
	toolCallIndex := map[string]int{}
	nextToolCallIndex := 0

	hooks := agent.Hooks{
		OnChunk: func(c model.Chunk) {
			if messageID == "" {
				messageID = uuid.NewString()
			}
			r.emit(ctx, store.EventLLMStream, &nodeName, llmStreamData(messageID, c, toolCallIndex, &nextToolCallIndex))
		},
		OnAssistantMessage: func(msg model.Message) {
			if messageID == "" {
				messageID = uuid.NewString()
			}
			sm := toStoreMessage(r.opts.SessionID, nodeName, msg, r.opts.TraceID)
			id, err := r.opts.Messages.AppendMessage(ctx, sm)
			if err != nil {
				r.opts.Log.Warn(ctx, "runtime: persist assistant message failed", "error", err.Error())
			} else {
				sm.ID = id
			}
			state.AppendMessage(sm)
			r.emit(ctx, store.EventMessageComplete, &nodeName, messageCompleteData(messageID, sm))
			messageID = ""
			toolCallIndex = map[string]int{}
			nextToolCallIndex = 0
		},
		OnToolStart: func(call model.ToolUsePart) {
			r.emit(ctx, store.EventToolStart, &nodeName, map[string]any{
				"tool_name":    call.Name,
				"tool_call_id": call.ID,
				"args":         string(call.Input),
			})
		},
		OnToolEnd: func(call model.ToolUsePart, msg model.Message) {
			sm := toStoreMessage(r.opts.SessionID, nodeName, msg, r.opts.TraceID)
			id, err := r.opts.Messages.AppendMessage(ctx, sm)
			if err != nil {
				r.opts.Log.Warn(ctx, "runtime: persist tool message failed", "error", err.Error())
			} else {
				sm.ID = id
			}
			state.AppendMessage(sm)

			isError := false
			for _, p := range msg.Parts {
				if tr, ok := p.(model.ToolResultPart); ok {
					isError = tr.IsError
				}
			}
			data := map[string]any{"tool_name": call.Name, "tool_call_id": call.ID, "result": sm.Content}
			if isError {
				data["error"] = sm.Content
			}
			r.emit(ctx, store.EventToolEnd, &nodeName, data)
			r.emit(ctx, store.EventMessageComplete, &nodeName, messageCompleteData(uuid.NewString(), sm))
		},
	}

	result, err := ag.Invoke(ctx, toModelMessages(state.Messages), hooks)
	if err != nil {
		if errors.Is(err, agent.ErrIterationCapReached) {
			return tools.DecisionArgs{}, apperr.InvariantErr("invoke", err)
		}
		return tools.DecisionArgs{}, apperr.ModelErr("invoke", err)
	}

	if result.Decision != nil {
		return *result.Decision, nil
	}
	var text string
	for _, p := range result.FinalMessage.Parts {
		if v, ok := p.(model.TextPart); ok {
			text += v.Text
		}
	}
	if action, ok := tools.ParseTextualDecision(text); ok {
		return tools.DecisionArgs{NextAction: action}, nil
	}
	return tools.DecisionArgs{NextAction: graph.ActionContinue}, nil
}

func (r *Runtime) finish(ctx context.Context, status store.FinishStatus, reason string) error {
	existing, err := r.opts.Events.FinishEvent(ctx, r.opts.SessionID)
	if err == nil && existing != nil {
		return nil
	}
	data := map[string]any{"status": string(status)}
	if reason != "" {
		data["reason"] = reason
	}
	r.emit(ctx, store.EventFinish, nil, data)
	return nil
}

func (r *Runtime) emit(ctx context.Context, eventType store.EventType, agentName *string, data map[string]any) {
	e := &store.Event{
		SessionID: r.opts.SessionID,
		Timestamp: store.Now(),
		Type:      eventType,
		Data:      data,
		TraceID:   r.opts.TraceID,
	}
	if agentName != nil {
		e.AgentName = *agentName
	}
	if _, err := r.opts.Events.AppendEvent(ctx, e); err != nil {
		r.opts.Log.Warn(ctx, "runtime: append event failed", "event_type", string(eventType), "error", err.Error())
	}
}

// llmStreamData builds the §4.7 llm_stream event payload. toolCallIndex
// assigns a stable, increasing index per distinct tool_call_id observed
// within the current message, since the model package's Chunk has no
// native index field.
func llmStreamData(messageID string, c model.Chunk, toolCallIndex map[string]int, next *int) map[string]any {
	data := map[string]any{"message_id": messageID}
	indexFor := func(id string) int {
		if id == "" {
			return *next
		}
		if idx, ok := toolCallIndex[id]; ok {
			return idx
		}
		idx := *next
		toolCallIndex[id] = idx
		*next++
		return idx
	}
	switch c.Type {
	case model.ChunkTypeToolCall:
		data["content_type"] = "tool_call"
		if c.ToolCall != nil {
			data["tool_call_index"] = indexFor(c.ToolCall.ID)
			data["tool_call_name"] = c.ToolCall.Name
			data["tool_call_id"] = c.ToolCall.ID
			data["delta"] = string(c.ToolCall.Input)
		}
	case model.ChunkTypeToolCallDelta:
		data["content_type"] = "tool_call"
		if c.ToolCallDelta != nil {
			data["tool_call_index"] = indexFor(c.ToolCallDelta.ID)
			data["tool_call_name"] = c.ToolCallDelta.Name
			data["tool_call_id"] = c.ToolCallDelta.ID
			data["delta"] = c.ToolCallDelta.Delta
		}
	default:
		data["content_type"] = "text"
		data["delta"] = c.Text
	}
	return data
}

func errKind(err error) apperr.Kind {
	if k, ok := apperr.KindOf(err); ok {
		return k
	}
	return apperr.Model
}
