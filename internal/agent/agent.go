// Package agent implements the role-specialized LLM agents of the Agent
// Execution Core: the (system_prompt, model, tool_subset, middleware_chain)
// tuple and its stateless invoke loop.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mgx-platform/agentcore/internal/model"
	"github.com/mgx-platform/agentcore/internal/telemetry"
	"github.com/mgx-platform/agentcore/internal/tools"
)

// Middleware hooks into an agent's invoke loop before each model call.
// Implementations may mutate req in place (for example, to compress the
// message history) or return an error to abort the turn.
type Middleware interface {
	BeforeModel(ctx context.Context, req *model.Request) error
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc func(ctx context.Context, req *model.Request) error

func (f MiddlewareFunc) BeforeModel(ctx context.Context, req *model.Request) error { return f(ctx, req) }

// ErrIterationCapReached is returned when an invoke loop exhausts its
// per-agent iteration cap without the model producing a final message.
var ErrIterationCapReached = errors.New("agent: iteration cap reached")

// Agent is a stateless tuple of system prompt, model client, tool subset,
// and middleware chain. All durable state lives in the Team State or the
// Stores; an Agent instance carries no per-run data between Invoke calls.
type Agent struct {
	Name          string
	SystemPrompt  string
	Client        model.Client
	Tools         *tools.Registry
	ToolGroups    []tools.Group
	MaxIterations int
	Middlewares   []Middleware
	Log           telemetry.Logger
}

// Hooks lets a caller observe one Invoke call's progress without the loop
// knowing anything about event wire formats. All fields are optional. Hooks
// are passed per call, not stored on Agent, since one Agent value is shared
// across every node execution that uses its role in a long-lived Team.
type Hooks struct {
	// OnChunk is called with every streaming chunk, in order, before it is
	// folded into the accumulated assistant message. When nil, Invoke calls
	// the model via Complete instead of Stream.
	OnChunk func(model.Chunk)
	// OnAssistantMessage is called once per model-call iteration with the
	// finalized assistant message, before any of its tool_calls are
	// resolved — the message_id close boundary for the chunks OnChunk
	// already observed for that iteration.
	OnAssistantMessage func(model.Message)
	// OnToolStart is called just before a requested tool is invoked.
	OnToolStart func(model.ToolUsePart)
	// OnToolEnd is called with the originating call and the tool-role
	// result message just after a requested tool returns.
	OnToolEnd func(model.ToolUsePart, model.Message)
}

// InvokeResult is the outcome of one invoke loop: the final assistant
// message plus every tool-role message appended while resolving tool_calls
// along the way, in order.
type InvokeResult struct {
	FinalMessage model.Message
	ToolMessages []model.Message
	Iterations   int
	// Decision holds the most recent workflow_decision call's arguments, if
	// this agent's tool subset includes it and the model called it. A
	// Graph Orchestrator prefers this over scanning FinalMessage's text for
	// the legacy <<decision:...>> marker.
	Decision *tools.DecisionArgs
}

// Invoke runs the iterative tool-calling loop described by the agent's
// contract: call the model, resolve any tool_calls by invoking the
// corresponding tools and appending tool-role messages, and repeat until the
// model emits a final message with no tool_calls or the iteration cap is
// reached. hooks may be the zero value when the caller needs no visibility
// into intermediate progress.
func (a *Agent) Invoke(ctx context.Context, messages []model.Message, hooks Hooks) (*InvokeResult, error) {
	if a.Client == nil {
		return nil, errors.New("agent: model client is required")
	}
	maxIter := a.MaxIterations
	if maxIter <= 0 {
		maxIter = 25
	}

	toolDefs := a.toolDefinitions()
	transcript := append([]model.Message{}, messages...)
	result := &InvokeResult{}

	for i := 0; i < maxIter; i++ {
		result.Iterations = i + 1

		req := &model.Request{
			System:   a.SystemPrompt,
			Messages: transcript,
			Tools:    toolDefs,
		}
		for _, mw := range a.Middlewares {
			if err := mw.BeforeModel(ctx, req); err != nil {
				return nil, fmt.Errorf("agent %s: before_model middleware: %w", a.Name, err)
			}
		}

		assistant, toolCalls, err := a.callModel(ctx, req, hooks.OnChunk)
		if err != nil {
			return nil, fmt.Errorf("agent %s: model call: %w", a.Name, err)
		}
		transcript = req.Messages
		transcript = append(transcript, assistant)
		if hooks.OnAssistantMessage != nil {
			hooks.OnAssistantMessage(assistant)
		}

		if len(toolCalls) == 0 {
			result.FinalMessage = assistant
			return result, nil
		}

		for _, call := range toolCalls {
			if call.Name == tools.WorkflowDecisionToolName {
				var args tools.DecisionArgs
				if err := json.Unmarshal(call.Input, &args); err == nil {
					result.Decision = &args
				}
			}
			if hooks.OnToolStart != nil {
				hooks.OnToolStart(call)
			}
			toolMsg := a.runTool(ctx, call)
			if hooks.OnToolEnd != nil {
				hooks.OnToolEnd(call, toolMsg)
			}
			transcript = append(transcript, toolMsg)
			result.ToolMessages = append(result.ToolMessages, toolMsg)
		}
	}
	return nil, ErrIterationCapReached
}

func (a *Agent) callModel(ctx context.Context, req *model.Request, onChunk func(model.Chunk)) (model.Message, []model.ToolUsePart, error) {
	if onChunk == nil {
		resp, err := a.Client.Complete(ctx, req)
		if err != nil {
			return model.Message{}, nil, err
		}
		return resp.Message, resp.ToolCalls, nil
	}

	stream, err := a.Client.Stream(ctx, req)
	if errors.Is(err, model.ErrStreamingUnsupported) {
		resp, cErr := a.Client.Complete(ctx, req)
		if cErr != nil {
			return model.Message{}, nil, cErr
		}
		return resp.Message, resp.ToolCalls, nil
	}
	if err != nil {
		return model.Message{}, nil, err
	}
	defer stream.Close()

	var assistant model.Message
	assistant.Role = model.RoleAssistant
	var text string
	var toolCalls []model.ToolUsePart

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return model.Message{}, nil, err
		}
		onChunk(chunk)
		switch chunk.Type {
		case model.ChunkTypeText:
			text += chunk.Text
		case model.ChunkTypeToolCall:
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
		case model.ChunkTypeStop:
			// terminal chunk observed via onChunk; loop exits on next Recv EOF.
		}
	}
	if text != "" {
		assistant.Parts = append(assistant.Parts, model.TextPart{Text: text})
	}
	for _, tc := range toolCalls {
		assistant.Parts = append(assistant.Parts, tc)
	}
	return assistant, toolCalls, nil
}

func (a *Agent) runTool(ctx context.Context, call model.ToolUsePart) model.Message {
	res, err := a.Tools.Call(ctx, call.Name, call.Input)
	if err != nil {
		res = tools.ErrorResult(err)
	}
	content := res.Output
	if res.IsError && content == "" {
		content = res.ErrorDetail
	}
	return model.Message{
		Role: model.RoleTool,
		Parts: []model.Part{model.ToolResultPart{
			ToolUseID: call.ID,
			Content:   content,
			IsError:   res.IsError,
		}},
	}
}

func (a *Agent) toolDefinitions() []model.ToolDefinition {
	specs := a.Tools.Subset(a.ToolGroups...)
	defs := make([]model.ToolDefinition, 0, len(specs))
	for _, s := range specs {
		defs = append(defs, model.ToolDefinition{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: s.ArgsSchema,
		})
	}
	return defs
}
