// Package model defines the provider-agnostic message and streaming types
// shared by the LLM Agent and its provider adapters. Messages are modeled as
// typed parts (text, thinking, tool use/result, file reference) rather than
// flattened strings, mirroring the content_parts shape of a stored Message.
package model

import (
	"context"
	"encoding/json"
	"errors"
)

// ConversationRole is the role for a message sent to or received from a
// model.
type ConversationRole string

const (
	RoleSystem    ConversationRole = "system"
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
	RoleTool      ConversationRole = "tool"
)

type (
	// Part is a marker interface implemented by every message content part.
	Part interface {
		isPart()
	}

	// TextPart is a plain text content block.
	TextPart struct {
		Text string
	}

	// ThinkingPart carries provider-issued reasoning content. Callers treat
	// Signature as opaque and forward it unchanged on subsequent turns when
	// the provider requires it to validate the reasoning block.
	ThinkingPart struct {
		Text      string
		Signature string
	}

	// FileRefPart references an image or file attached to a message without
	// embedding its bytes inline.
	FileRefPart struct {
		URI      string
		MimeType string
	}

	// ToolUsePart declares a tool invocation requested by the assistant.
	ToolUsePart struct {
		ID    string
		Name  string
		Input json.RawMessage
	}

	// ToolResultPart carries the result of a tool invocation back to the
	// model, correlated to the originating ToolUsePart by ID.
	ToolResultPart struct {
		ToolUseID string
		Content   string
		IsError   bool
	}

	// Message is a single turn in a conversation.
	Message struct {
		Role  ConversationRole
		Parts []Part
	}

	// ToolDefinition describes a tool exposed to the model, derived from a
	// registered tool spec's name, description, and JSON Schema.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema json.RawMessage
	}

	// ToolChoiceMode controls how a request constrains tool use.
	ToolChoiceMode string

	// ToolChoice optionally constrains tool-use behavior for a Request. A
	// nil ToolChoice lets the provider decide.
	ToolChoice struct {
		Mode ToolChoiceMode
		Name string
	}

	// TokenUsage tracks token counts for a single model call.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
	}

	// Request captures the inputs for one model invocation.
	Request struct {
		Model       string
		Messages    []Message
		System      string
		Tools       []ToolDefinition
		ToolChoice  *ToolChoice
		Temperature float32
		MaxTokens   int
	}

	// Response is the result of a non-streaming invocation.
	Response struct {
		Message    Message
		ToolCalls  []ToolUsePart
		Usage      TokenUsage
		StopReason string
	}

	// Chunk is a single streaming event from the model.
	Chunk struct {
		Type          string
		Text          string
		Thinking      string
		ToolCall      *ToolUsePart
		ToolCallDelta *ToolCallDelta
		UsageDelta    *TokenUsage
		StopReason    string
	}

	// ToolCallDelta is an incremental, best-effort fragment of a tool call's
	// input JSON while the provider is still constructing it. The canonical
	// payload is always the ToolUsePart carried by the terminal
	// ChunkTypeToolCall chunk; deltas exist only for progressive previews.
	ToolCallDelta struct {
		ID    string
		Name  string
		Delta string
	}

	// Client is the provider-agnostic model client every adapter implements.
	Client interface {
		Complete(ctx context.Context, req *Request) (*Response, error)
		Stream(ctx context.Context, req *Request) (Streamer, error)
	}

	// Streamer delivers incremental model output. Callers drain Recv until
	// it returns io.EOF or another terminal error, then call Close.
	Streamer interface {
		Recv() (Chunk, error)
		Close() error
	}
)

const (
	ToolChoiceAuto ToolChoiceMode = "auto"
	ToolChoiceNone ToolChoiceMode = "none"
	ToolChoiceAny  ToolChoiceMode = "any"
	ToolChoiceTool ToolChoiceMode = "tool"
)

const (
	ChunkTypeText          = "text"
	ChunkTypeThinking      = "thinking"
	ChunkTypeToolCall      = "tool_call"
	ChunkTypeToolCallDelta = "tool_call_delta"
	ChunkTypeUsage         = "usage"
	ChunkTypeStop          = "stop"
)

// ErrStreamingUnsupported indicates the provider does not support streaming
// for the requested model.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting. Adapters return it on the first rejection; they do not retry.
var ErrRateLimited = errors.New("model: rate limited")

func (TextPart) isPart()       {}
func (ThinkingPart) isPart()   {}
func (FileRefPart) isPart()    {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}
