// Package bedrock implements model.Client on top of AWS Bedrock's Converse
// API via github.com/aws/aws-sdk-go-v2/service/bedrockruntime.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithydoc "github.com/aws/smithy-go/document"

	"github.com/mgx-platform/agentcore/internal/model"
)

// ConverseClient captures the subset of the Bedrock runtime client used by
// the adapter, so tests can substitute a fake.
type ConverseClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements model.Client via AWS Bedrock Converse. Streaming is not
// implemented for this adapter; Stream returns model.ErrStreamingUnsupported.
type Client struct {
	rt    ConverseClient
	model string
}

// New builds a Bedrock-backed client for a single foundation-model
// identifier (e.g. "anthropic.claude-3-sonnet-20240229-v1:0").
func New(rt ConverseClient, modelID string) (*Client, error) {
	if rt == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if modelID == "" {
		return nil, errors.New("bedrock: model identifier is required")
	}
	return &Client{rt: rt, model: modelID}, nil
}

func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	input, err := c.prepareInput(req)
	if err != nil {
		return nil, err
	}
	out, err := c.rt.Converse(ctx, input)
	if err != nil {
		if isThrottled(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("bedrock converse: %w", err)
	}
	return translateOutput(out)
}

// Stream reports that streaming is not supported by this adapter; callers
// fall back to Complete. ConverseStream requires a separate event-handling
// path that no component in this repository currently exercises.
func (c *Client) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func (c *Client) prepareInput(req *model.Request) (*bedrockruntime.ConverseInput, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: msgs,
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	cfg := &types.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}
	if req.Temperature > 0 {
		cfg.Temperature = aws.Float32(req.Temperature)
	}
	input.InferenceConfig = cfg
	if len(req.Tools) > 0 {
		toolCfg, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		input.ToolConfig = toolCfg
	}
	return input, nil
}

func encodeMessages(msgs []model.Message) ([]types.Message, error) {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			continue
		}
		var blocks []types.ContentBlock
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &types.ContentBlockMemberText{Value: v.Text})
				}
			case model.ToolUsePart:
				var input any
				if len(v.Input) > 0 {
					if err := json.Unmarshal(v.Input, &input); err != nil {
						return nil, fmt.Errorf("bedrock: decode tool_use input: %w", err)
					}
				}
				blocks = append(blocks, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String(v.ID),
					Name:      aws.String(v.Name),
					Input:     document.NewLazyDocument(input),
				}})
			case model.ToolResultPart:
				status := types.ToolResultStatusSuccess
				if v.IsError {
					status = types.ToolResultStatusError
				}
				blocks = append(blocks, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
					ToolUseId: aws.String(v.ToolUseID),
					Status:    status,
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: v.Content}},
				}})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == model.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: blocks})
	}
	if len(out) == 0 {
		return nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return out, nil
}

func encodeTools(defs []model.ToolDefinition) (*types.ToolConfiguration, error) {
	tools := make([]types.Tool, 0, len(defs))
	for _, def := range defs {
		var schema map[string]any
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("bedrock: tool %q schema: %w", def.Name, err)
			}
		}
		tools = append(tools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(def.Name),
			Description: aws.String(def.Description),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}})
	}
	return &types.ToolConfiguration{Tools: tools}, nil
}

func isThrottled(err error) bool {
	var throttled *types.ThrottlingException
	return errors.As(err, &throttled)
}

func translateOutput(out *bedrockruntime.ConverseOutput) (*model.Response, error) {
	member, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, errors.New("bedrock: response has no message output")
	}
	resp := &model.Response{Message: model.Message{Role: model.RoleAssistant}}
	for _, block := range member.Value.Content {
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			resp.Message.Parts = append(resp.Message.Parts, model.TextPart{Text: v.Value})
		case *types.ContentBlockMemberToolUse:
			input, err := encodeDocument(v.Value.Input)
			if err != nil {
				return nil, err
			}
			part := model.ToolUsePart{ID: aws.ToString(v.Value.ToolUseId), Name: aws.ToString(v.Value.Name), Input: input}
			resp.ToolCalls = append(resp.ToolCalls, part)
			resp.Message.Parts = append(resp.Message.Parts, part)
		}
	}
	if out.Usage != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	resp.StopReason = string(out.StopReason)
	return resp, nil
}

func encodeDocument(doc smithydoc.Unmarshaler) (json.RawMessage, error) {
	if doc == nil {
		return json.RawMessage("{}"), nil
	}
	var v any
	if err := doc.UnmarshalSmithyDocument(&v); err != nil {
		return nil, fmt.Errorf("bedrock: decode tool input document: %w", err)
	}
	return json.Marshal(v)
}
