package runtime

import (
	"encoding/json"

	"github.com/mgx-platform/agentcore/internal/model"
	"github.com/mgx-platform/agentcore/internal/store"
)

// toModelMessages converts a stored message history into the provider-
// agnostic shape an Agent's invoke loop consumes.
func toModelMessages(messages []*store.Message) []model.Message {
	out := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, toModelMessage(m))
	}
	return out
}

func toModelMessage(m *store.Message) model.Message {
	role := model.ConversationRole(m.Role)
	if len(m.ContentParts) == 0 {
		parts := []model.Part{}
		if m.Content != "" {
			parts = append(parts, model.TextPart{Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			parts = append(parts, model.ToolUsePart{ID: tc.ID, Name: tc.Name, Input: json.RawMessage(tc.Args)})
		}
		if m.ToolCallID != "" {
			parts = append(parts, model.ToolResultPart{ToolUseID: m.ToolCallID, Content: m.Content})
		}
		return model.Message{Role: role, Parts: parts}
	}
	parts := make([]model.Part, 0, len(m.ContentParts))
	for _, cp := range m.ContentParts {
		switch cp.Type {
		case "text":
			parts = append(parts, model.TextPart{Text: cp.Text})
		case "tool_call":
			if cp.ToolCall != nil {
				parts = append(parts, model.ToolUsePart{ID: cp.ToolCall.ID, Name: cp.ToolCall.Name, Input: json.RawMessage(cp.ToolCall.Args)})
			}
		case "tool_result":
			parts = append(parts, model.ToolResultPart{ToolUseID: m.ToolCallID, Content: cp.Text})
		case "file", "image":
			parts = append(parts, model.FileRefPart{URI: cp.FileRef})
		}
	}
	return model.Message{Role: role, Parts: parts}
}

// toStoreMessage flattens an assistant/tool/user model.Message produced by
// an invoke loop into the durable, content_parts-bearing shape persisted by
// the Event & Message Store.
func toStoreMessage(sessionID, agentName string, msg model.Message, traceID string) *store.Message {
	sm := &store.Message{
		SessionID: sessionID,
		Role:      store.Role(msg.Role),
		AgentName: agentName,
		TraceID:   traceID,
		Timestamp: store.Now(),
	}
	var text string
	for _, p := range msg.Parts {
		switch v := p.(type) {
		case model.TextPart:
			text += v.Text
			sm.ContentParts = append(sm.ContentParts, store.ContentPart{Type: "text", Text: v.Text})
		case model.ThinkingPart:
			sm.ContentParts = append(sm.ContentParts, store.ContentPart{Type: "text", Text: v.Text})
		case model.ToolUsePart:
			tc := store.ToolCall{ID: v.ID, Name: v.Name, Args: string(v.Input)}
			sm.ToolCalls = append(sm.ToolCalls, tc)
			sm.ContentParts = append(sm.ContentParts, store.ContentPart{Type: "tool_call", ToolCall: &tc})
		case model.ToolResultPart:
			sm.ToolCallID = v.ToolUseID
			text += v.Content
			extra := map[string]any{}
			if v.IsError {
				extra["error"] = true
			}
			sm.ContentParts = append(sm.ContentParts, store.ContentPart{Type: "tool_result", Text: v.Content, Extra: extra})
		case model.FileRefPart:
			sm.ContentParts = append(sm.ContentParts, store.ContentPart{Type: "file", FileRef: v.URI})
		}
	}
	sm.Content = text
	return sm
}

// messageCompleteData builds the §4.7 message_complete event payload for a
// persisted message.
func messageCompleteData(messageID string, m *store.Message) map[string]any {
	data := map[string]any{
		"message_id": messageID,
		"role":       string(m.Role),
		"content":    m.Content,
		"agent_name": m.AgentName,
	}
	if len(m.ToolCalls) > 0 {
		data["tool_calls"] = m.ToolCalls
	}
	if m.ToolCallID != "" {
		data["tool_call_id"] = m.ToolCallID
	}
	return data
}
