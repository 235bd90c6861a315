// Package compression implements the Context Compression Middleware (C5):
// a before_model hook that summarizes the oldest portion of a transcript
// once it crosses a trigger threshold, keeping the most recent messages
// verbatim.
package compression

import (
	"context"
	"fmt"

	"github.com/mgx-platform/agentcore/internal/model"
	"github.com/mgx-platform/agentcore/internal/telemetry"
)

// Options configures the compression middleware.
type Options struct {
	// TriggerTokens is the estimated token count above which compression
	// runs. Zero disables the token trigger.
	TriggerTokens int
	// TriggerMessages is the message count above which compression runs.
	// Zero disables the message-count trigger.
	TriggerMessages int
	// RetainMessages is the number of most recent messages kept verbatim
	// after the cut point (subject to the tool_call/tool_result boundary
	// adjustment below).
	RetainMessages int
	// Summarizer performs the summarization call. When nil, Middleware
	// returns an error from New.
	Summarizer model.Client
	// SummaryPrompt is prepended as the system prompt for the summarization
	// call. When empty, a default digest prompt is used.
	SummaryPrompt string
	Log           telemetry.Logger
}

const defaultSummaryPrompt = `Summarize the following conversation prefix into a concise digest
that preserves every decision, requirement, and fact a continuing
conversation would need. Write plain prose, no preamble.`

// Middleware implements agent.Middleware, compressing req.Messages in place
// before the model call whenever the trigger threshold is crossed.
type Middleware struct {
	opts Options
}

// New constructs a compression Middleware. Returns an error if opts.Summarizer
// is nil, since the algorithm has no pass-through summarization path by
// design — callers that don't want compression simply omit this middleware
// from the chain instead of configuring one that never triggers.
func New(opts Options) (*Middleware, error) {
	if opts.Summarizer == nil {
		return nil, fmt.Errorf("compression: summarizer model client is required")
	}
	if opts.RetainMessages <= 0 {
		opts.RetainMessages = 6
	}
	if opts.SummaryPrompt == "" {
		opts.SummaryPrompt = defaultSummaryPrompt
	}
	if opts.Log == nil {
		opts.Log = telemetry.NoopLogger{}
	}
	return &Middleware{opts: opts}, nil
}

// BeforeModel implements agent.Middleware.
func (m *Middleware) BeforeModel(ctx context.Context, req *model.Request) error {
	if !m.triggered(req.Messages) {
		return nil
	}
	cut := m.cutIndex(req.Messages)
	if cut <= 0 {
		return nil
	}
	prefix, suffix := req.Messages[:cut], req.Messages[cut:]

	digest, err := m.summarize(ctx, prefix)
	if err != nil {
		m.opts.Log.Warn(ctx, "context compression: summarization failed, passing through", "error", err.Error())
		return nil
	}

	compacted := make([]model.Message, 0, len(suffix)+1)
	compacted = append(compacted, model.Message{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: digest}}})
	compacted = append(compacted, suffix...)
	req.Messages = compacted
	return nil
}

func (m *Middleware) triggered(messages []model.Message) bool {
	if m.opts.TriggerMessages > 0 && len(messages) > m.opts.TriggerMessages {
		return true
	}
	if m.opts.TriggerTokens > 0 && estimateTokens(messages) > m.opts.TriggerTokens {
		return true
	}
	return false
}

// cutIndex finds the youngest index that keeps opts.RetainMessages intact as
// a suffix, then backs the cut up (decreasing it) until it does not fall
// between an assistant's tool_calls and a tool-role message carrying one of
// their results.
func (m *Middleware) cutIndex(messages []model.Message) int {
	cut := len(messages) - m.opts.RetainMessages
	if cut <= 0 {
		return 0
	}
	for cut > 0 && splitsToolExchange(messages, cut) {
		cut--
	}
	return cut
}

// splitsToolExchange reports whether cutting messages at index cut would
// separate a role=tool message (at or after cut) from the assistant message
// that declared its originating tool_call (before cut).
func splitsToolExchange(messages []model.Message, cut int) bool {
	if cut <= 0 || cut >= len(messages) {
		return false
	}
	pendingIDs := map[string]bool{}
	for i := 0; i < cut; i++ {
		for _, p := range messages[i].Parts {
			if tu, ok := p.(model.ToolUsePart); ok {
				pendingIDs[tu.ID] = true
			}
		}
	}
	if len(pendingIDs) == 0 {
		return false
	}
	for i := cut; i < len(messages); i++ {
		for _, p := range messages[i].Parts {
			if tr, ok := p.(model.ToolResultPart); ok && pendingIDs[tr.ToolUseID] {
				return true
			}
		}
	}
	return false
}

func (m *Middleware) summarize(ctx context.Context, prefix []model.Message) (string, error) {
	resp, err := m.opts.Summarizer.Complete(ctx, &model.Request{
		System:   m.opts.SummaryPrompt,
		Messages: prefix,
	})
	if err != nil {
		return "", err
	}
	var text string
	for _, p := range resp.Message.Parts {
		if v, ok := p.(model.TextPart); ok {
			text += v.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("compression: summarizer returned no text")
	}
	return text, nil
}

// estimateTokens counts the characters of text and tool-result parts and
// divides by three, the same ratio the model middleware rate limiter uses
// (without the limiter's system-prompt count and fixed buffer): no
// tokenizer dependency in the corpus serves this exact purpose, so this
// stays an approximation.
func estimateTokens(messages []model.Message) int {
	chars := 0
	for _, m := range messages {
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				chars += len(v.Text)
			case model.ToolResultPart:
				chars += len(v.Content)
			}
		}
	}
	return chars / 3
}
