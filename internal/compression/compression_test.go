package compression

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mgx-platform/agentcore/internal/model"
)

type fakeSummarizer struct {
	digest string
	err    error
}

func (f *fakeSummarizer) Complete(context.Context, *model.Request) (*model.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.Response{Message: model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: f.digest}}}}, nil
}

func (f *fakeSummarizer) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func textMsg(role model.ConversationRole, text string) model.Message {
	return model.Message{Role: role, Parts: []model.Part{model.TextPart{Text: text}}}
}

func TestBeforeModelPassesThroughBelowTrigger(t *testing.T) {
	t.Parallel()

	mw, err := New(Options{TriggerMessages: 100, Summarizer: &fakeSummarizer{digest: "x"}})
	require.NoError(t, err)

	req := &model.Request{Messages: []model.Message{textMsg(model.RoleUser, "hi")}}
	require.NoError(t, mw.BeforeModel(context.Background(), req))
	require.Len(t, req.Messages, 1)
}

func TestBeforeModelCompressesAboveTrigger(t *testing.T) {
	t.Parallel()

	mw, err := New(Options{TriggerMessages: 3, RetainMessages: 2, Summarizer: &fakeSummarizer{digest: "digest"}})
	require.NoError(t, err)

	req := &model.Request{Messages: []model.Message{
		textMsg(model.RoleUser, "one"),
		textMsg(model.RoleAssistant, "two"),
		textMsg(model.RoleUser, "three"),
		textMsg(model.RoleAssistant, "four"),
	}}
	require.NoError(t, mw.BeforeModel(context.Background(), req))
	require.Len(t, req.Messages, 3)
	digestPart, ok := req.Messages[0].Parts[0].(model.TextPart)
	require.True(t, ok)
	require.Equal(t, "digest", digestPart.Text)
}

func TestBeforeModelFallsBackOnSummarizationFailure(t *testing.T) {
	t.Parallel()

	mw, err := New(Options{TriggerMessages: 2, RetainMessages: 1, Summarizer: &fakeSummarizer{err: errors.New("boom")}})
	require.NoError(t, err)

	original := []model.Message{textMsg(model.RoleUser, "one"), textMsg(model.RoleAssistant, "two"), textMsg(model.RoleUser, "three")}
	req := &model.Request{Messages: append([]model.Message{}, original...)}
	require.NoError(t, mw.BeforeModel(context.Background(), req))
	require.Equal(t, original, req.Messages)
}

func TestCutIndexDoesNotSplitToolExchange(t *testing.T) {
	t.Parallel()

	mw, err := New(Options{RetainMessages: 1, Summarizer: &fakeSummarizer{}})
	require.NoError(t, err)

	messages := []model.Message{
		textMsg(model.RoleUser, "do it"),
		{Role: model.RoleAssistant, Parts: []model.Part{model.ToolUsePart{ID: "t1", Name: "write_file"}}},
		{Role: model.RoleTool, Parts: []model.Part{model.ToolResultPart{ToolUseID: "t1", Content: "ok"}}},
	}
	cut := mw.cutIndex(messages)
	require.Equal(t, 1, cut)
}

func TestNewRequiresSummarizer(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	require.Error(t, err)
}
