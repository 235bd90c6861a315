package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mgx-platform/agentcore/internal/model"
	"github.com/mgx-platform/agentcore/internal/tools"
)

type scriptedClient struct {
	responses []*model.Response
	calls     int
}

func (c *scriptedClient) Complete(context.Context, *model.Request) (*model.Response, error) {
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func (c *scriptedClient) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func newRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.New()
	require.NoError(t, r.Register(&tools.Spec{
		Name:  "write_file",
		Group: tools.GroupWorkspace,
		Handler: func(context.Context, json.RawMessage) (tools.Result, error) {
			return tools.Result{Output: "ok"}, nil
		},
	}))
	require.NoError(t, r.Register(tools.NewWorkflowDecisionSpec([]string{"continue", "end"})))
	return r
}

func TestInvokeReturnsFinalMessageWithNoToolCalls(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{responses: []*model.Response{
		{Message: model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: "done"}}}},
	}}
	a := &Agent{Name: "boss", Client: client, Tools: newRegistry(t), ToolGroups: []tools.Group{tools.GroupWorkflow}}

	result, err := a.Invoke(context.Background(), []model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}}}, Hooks{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Iterations)
	require.Empty(t, result.ToolMessages)
}

func TestInvokeResolvesToolCallsThenFinishes(t *testing.T) {
	t.Parallel()

	toolCall := model.ToolUsePart{ID: "t1", Name: "write_file", Input: json.RawMessage(`{"path":"a.txt","content":"x"}`)}
	client := &scriptedClient{responses: []*model.Response{
		{Message: model.Message{Role: model.RoleAssistant, Parts: []model.Part{toolCall}}, ToolCalls: []model.ToolUsePart{toolCall}},
		{Message: model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: "done"}}}},
	}}
	a := &Agent{Name: "engineer", Client: client, Tools: newRegistry(t), ToolGroups: []tools.Group{tools.GroupWorkspace, tools.GroupWorkflow}}

	result, err := a.Invoke(context.Background(), []model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "write a.txt"}}}}, Hooks{})
	require.NoError(t, err)
	require.Equal(t, 2, result.Iterations)
	require.Len(t, result.ToolMessages, 1)
	part, ok := result.ToolMessages[0].Parts[0].(model.ToolResultPart)
	require.True(t, ok)
	require.Equal(t, "t1", part.ToolUseID)
	require.False(t, part.IsError)
}

func TestInvokeReturnsErrorWhenIterationCapReached(t *testing.T) {
	t.Parallel()

	toolCall := model.ToolUsePart{ID: "t1", Name: "write_file", Input: json.RawMessage(`{"path":"a.txt","content":"x"}`)}
	resp := &model.Response{Message: model.Message{Role: model.RoleAssistant, Parts: []model.Part{toolCall}}, ToolCalls: []model.ToolUsePart{toolCall}}
	client := &scriptedClient{responses: []*model.Response{resp, resp, resp}}
	a := &Agent{Name: "engineer", Client: client, Tools: newRegistry(t), ToolGroups: []tools.Group{tools.GroupWorkspace}, MaxIterations: 3}

	_, err := a.Invoke(context.Background(), []model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "loop"}}}}, Hooks{})
	require.ErrorIs(t, err, ErrIterationCapReached)
}

func TestInvokeCapturesWorkflowDecision(t *testing.T) {
	t.Parallel()

	decisionCall := model.ToolUsePart{ID: "d1", Name: "workflow_decision", Input: json.RawMessage(`{"next_action":"continue","rationale":"looks good"}`)}
	client := &scriptedClient{responses: []*model.Response{
		{Message: model.Message{Role: model.RoleAssistant, Parts: []model.Part{decisionCall}}, ToolCalls: []model.ToolUsePart{decisionCall}},
		{Message: model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: "done"}}}},
	}}
	a := &Agent{Name: "qa", Client: client, Tools: newRegistry(t), ToolGroups: []tools.Group{tools.GroupWorkflow}}

	result, err := a.Invoke(context.Background(), []model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "review"}}}}, Hooks{})
	require.NoError(t, err)
	require.NotNil(t, result.Decision)
	require.Equal(t, "continue", result.Decision.NextAction)
}

func TestInvokeFiresLifecycleHooks(t *testing.T) {
	t.Parallel()

	toolCall := model.ToolUsePart{ID: "t1", Name: "write_file", Input: json.RawMessage(`{}`)}
	client := &scriptedClient{responses: []*model.Response{
		{Message: model.Message{Role: model.RoleAssistant, Parts: []model.Part{toolCall}}, ToolCalls: []model.ToolUsePart{toolCall}},
		{Message: model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: "done"}}}},
	}}
	var assistantCount, toolStartCount, toolEndCount int
	a := &Agent{Name: "engineer", Client: client, Tools: newRegistry(t), ToolGroups: []tools.Group{tools.GroupWorkspace}}
	hooks := Hooks{
		OnAssistantMessage: func(model.Message) { assistantCount++ },
		OnToolStart:        func(model.ToolUsePart) { toolStartCount++ },
		OnToolEnd:          func(model.ToolUsePart, model.Message) { toolEndCount++ },
	}

	_, err := a.Invoke(context.Background(), []model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "go"}}}}, hooks)
	require.NoError(t, err)
	require.Equal(t, 2, assistantCount)
	require.Equal(t, 1, toolStartCount)
	require.Equal(t, 1, toolEndCount)
}

func TestNewTeamBuildsSixRoles(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{}
	team := NewTeam(client, newRegistry(t), 10, nil, nil)
	require.Len(t, team.Agents, 6)
	for _, role := range []Role{RoleBoss, RoleProductManager, RoleArchitect, RoleProjectManager, RoleEngineer, RoleQA} {
		require.Contains(t, team.Agents, role)
		require.NotEmpty(t, team.Agents[role].SystemPrompt)
	}
}
