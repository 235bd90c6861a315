package runtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mgx-platform/agentcore/internal/agent"
	"github.com/mgx-platform/agentcore/internal/graph"
	"github.com/mgx-platform/agentcore/internal/model"
	"github.com/mgx-platform/agentcore/internal/store"
	"github.com/mgx-platform/agentcore/internal/store/inmem"
	"github.com/mgx-platform/agentcore/internal/tools"
)

type fakeClient struct {
	responses []*model.Response
	calls     int
}

func (c *fakeClient) Complete(context.Context, *model.Request) (*model.Response, error) {
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func (c *fakeClient) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func newDecisionRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.New()
	require.NoError(t, r.Register(tools.NewWorkflowDecisionSpec(nil)))
	return r
}

func eventTypes(events []*store.Event) []store.EventType {
	out := make([]store.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestRunWithNoUserTurnEmitsStoppedFinish(t *testing.T) {
	t.Parallel()

	events := inmem.New()
	client := &fakeClient{}
	team := agent.NewTeam(client, newDecisionRegistry(t), 5, nil, nil)

	rt := New(Options{
		SessionID: "s1",
		Team:      team,
		Graph:     graph.NewTeamTable(),
		Events:    events,
		Messages:  events,
	})

	require.NoError(t, rt.Run(context.Background()))

	all := events.All()
	require.Len(t, all, 1)
	require.Equal(t, store.EventFinish, all[0].Type)
	require.Equal(t, string(store.FinishStopped), all[0].Data["status"])
}

func TestRunSingleTurnHappyPathEndsViaWorkflowDecision(t *testing.T) {
	t.Parallel()

	events := inmem.New()
	ctx := context.Background()
	_, err := events.AppendMessage(ctx, &store.Message{SessionID: "s1", Role: store.RoleUser, Content: "hello", Timestamp: store.Now()})
	require.NoError(t, err)

	decisionCall := model.ToolUsePart{ID: "d1", Name: tools.WorkflowDecisionToolName, Input: json.RawMessage(`{"next_action":"end"}`)}
	client := &fakeClient{responses: []*model.Response{
		{Message: model.Message{Role: model.RoleAssistant, Parts: []model.Part{decisionCall}}, ToolCalls: []model.ToolUsePart{decisionCall}},
		{Message: model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: "done"}}}},
	}}
	team := agent.NewTeam(client, newDecisionRegistry(t), 5, nil, nil)

	rt := New(Options{
		SessionID: "s1",
		Team:      team,
		Graph:     graph.NewTeamTable(),
		Events:    events,
		Messages:  events,
	})

	require.NoError(t, rt.Run(ctx))

	types := eventTypes(events.All())
	require.Contains(t, types, store.EventAgentStart)
	require.Contains(t, types, store.EventNodeStart)
	require.Contains(t, types, store.EventNodeEnd)
	require.Contains(t, types, store.EventMessageComplete)
	require.Equal(t, store.EventFinish, types[len(types)-1])

	finishEvent, err := events.FinishEvent(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, finishEvent)
	require.Equal(t, string(store.FinishSuccess), finishEvent.Data["status"])

	msgs, err := events.ListMessages(ctx, "s1", 0, store.Ascending)
	require.NoError(t, err)
	var sawToolMsg bool
	for _, m := range msgs {
		if m.Role == store.RoleTool {
			sawToolMsg = true
		}
	}
	require.True(t, sawToolMsg)
}

func TestRunStopsAtNodeTransitionCap(t *testing.T) {
	t.Parallel()

	events := inmem.New()
	ctx := context.Background()
	_, err := events.AppendMessage(ctx, &store.Message{SessionID: "s1", Role: store.RoleUser, Content: "go", Timestamp: store.Now()})
	require.NoError(t, err)

	decisionCall := model.ToolUsePart{ID: "d1", Name: tools.WorkflowDecisionToolName, Input: json.RawMessage(`{"next_action":"continue_development"}`)}
	resp := &model.Response{Message: model.Message{Role: model.RoleAssistant, Parts: []model.Part{decisionCall}}, ToolCalls: []model.ToolUsePart{decisionCall}}
	finalResp := &model.Response{Message: model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: "x"}}}}
	responses := make([]*model.Response, 0, 200)
	for i := 0; i < 100; i++ {
		responses = append(responses, resp, finalResp)
	}
	client := &fakeClient{responses: responses}
	team := agent.NewTeam(client, newDecisionRegistry(t), 5, nil, nil)
	g := graph.New("engineer")
	g.AddNode("engineer", "engineer")
	g.AddEdge("engineer", "continue_development", "engineer")
	g.AddEdge("engineer", graph.ActionEnd, graph.TerminalNode)

	rt := New(Options{
		SessionID:          "s1",
		Team:               team,
		Graph:              g,
		Events:             events,
		Messages:           events,
		MaxNodeTransitions: 3,
	})

	require.NoError(t, rt.Run(ctx))

	finishEvent, err := events.FinishEvent(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, finishEvent)
	require.Equal(t, string(store.FinishFailed), finishEvent.Data["status"])
	require.Equal(t, "node-transition-cap-exceeded", finishEvent.Data["reason"])
}
