package ssegateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgx-platform/agentcore/internal/broker"
	"github.com/mgx-platform/agentcore/internal/session"
	sessioninmem "github.com/mgx-platform/agentcore/internal/session/inmem"
	"github.com/mgx-platform/agentcore/internal/store"
	storeinmem "github.com/mgx-platform/agentcore/internal/store/inmem"
)

type fakeEnqueuer struct {
	tasks []broker.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, task broker.Task) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.tasks = append(f.tasks, task)
	return "1-0", nil
}

type testGateway struct {
	*Gateway
	sessions *sessioninmem.Store
	events   *storeinmem.Store
	enqueuer *fakeEnqueuer
	handler  http.Handler
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	sessions := sessioninmem.New()
	events := storeinmem.New()
	enq := &fakeEnqueuer{}
	gw := New(sessions, events, events, enq, Config{
		PollInterval:  2 * time.Millisecond,
		IdleTimeout:   50 * time.Millisecond,
		WorkspaceRoot: "/srv/workspaces",
	}, nil, nil)
	return &testGateway{Gateway: gw, sessions: sessions, events: events, enqueuer: enq, handler: gw.Routes()}
}

func (tg *testGateway) createSession(t *testing.T, id, creator string) *session.Session {
	t.Helper()
	sess := &session.Session{
		ID:          id,
		DisplayName: "app",
		Framework:   session.FrameworkNextJS,
		WorkspaceID: "ws-" + id,
		CreatorID:   creator,
	}
	require.NoError(t, tg.sessions.CreateSession(context.Background(), sess))
	return sess
}

// peerRequest builds a request authenticated as the session's own agent
// container (X-API-Key == session id).
func peerRequest(method, target, sid, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("X-API-Key", sid)
	return req
}

type sseFrame struct {
	Event string
	ID    string
	Data  map[string]any
}

func parseFrames(t *testing.T, body string) []sseFrame {
	t.Helper()
	var out []sseFrame
	for _, raw := range strings.Split(body, "\n\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		var f sseFrame
		for _, line := range strings.Split(raw, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				f.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "id: "):
				f.ID = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f.Data))
			}
		}
		out = append(out, f)
	}
	return out
}

func appendEvent(t *testing.T, s *storeinmem.Store, id, sid string, ts float64, typ store.EventType) {
	t.Helper()
	_, err := s.AppendEvent(context.Background(), &store.Event{ID: id, SessionID: sid, Timestamp: ts, Type: typ})
	require.NoError(t, err)
}

func TestGenerateAppendsUserMessageAndEnqueuesTask(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t)
	sess := tg.createSession(t, "s1", "alice")

	rec := httptest.NewRecorder()
	req := peerRequest(http.MethodPost, "/sessions/s1/generate", "s1", `{"prompt":"build me a todo app"}`)
	tg.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	msgs, err := tg.events.ListMessages(context.Background(), "s1", 0, store.Ascending)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, "build me a todo app", msgs[0].Content)

	require.Len(t, tg.enqueuer.tasks, 1)
	task := tg.enqueuer.tasks[0]
	assert.Equal(t, "s1", task.SessionID)
	assert.Equal(t, sess.WorkspaceID, task.WorkspaceID)
	assert.Equal(t, session.FrameworkNextJS, task.Framework)
	assert.Equal(t, "/srv/workspaces/"+sess.WorkspaceID, task.WorkspaceHostPath)
	assert.NotEmpty(t, task.RunID)

	// The enqueued run must be visible so a later stop request can find it.
	run, err := tg.sessions.GetRun(context.Background(), task.RunID)
	require.NoError(t, err)
	assert.Equal(t, session.RunPending, run.Status)
}

func TestGenerateRequiresPrompt(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t)
	tg.createSession(t, "s1", "alice")

	rec := httptest.NewRecorder()
	req := peerRequest(http.MethodPost, "/sessions/s1/generate", "s1", `{}`)
	tg.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, tg.enqueuer.tasks)
}

func TestStreamContinueResumesFromWatermark(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t)
	tg.createSession(t, "s1", "alice")
	appendEvent(t, tg.events, "e1", "s1", 1, store.EventAgentStart)
	appendEvent(t, tg.events, "e2", "s1", 2, store.EventNodeStart)
	appendEvent(t, tg.events, "e3", "s1", 3, store.EventNodeEnd)
	appendEvent(t, tg.events, "e4", "s1", 4, store.EventFinish)

	rec := httptest.NewRecorder()
	req := peerRequest(http.MethodGet, "/sessions/s1/stream-continue?since_timestamp=2", "s1", "")
	tg.handler.ServeHTTP(rec, req)

	frames := parseFrames(t, rec.Body.String())
	require.Len(t, frames, 2, "exactly the events with timestamp > 2")
	assert.Equal(t, "node_end", frames[0].Event)
	assert.Equal(t, "e3", frames[0].ID)
	assert.Equal(t, "finish", frames[1].Event)
}

func TestStreamContinueWithoutWatermarkReplaysFromBeginning(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t)
	tg.createSession(t, "s1", "alice")
	appendEvent(t, tg.events, "e1", "s1", 1, store.EventAgentStart)
	appendEvent(t, tg.events, "e2", "s1", 2, store.EventFinish)

	rec := httptest.NewRecorder()
	req := peerRequest(http.MethodGet, "/sessions/s1/stream-continue", "s1", "")
	tg.handler.ServeHTTP(rec, req)

	frames := parseFrames(t, rec.Body.String())
	require.Len(t, frames, 2)
	assert.Equal(t, "agent_start", frames[0].Event)
	assert.Equal(t, "finish", frames[1].Event)
}

func TestStreamClosesAfterFinish(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t)
	tg.createSession(t, "s1", "alice")
	appendEvent(t, tg.events, "e1", "s1", 1, store.EventFinish)
	// Events after a finish must not be streamed on the same connection.
	appendEvent(t, tg.events, "e2", "s1", 2, store.EventCustom)

	rec := httptest.NewRecorder()
	req := peerRequest(http.MethodGet, "/sessions/s1/stream-continue", "s1", "")
	tg.handler.ServeHTTP(rec, req)

	frames := parseFrames(t, rec.Body.String())
	require.Len(t, frames, 1)
	assert.Equal(t, "finish", frames[0].Event)
}

func TestStreamFrameWireFormat(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t)
	tg.createSession(t, "s1", "alice")
	appendEvent(t, tg.events, "e1", "s1", 1, store.EventFinish)

	rec := httptest.NewRecorder()
	req := peerRequest(http.MethodGet, "/sessions/s1/stream-continue", "s1", "")
	tg.handler.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: finish\nid: e1\ndata: {"), "frame must be event, id, data lines in order, got %q", body)
	assert.True(t, strings.HasSuffix(body, "\n\n"), "frame must be terminated by a blank line")
	assert.NotContains(t, body[len("event: finish\nid: e1\ndata: "):], "\ndata:", "data must be single-line JSON")

	frames := parseFrames(t, body)
	require.Len(t, frames, 1)
	assert.Equal(t, "finish", frames[0].Data["event_type"])
	assert.Equal(t, "s1", frames[0].Data["session_id"])
}

func TestStopMarksActiveRun(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t)
	tg.createSession(t, "s1", "alice")
	require.NoError(t, tg.sessions.UpsertRun(context.Background(), &session.Run{
		ID: "r1", SessionID: "s1", Status: session.RunRunning,
	}))

	rec := httptest.NewRecorder()
	req := peerRequest(http.MethodPost, "/sessions/s1/stop", "s1", "")
	tg.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])

	run, err := tg.sessions.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, run.StopRequested)
}

func TestStopWithNoActiveRunStillAcknowledges(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t)
	tg.createSession(t, "s1", "alice")

	rec := httptest.NewRecorder()
	req := peerRequest(http.MethodPost, "/sessions/s1/stop", "s1", "")
	tg.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHistoryReturnsRecentMessagesAscending(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t)
	tg.createSession(t, "s1", "alice")
	for i, content := range []string{"hello", "hi there", "build it"} {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		_, err := tg.events.AppendMessage(context.Background(), &store.Message{
			SessionID: "s1", Role: role, Content: content, Timestamp: float64(i + 1),
		})
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	req := peerRequest(http.MethodGet, "/api/apps/s1/agent/history?limit=2", "s1", "")
	tg.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []*store.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2, "limit selects the most recent messages")
	assert.Equal(t, "hi there", msgs[0].Content, "history is oldest-first")
	assert.Equal(t, "build it", msgs[1].Content)
}

func TestUnknownSessionIs404(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t)

	rec := httptest.NewRecorder()
	req := peerRequest(http.MethodPost, "/sessions/missing/stop", "missing", "")
	tg.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMismatchedAPIKeyIs401(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t)
	tg.createSession(t, "s1", "alice")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sessions/s1/stop", nil)
	req.Header.Set("X-API-Key", "some-other-session")
	tg.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMissingCredentialsIs401(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t)
	tg.createSession(t, "s1", "alice")

	rec := httptest.NewRecorder()
	tg.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/s1/stop", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
