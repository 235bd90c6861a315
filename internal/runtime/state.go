package runtime

import "github.com/mgx-platform/agentcore/internal/store"

// TeamState is the shared blackboard passed between graph nodes for the
// duration of one run, per §3's Team State. It is discarded on finish.
type TeamState struct {
	Messages     []*store.Message
	Stage        string
	Framework    string
	WorkspaceID  string
	Slots        map[string]string
	Iteration    int
	LastDecision string
}

// AppendMessage records m on the running transcript.
func (s *TeamState) AppendMessage(m *store.Message) {
	s.Messages = append(s.Messages, m)
}
