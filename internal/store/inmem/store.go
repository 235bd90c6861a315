// Package inmem implements store.EventStore and store.MessageStore with an
// ordered slice plus an id index, guarded by a single RWMutex and returning
// deep copies on read so callers cannot mutate internal state. The pattern
// is grounded on the teacher's session/inmem.Store (clone-on-read,
// idempotent create/append, RWMutex-guarded maps).
package inmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mgx-platform/agentcore/internal/apperr"
	"github.com/mgx-platform/agentcore/internal/store"
)

// Store is an in-memory EventStore + MessageStore for one process. Safe for
// concurrent use; additionally exposes All for direct test iteration.
type Store struct {
	mu sync.RWMutex

	events   []*store.Event
	eventIDs map[string]bool

	messages   []*store.Message
	messageIDs map[string]bool
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		eventIDs:   make(map[string]bool),
		messageIDs: make(map[string]bool),
	}
}

// AppendEvent implements store.EventStore. Idempotent on duplicate id.
func (s *Store) AppendEvent(_ context.Context, e *store.Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if s.eventIDs[e.ID] {
		return e.ID, nil
	}
	s.eventIDs[e.ID] = true
	s.events = append(s.events, cloneEvent(e))
	return e.ID, nil
}

// EventsSince implements store.EventStore.
func (s *Store) EventsSince(_ context.Context, sessionID string, since *float64, limit int) ([]*store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.Event
	for _, e := range s.events {
		if e.SessionID != sessionID {
			continue
		}
		if since != nil && e.Timestamp <= *since {
			continue
		}
		out = append(out, cloneEvent(e))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// FinishEvent implements store.EventStore.
func (s *Store) FinishEvent(_ context.Context, sessionID string) (*store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.events {
		if e.SessionID == sessionID && e.Type == store.EventFinish {
			return cloneEvent(e), nil
		}
	}
	return nil, nil
}

// AppendMessage implements store.MessageStore. Enforces that a role=tool
// message's ToolCallID references a prior assistant tool_call in the same
// session, per §4.1's implementer-choice invariant — this implementation
// chooses to enforce it.
func (s *Store) AppendMessage(_ context.Context, m *store.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if s.messageIDs[m.ID] {
		return m.ID, nil
	}
	if m.Role == store.RoleTool && m.ToolCallID != "" {
		if !s.hasToolCallLocked(m.SessionID, m.ToolCallID) {
			return "", apperr.InvariantErr("append_message",
				fmt.Errorf("tool_call_id %q has no prior assistant tool_call in session %q", m.ToolCallID, m.SessionID))
		}
	}
	s.messageIDs[m.ID] = true
	s.messages = append(s.messages, cloneMessage(m))
	return m.ID, nil
}

func (s *Store) hasToolCallLocked(sessionID, toolCallID string) bool {
	for _, m := range s.messages {
		if m.SessionID != sessionID || m.Role != store.RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			if tc.ID == toolCallID {
				return true
			}
		}
	}
	return false
}

// ListMessages implements store.MessageStore.
func (s *Store) ListMessages(_ context.Context, sessionID string, limit int, order store.Order) ([]*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.Message
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			out = append(out, cloneMessage(m))
		}
	}
	if order == store.Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LastMessage implements store.MessageStore.
func (s *Store) LastMessage(_ context.Context, sessionID string) (*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *store.Message
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			last = m
		}
	}
	if last == nil {
		return nil, nil
	}
	return cloneMessage(last), nil
}

// All returns every event currently stored, for direct test inspection.
func (s *Store) All() []*store.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*store.Event, len(s.events))
	for i, e := range s.events {
		out[i] = cloneEvent(e)
	}
	return out
}

func cloneEvent(e *store.Event) *store.Event {
	c := *e
	if e.Namespace != nil {
		c.Namespace = append([]string(nil), e.Namespace...)
	}
	if e.Data != nil {
		c.Data = cloneMap(e.Data)
	}
	if e.Metadata != nil {
		c.Metadata = cloneMap(e.Metadata)
	}
	return &c
}

func cloneMessage(m *store.Message) *store.Message {
	c := *m
	if m.ContentParts != nil {
		c.ContentParts = append([]store.ContentPart(nil), m.ContentParts...)
	}
	if m.ToolCalls != nil {
		c.ToolCalls = append([]store.ToolCall(nil), m.ToolCalls...)
	}
	if m.Metadata != nil {
		c.Metadata = cloneMap(m.Metadata)
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
