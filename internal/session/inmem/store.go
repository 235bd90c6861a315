// Package inmem provides an in-memory implementation of session.Store, for
// tests and local development. Production deployments use a durable
// implementation (internal/session/mongo).
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mgx-platform/agentcore/internal/session"
)

// Store is an in-memory implementation of session.Store, safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
	runs     map[string]session.Run
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]session.Session),
		runs:     make(map[string]session.Run),
	}
}

// CreateSession implements session.Store. The session is created on first
// request per §3 and is never destroyed within scope, so a duplicate
// CreateSession call is idempotent rather than an error.
func (s *Store) CreateSession(_ context.Context, in *session.Session) error {
	if in.ID == "" {
		return errors.New("session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[in.ID]; ok {
		return nil
	}
	now := time.Now().UTC()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.UpdatedAt = now
	s.sessions[in.ID] = *in
	return nil
}

// GetSession implements session.Store.
func (s *Store) GetSession(_ context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return &out, nil
}

// ListSessions implements session.Store.
func (s *Store) ListSessions(_ context.Context, creatorID string) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*session.Session
	for _, sess := range s.sessions {
		sess := sess
		if creatorID == "" || sess.CreatorID == creatorID {
			out = append(out, &sess)
		}
	}
	return out, nil
}

// SetRunning implements session.Store. Mutated only by the Task
// Orchestrator's transitions per §3.
func (s *Store) SetRunning(_ context.Context, id string, running bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return session.ErrSessionNotFound
	}
	sess.IsRunning = running
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[id] = sess
	return nil
}

// UpsertRun implements session.Store. StartedAt is immutable once set.
func (s *Store) UpsertRun(_ context.Context, r *session.Run) error {
	if r.ID == "" {
		return errors.New("run id is required")
	}
	if r.SessionID == "" {
		return errors.New("session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.runs[r.ID]; ok && !existing.StartedAt.IsZero() {
		if r.StartedAt.IsZero() {
			r.StartedAt = existing.StartedAt
		} else if !r.StartedAt.Equal(existing.StartedAt) {
			return errors.New("started_at is immutable")
		}
		// StopRequested is sticky: once RequestStop sets it, a routine
		// status upsert from the run itself must not clear it.
		r.StopRequested = r.StopRequested || existing.StopRequested
	} else if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	r.UpdatedAt = now
	s.runs[r.ID] = *r
	return nil
}

// RequestStop implements session.Store.
func (s *Store) RequestStop(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok {
		return session.ErrRunNotFound
	}
	r.StopRequested = true
	r.UpdatedAt = time.Now().UTC()
	s.runs[runID] = r
	return nil
}

// GetRun implements session.Store.
func (s *Store) GetRun(_ context.Context, id string) (*session.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out, ok := s.runs[id]
	if !ok {
		return nil, session.ErrRunNotFound
	}
	return &out, nil
}

// ListRunsBySession implements session.Store.
func (s *Store) ListRunsBySession(_ context.Context, sessionID string) ([]*session.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*session.Run
	for _, r := range s.runs {
		r := r
		if r.SessionID == sessionID {
			out = append(out, &r)
		}
	}
	return out, nil
}
