// Package mongo wires session.Store to the MongoDB client, mirroring
// store/mongo's layering: this file stays a thin delegate, all driver work
// lives in clients/mongo. It is the durable backend the Gateway and worker
// processes must share for cross-process stop requests to be observable.
package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/mgx-platform/agentcore/internal/session/mongo/clients/mongo"
	"github.com/mgx-platform/agentcore/internal/session"
)

// Store implements session.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed session store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// NewStoreFromOptions instantiates the Store by constructing the underlying
// client from connection options.
func NewStoreFromOptions(opts clientsmongo.Options) (*Store, error) {
	client, err := clientsmongo.New(opts)
	if err != nil {
		return nil, err
	}
	return NewStore(client)
}

func (s *Store) CreateSession(ctx context.Context, in *session.Session) error {
	return s.client.CreateSession(ctx, in)
}

func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	return s.client.GetSession(ctx, id)
}

func (s *Store) ListSessions(ctx context.Context, creatorID string) ([]*session.Session, error) {
	return s.client.ListSessions(ctx, creatorID)
}

func (s *Store) SetRunning(ctx context.Context, id string, running bool) error {
	return s.client.SetRunning(ctx, id, running)
}

func (s *Store) UpsertRun(ctx context.Context, r *session.Run) error {
	return s.client.UpsertRun(ctx, r)
}

func (s *Store) GetRun(ctx context.Context, id string) (*session.Run, error) {
	return s.client.GetRun(ctx, id)
}

func (s *Store) ListRunsBySession(ctx context.Context, sessionID string) ([]*session.Run, error) {
	return s.client.ListRunsBySession(ctx, sessionID)
}

func (s *Store) RequestStop(ctx context.Context, runID string) error {
	return s.client.RequestStop(ctx, runID)
}

// Ping checks connectivity to the underlying MongoDB deployment.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}
