// Package mongo wires store.EventStore and store.MessageStore to the
// MongoDB client, mirroring the teacher's features/run/mongo +
// features/runlog/mongo layering: this file stays a thin delegate, all
// driver work lives in clients/mongo.
package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/mgx-platform/agentcore/internal/store/mongo/clients/mongo"
	"github.com/mgx-platform/agentcore/internal/store"
)

// Store implements store.EventStore and store.MessageStore by delegating to
// the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed store using the provided client.
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

func (s *Store) AppendEvent(ctx context.Context, e *store.Event) (string, error) {
	return s.client.AppendEvent(ctx, e)
}

func (s *Store) EventsSince(ctx context.Context, sessionID string, since *float64, limit int) ([]*store.Event, error) {
	return s.client.EventsSince(ctx, sessionID, since, limit)
}

func (s *Store) FinishEvent(ctx context.Context, sessionID string) (*store.Event, error) {
	return s.client.FinishEvent(ctx, sessionID)
}

func (s *Store) AppendMessage(ctx context.Context, m *store.Message) (string, error) {
	return s.client.AppendMessage(ctx, m)
}

func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int, order store.Order) ([]*store.Message, error) {
	return s.client.ListMessages(ctx, sessionID, limit, order)
}

func (s *Store) LastMessage(ctx context.Context, sessionID string) (*store.Message, error) {
	return s.client.LastMessage(ctx, sessionID)
}

// Ping checks connectivity to the underlying MongoDB deployment.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}
