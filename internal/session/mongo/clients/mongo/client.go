// Package mongo implements the low-level MongoDB client backing
// session/mongo. Like store/mongo/clients/mongo, it isolates the driver
// surface behind narrow collection/cursor interfaces so the session store
// logic is testable without a live MongoDB connection.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/mgx-platform/agentcore/internal/session"
)

type (
	// Client exposes Mongo-backed operations for Session and Run records,
	// implementing the persistence half of session.Store.
	Client interface {
		Ping(ctx context.Context) error

		CreateSession(ctx context.Context, s *session.Session) error
		GetSession(ctx context.Context, id string) (*session.Session, error)
		ListSessions(ctx context.Context, creatorID string) ([]*session.Session, error)
		SetRunning(ctx context.Context, id string, running bool) error

		UpsertRun(ctx context.Context, r *session.Run) error
		GetRun(ctx context.Context, id string) (*session.Run, error)
		ListRunsBySession(ctx context.Context, sessionID string) ([]*session.Run, error)
		RequestStop(ctx context.Context, runID string) error
	}

	// Options configures the Mongo session client.
	Options struct {
		Client             *mongodriver.Client
		Database           string
		SessionsCollection string
		RunsCollection     string
		Timeout            time.Duration
	}

	client struct {
		mongo    *mongodriver.Client
		sessions collection
		runs     collection
		timeout  time.Duration
	}

	sessionDocument struct {
		ID          string    `bson:"_id"`
		DisplayName string    `bson:"display_name,omitempty"`
		Framework   string    `bson:"framework,omitempty"`
		WorkspaceID string    `bson:"workspace_id,omitempty"`
		CreatorID   string    `bson:"creator_id,omitempty"`
		CreatedAt   time.Time `bson:"created_at"`
		UpdatedAt   time.Time `bson:"updated_at"`
		IsRunning   bool      `bson:"is_running"`
	}

	runDocument struct {
		ID            string            `bson:"_id"`
		SessionID     string            `bson:"session_id"`
		Status        string            `bson:"status"`
		StartedAt     time.Time         `bson:"started_at"`
		UpdatedAt     time.Time         `bson:"updated_at"`
		StopRequested bool              `bson:"stop_requested"`
		Labels        map[string]string `bson:"labels,omitempty"`
		Metadata      map[string]any    `bson:"metadata,omitempty"`
	}
)

const (
	defaultSessionsCollection = "agent_sessions"
	defaultRunsCollection     = "agent_runs"
	defaultTimeout            = 5 * time.Second
)

// New returns a Client backed by the provided MongoDB client, ensuring the
// secondary indexes used by ListSessions and ListRunsBySession exist.
// Sessions and runs use their own ids as the Mongo _id, so id uniqueness
// comes from the primary index.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	sessColl := opts.SessionsCollection
	if sessColl == "" {
		sessColl = defaultSessionsCollection
	}
	runColl := opts.RunsCollection
	if runColl == "" {
		runColl = defaultRunsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(opts.Database)
	sessionsWrapper := mongoCollection{coll: db.Collection(sessColl)}
	runsWrapper := mongoCollection{coll: db.Collection(runColl)}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureSessionIndexes(ctx, sessionsWrapper); err != nil {
		return nil, err
	}
	if err := ensureRunIndexes(ctx, runsWrapper); err != nil {
		return nil, err
	}

	return &client{
		mongo:    opts.Client,
		sessions: sessionsWrapper,
		runs:     runsWrapper,
		timeout:  timeout,
	}, nil
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

// CreateSession is idempotent: a session is created on first request and
// never destroyed within scope, so a duplicate call must not modify the
// existing record. A pure $setOnInsert upsert makes that atomic under
// retries and races.
func (c *client) CreateSession(ctx context.Context, s *session.Session) error {
	if s.ID == "" {
		return errors.New("session id is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := c.sessions.UpdateOne(ctx, bson.M{"_id": s.ID}, bson.M{
		"$setOnInsert": bson.M{
			"display_name": s.DisplayName,
			"framework":    string(s.Framework),
			"workspace_id": s.WorkspaceID,
			"creator_id":   s.CreatorID,
			"created_at":   createdAt,
			"updated_at":   now,
			"is_running":   false,
		},
	}, options.UpdateOne().SetUpsert(true))
	return err
}

func (c *client) GetSession(ctx context.Context, id string) (*session.Session, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.sessions.Find(ctx, bson.M{"_id": id}, options.Find().SetLimit(1))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return nil, err
		}
		return nil, session.ErrSessionNotFound
	}
	var doc sessionDocument
	if err := cur.Decode(&doc); err != nil {
		return nil, err
	}
	return sessionFromDoc(&doc), nil
}

func (c *client) ListSessions(ctx context.Context, creatorID string) ([]*session.Session, error) {
	filter := bson.M{}
	if creatorID != "" {
		filter["creator_id"] = creatorID
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.sessions.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*session.Session
	for cur.Next(ctx) {
		var doc sessionDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, sessionFromDoc(&doc))
	}
	return out, cur.Err()
}

func (c *client) SetRunning(ctx context.Context, id string, running bool) error {
	if id == "" {
		return errors.New("session id is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.sessions.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"is_running": running, "updated_at": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func sessionFromDoc(doc *sessionDocument) *session.Session {
	return &session.Session{
		ID:          doc.ID,
		DisplayName: doc.DisplayName,
		Framework:   session.Framework(doc.Framework),
		WorkspaceID: doc.WorkspaceID,
		CreatorID:   doc.CreatorID,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
		IsRunning:   doc.IsRunning,
	}
}

func ensureSessionIndexes(ctx context.Context, coll collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "creator_id", Value: 1}}},
	})
	return err
}

func ensureRunIndexes(ctx context.Context, coll collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
	})
	return err
}

type collection interface {
	UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	Indexes() indexView
}

type indexView interface {
	CreateMany(ctx context.Context, models []mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) ([]string, error)
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cur: cur}, nil
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoCursor struct {
	cur *mongodriver.Cursor
}

func (c mongoCursor) Next(ctx context.Context) bool   { return c.cur.Next(ctx) }
func (c mongoCursor) Decode(val any) error            { return c.cur.Decode(val) }
func (c mongoCursor) Err() error                      { return c.cur.Err() }
func (c mongoCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateMany(ctx context.Context, models []mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) ([]string, error) {
	return v.view.CreateMany(ctx, models, opts...)
}
