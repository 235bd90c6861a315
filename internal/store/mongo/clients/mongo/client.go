// Package mongo implements the low-level MongoDB client backing
// store/mongo. It isolates the driver surface behind narrow collection/
// cursor/index-view interfaces so the store logic above it is testable
// without a live MongoDB connection, following the teacher's
// features/runlog/mongo/clients/mongo layering.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/mgx-platform/agentcore/internal/store"
)

type (
	// Client exposes Mongo-backed operations for both the event log and the
	// message log, implementing store.EventStore and store.MessageStore.
	Client interface {
		Ping(ctx context.Context) error

		AppendEvent(ctx context.Context, e *store.Event) (string, error)
		EventsSince(ctx context.Context, sessionID string, since *float64, limit int) ([]*store.Event, error)
		FinishEvent(ctx context.Context, sessionID string) (*store.Event, error)

		AppendMessage(ctx context.Context, m *store.Message) (string, error)
		ListMessages(ctx context.Context, sessionID string, limit int, order store.Order) ([]*store.Message, error)
		LastMessage(ctx context.Context, sessionID string) (*store.Message, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client              *mongodriver.Client
		Database            string
		EventCollection     string
		MessageCollection   string
		Timeout             time.Duration
		EventTTL            time.Duration // default 7 days, per §4.1
		MessageTTL          time.Duration // zero means no expiry
	}

	client struct {
		mongo      *mongodriver.Client
		events     collection
		messages   collection
		timeout    time.Duration
		eventTTL   time.Duration
		messageTTL time.Duration
	}

	eventDocument struct {
		ID        bson.ObjectID  `bson:"_id,omitempty"`
		SessionID string         `bson:"session_id"`
		Timestamp float64        `bson:"timestamp"`
		Type      string         `bson:"type"`
		AgentName string         `bson:"agent_name,omitempty"`
		Namespace []string       `bson:"namespace,omitempty"`
		Data      map[string]any `bson:"data,omitempty"`
		MessageID string         `bson:"message_id,omitempty"`
		TraceID   string         `bson:"trace_id,omitempty"`
		Metadata  map[string]any `bson:"metadata,omitempty"`
		ExpiresAt time.Time      `bson:"expires_at,omitempty"`
	}

	messageDocument struct {
		ID           bson.ObjectID        `bson:"_id,omitempty"`
		SessionID    string               `bson:"session_id"`
		ParentID     string               `bson:"parent_id,omitempty"`
		Role         string               `bson:"role"`
		AgentName    string               `bson:"agent_name,omitempty"`
		Content      string               `bson:"content,omitempty"`
		ContentParts []store.ContentPart  `bson:"content_parts,omitempty"`
		ToolCallID   string               `bson:"tool_call_id,omitempty"`
		ToolCalls    []store.ToolCall     `bson:"tool_calls,omitempty"`
		TraceID      string               `bson:"trace_id,omitempty"`
		Timestamp    float64              `bson:"timestamp"`
		Metadata     map[string]any       `bson:"metadata,omitempty"`
		ExpiresAt    time.Time            `bson:"expires_at,omitempty"`
	}
)

const (
	defaultEventCollection   = "agent_events"
	defaultMessageCollection = "agent_messages"
	defaultTimeout           = 5 * time.Second
	defaultEventTTL          = 7 * 24 * time.Hour
)

// New returns a Client backed by the provided MongoDB client, ensuring the
// indexes required by §4.1 exist: compound (session_id, timestamp), unique
// id, (session_id, event_type) for finish_event lookup, and independent TTL
// indexes on expires_at for events and messages.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	eventColl := opts.EventCollection
	if eventColl == "" {
		eventColl = defaultEventCollection
	}
	msgColl := opts.MessageCollection
	if msgColl == "" {
		msgColl = defaultMessageCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	eventTTL := opts.EventTTL
	if eventTTL <= 0 {
		eventTTL = defaultEventTTL
	}

	db := opts.Client.Database(opts.Database)
	eventsWrapper := mongoCollection{coll: db.Collection(eventColl)}
	messagesWrapper := mongoCollection{coll: db.Collection(msgColl)}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureEventIndexes(ctx, eventsWrapper); err != nil {
		return nil, err
	}
	if err := ensureMessageIndexes(ctx, messagesWrapper); err != nil {
		return nil, err
	}

	return &client{
		mongo:      opts.Client,
		events:     eventsWrapper,
		messages:   messagesWrapper,
		timeout:    timeout,
		eventTTL:   eventTTL,
		messageTTL: opts.MessageTTL,
	}, nil
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) AppendEvent(ctx context.Context, e *store.Event) (string, error) {
	if e.SessionID == "" {
		return "", errors.New("session id is required")
	}
	if e.Type == "" {
		return "", errors.New("event type is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := eventDocument{
		SessionID: e.SessionID,
		Timestamp: e.Timestamp,
		Type:      string(e.Type),
		AgentName: e.AgentName,
		Namespace: e.Namespace,
		Data:      e.Data,
		MessageID: e.MessageID,
		TraceID:   e.TraceID,
		Metadata:  e.Metadata,
	}
	if c.eventTTL > 0 {
		doc.ExpiresAt = time.Now().Add(c.eventTTL)
	}
	res, err := c.events.InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}
	oid, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	e.ID = oid.Hex()
	return e.ID, nil
}

func (c *client) EventsSince(ctx context.Context, sessionID string, since *float64, limit int) ([]*store.Event, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	filter := bson.M{"session_id": sessionID}
	if since != nil {
		filter["timestamp"] = bson.M{"$gt": *since}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	findOpts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cur, err := c.events.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*store.Event
	for cur.Next(ctx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, eventFromDoc(&doc))
	}
	return out, cur.Err()
}

func (c *client) FinishEvent(ctx context.Context, sessionID string) (*store.Event, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.events.Find(ctx, bson.M{"session_id": sessionID, "type": string(store.EventFinish)},
		options.Find().SetLimit(1))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		return nil, cur.Err()
	}
	var doc eventDocument
	if err := cur.Decode(&doc); err != nil {
		return nil, err
	}
	return eventFromDoc(&doc), nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func eventFromDoc(doc *eventDocument) *store.Event {
	return &store.Event{
		ID:        doc.ID.Hex(),
		SessionID: doc.SessionID,
		Timestamp: doc.Timestamp,
		Type:      store.EventType(doc.Type),
		AgentName: doc.AgentName,
		Namespace: doc.Namespace,
		Data:      doc.Data,
		MessageID: doc.MessageID,
		TraceID:   doc.TraceID,
		Metadata:  doc.Metadata,
	}
}

func ensureEventIndexes(ctx context.Context, coll collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "type", Value: 1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	})
	return err
}

func ensureMessageIndexes(ctx context.Context, coll collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	})
	return err
}

type collection interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error)
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

func (c mongoCollection) InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document, opts...)
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

func (c mongoCursor) Next(ctx context.Context) bool     { return c.cur.Next(ctx) }
func (c mongoCursor) Decode(val any) error              { return c.cur.Decode(val) }
func (c mongoCursor) Err() error                        { return c.cur.Err() }
func (c mongoCursor) Close(ctx context.Context) error   { return c.cur.Close(ctx) }

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateMany(ctx context.Context, models []mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) ([]string, error) {
	return v.view.CreateMany(ctx, models, opts...)
}
