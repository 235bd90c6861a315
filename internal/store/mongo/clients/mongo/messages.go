package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mgx-platform/agentcore/internal/store"
)

func (c *client) AppendMessage(ctx context.Context, m *store.Message) (string, error) {
	if m.SessionID == "" {
		return "", errors.New("session id is required")
	}
	if m.Role == "" {
		return "", errors.New("role is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := messageDocument{
		SessionID:    m.SessionID,
		ParentID:     m.ParentID,
		Role:         string(m.Role),
		AgentName:    m.AgentName,
		Content:      m.Content,
		ContentParts: m.ContentParts,
		ToolCallID:   m.ToolCallID,
		ToolCalls:    m.ToolCalls,
		TraceID:      m.TraceID,
		Timestamp:    m.Timestamp,
		Metadata:     m.Metadata,
	}
	if c.messageTTL > 0 {
		doc.ExpiresAt = time.Now().Add(c.messageTTL)
	}
	res, err := c.messages.InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}
	oid, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	m.ID = oid.Hex()
	return m.ID, nil
}

func (c *client) ListMessages(ctx context.Context, sessionID string, limit int, order store.Order) ([]*store.Message, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	sortDir := 1
	if order == store.Descending {
		sortDir = -1
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	findOpts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: sortDir}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cur, err := c.messages.Find(ctx, bson.M{"session_id": sessionID}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*store.Message
	for cur.Next(ctx) {
		var doc messageDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, messageFromDoc(&doc))
	}
	return out, cur.Err()
}

func (c *client) LastMessage(ctx context.Context, sessionID string) (*store.Message, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.messages.Find(ctx, bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(1))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		return nil, cur.Err()
	}
	var doc messageDocument
	if err := cur.Decode(&doc); err != nil {
		return nil, err
	}
	return messageFromDoc(&doc), nil
}

func messageFromDoc(doc *messageDocument) *store.Message {
	return &store.Message{
		ID:           doc.ID.Hex(),
		SessionID:    doc.SessionID,
		ParentID:     doc.ParentID,
		Role:         store.Role(doc.Role),
		AgentName:    doc.AgentName,
		Content:      doc.Content,
		ContentParts: doc.ContentParts,
		ToolCallID:   doc.ToolCallID,
		ToolCalls:    doc.ToolCalls,
		TraceID:      doc.TraceID,
		Timestamp:    doc.Timestamp,
		Metadata:     doc.Metadata,
	}
}
