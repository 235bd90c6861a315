package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mgx-platform/agentcore/internal/session"
)

// UpsertRun records run metadata, keeping StartedAt immutable once set and
// StopRequested sticky: a routine status upsert from the run itself must
// never clear a pending stop request. $max expresses the stickiness
// atomically, since false sorts below true in BSON comparison order.
func (c *client) UpsertRun(ctx context.Context, r *session.Run) error {
	if r.ID == "" {
		return errors.New("run id is required")
	}
	if r.SessionID == "" {
		return errors.New("session id is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	startedAt := r.StartedAt
	if startedAt.IsZero() {
		startedAt = now
	}
	set := bson.M{
		"session_id": r.SessionID,
		"status":     string(r.Status),
		"updated_at": now,
	}
	if len(r.Labels) > 0 {
		set["labels"] = r.Labels
	}
	if len(r.Metadata) > 0 {
		set["metadata"] = r.Metadata
	}
	_, err := c.runs.UpdateOne(ctx, bson.M{"_id": r.ID}, bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"started_at": startedAt},
		"$max":         bson.M{"stop_requested": r.StopRequested},
	}, options.UpdateOne().SetUpsert(true))
	return err
}

func (c *client) GetRun(ctx context.Context, id string) (*session.Run, error) {
	if id == "" {
		return nil, errors.New("run id is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.runs.Find(ctx, bson.M{"_id": id}, options.Find().SetLimit(1))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return nil, err
		}
		return nil, session.ErrRunNotFound
	}
	var doc runDocument
	if err := cur.Decode(&doc); err != nil {
		return nil, err
	}
	return runFromDoc(&doc), nil
}

func (c *client) ListRunsBySession(ctx context.Context, sessionID string) ([]*session.Run, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.runs.Find(ctx, bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*session.Run
	for cur.Next(ctx) {
		var doc runDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, runFromDoc(&doc))
	}
	return out, cur.Err()
}

func (c *client) RequestStop(ctx context.Context, runID string) error {
	if runID == "" {
		return errors.New("run id is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.runs.UpdateOne(ctx, bson.M{"_id": runID}, bson.M{
		"$set": bson.M{"stop_requested": true, "updated_at": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return session.ErrRunNotFound
	}
	return nil
}

func runFromDoc(doc *runDocument) *session.Run {
	return &session.Run{
		ID:            doc.ID,
		SessionID:     doc.SessionID,
		Status:        session.RunStatus(doc.Status),
		StartedAt:     doc.StartedAt,
		UpdatedAt:     doc.UpdatedAt,
		StopRequested: doc.StopRequested,
		Labels:        doc.Labels,
		Metadata:      doc.Metadata,
	}
}
