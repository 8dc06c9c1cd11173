package mongo

import (
	"context"
	"time"

	"github.com/yoockh/mockmate/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SnapshotRepository keeps the per-frame emotion timeline of a session.
type SnapshotRepository interface {
	Insert(ctx context.Context, rec *models.SnapshotRecord) error
	ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.SnapshotRecord, error)
}

type snapshotRepo struct {
	col *mongo.Collection
	ttl time.Duration
}

// NewSnapshotRepo stores records that expire after ttl (default 7 days).
func NewSnapshotRepo(db *mongo.Database, ttl time.Duration) SnapshotRepository {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &snapshotRepo{col: db.Collection("emotion_snapshots"), ttl: ttl}
}

func (r *snapshotRepo) Insert(ctx context.Context, rec *models.SnapshotRecord) error {
	if rec.Snapshot.CapturedAt.IsZero() {
		rec.Snapshot.CapturedAt = time.Now().UTC()
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = rec.Snapshot.CapturedAt.Add(r.ttl)
	}
	_, err := r.col.InsertOne(ctx, rec)
	return err
}

func (r *snapshotRepo) ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.SnapshotRecord, error) {
	if limit <= 0 {
		limit = 3600
	}

	cur, err := r.col.Find(ctx,
		bson.M{"session_id": sessionID},
		options.Find().
			SetSort(bson.D{{Key: "seq", Value: 1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.SnapshotRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
