package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/mockmate/internal/models"
	"github.com/yoockh/mockmate/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type SessionRepository interface {
	Create(ctx context.Context, s *models.Session) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error)
	ListByUser(ctx context.Context, userID string, limit int64) ([]models.Session, error)
	SetQuestions(ctx context.Context, sessionID string, questions []string) error
	SetStatus(ctx context.Context, sessionID, status string) error
	Start(ctx context.Context, sessionID string, startedAt time.Time) error
	End(ctx context.Context, sessionID, status string, endedAt time.Time, durationSeconds int64) error
}

type sessionRepo struct {
	col *mongo.Collection
}

func NewSessionRepo(db *mongo.Database) SessionRepository {
	return &sessionRepo{col: db.Collection("sessions")}
}

func (r *sessionRepo) Create(ctx context.Context, s *models.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.Questions == nil {
		s.Questions = []string{}
	}
	_, err := r.col.InsertOne(ctx, s)
	return err
}

func (r *sessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error) {
	var s models.Session
	err := r.col.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepo) ListByUser(ctx context.Context, userID string, limit int64) ([]models.Session, error) {
	if limit <= 0 {
		limit = 20
	}

	cur, err := r.col.Find(ctx,
		bson.M{"user_id": userID},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Session
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sessionRepo) SetQuestions(ctx context.Context, sessionID string, questions []string) error {
	if questions == nil {
		questions = []string{}
	}
	return r.update(ctx, sessionID, bson.M{"questions": questions})
}

func (r *sessionRepo) SetStatus(ctx context.Context, sessionID, status string) error {
	return r.update(ctx, sessionID, bson.M{"status": status})
}

func (r *sessionRepo) Start(ctx context.Context, sessionID string, startedAt time.Time) error {
	return r.update(ctx, sessionID, bson.M{
		"status":     models.SessionStatusActive,
		"started_at": startedAt.UTC(),
	})
}

func (r *sessionRepo) End(ctx context.Context, sessionID, status string, endedAt time.Time, durationSeconds int64) error {
	return r.update(ctx, sessionID, bson.M{
		"status":           status,
		"ended_at":         endedAt.UTC(),
		"duration_seconds": durationSeconds,
	})
}

func (r *sessionRepo) update(ctx context.Context, sessionID string, set bson.M) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"session_id": sessionID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return utils.ErrNotFound
	}
	return nil
}
