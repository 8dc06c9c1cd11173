package postgres

import (
	"context"
	"errors"

	"github.com/yoockh/mockmate/internal/models"
	"github.com/yoockh/mockmate/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ResultRepo interface {
	// Save inserts the result, replacing an earlier row for the same session.
	Save(ctx context.Context, r *models.InterviewResult) error
	GetBySessionID(ctx context.Context, userID, sessionID string) (*models.InterviewResult, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.InterviewResult, error)
}

type resultRepo struct {
	db *gorm.DB
}

func NewResultRepo(db *gorm.DB) ResultRepo {
	return &resultRepo{db: db}
}

func (r *resultRepo) Save(ctx context.Context, row *models.InterviewResult) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"summary", "score", "pairs", "recording_url", "recording_object", "emotion", "feedback"}),
		}).
		Create(row).Error
}

func (r *resultRepo) GetBySessionID(ctx context.Context, userID, sessionID string) (*models.InterviewResult, error) {
	var row models.InterviewResult
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *resultRepo) ListByUser(ctx context.Context, userID string, limit int) ([]models.InterviewResult, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.InterviewResult
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
