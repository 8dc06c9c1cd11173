package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// InterviewResult is the finished interview as stored for later review.
type InterviewResult struct {
	ID        string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SessionID string `gorm:"column:session_id;type:uuid;uniqueIndex" json:"session_id"`
	UserID    string `gorm:"column:user_id;type:text;index" json:"user_id"`
	Role      string `gorm:"column:role;type:text" json:"role"`

	Questions pq.StringArray `gorm:"column:questions;type:text[]" json:"questions"`
	Pairs     datatypes.JSON `gorm:"column:pairs;type:jsonb" json:"pairs"`

	Summary string  `gorm:"column:summary;type:text" json:"summary"`
	Score   float64 `gorm:"column:score;type:double precision" json:"score"`

	RecordingURL    string         `gorm:"column:recording_url;type:text" json:"recording_url"`
	RecordingObject string         `gorm:"column:recording_object;type:text" json:"-"`
	Emotion         datatypes.JSON `gorm:"column:emotion;type:jsonb" json:"emotion"`
	Feedback        string         `gorm:"column:feedback;type:text" json:"feedback"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;index" json:"created_at"`
}

func (InterviewResult) TableName() string { return "interview_results" }
