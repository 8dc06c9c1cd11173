package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	SessionStatusReady      = "ready"
	SessionStatusActive     = "active"
	SessionStatusFinalizing = "finalizing"
	SessionStatusEnded      = "ended"
	SessionStatusCancelled  = "cancelled"
)

// Session is the persisted record of one interview attempt.
type Session struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID string             `bson:"session_id" json:"session_id"` // uuid v4
	UserID    string             `bson:"user_id" json:"user_id"`       // "id" claim of the credential token

	Role      string   `bson:"role" json:"role"` // job description the questions were generated for
	Questions []string `bson:"questions" json:"questions"`
	Status    string   `bson:"status" json:"status"` // ready|active|finalizing|ended|cancelled

	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	StartedAt *time.Time `bson:"started_at,omitempty" json:"started_at,omitempty"`
	EndedAt   *time.Time `bson:"ended_at,omitempty" json:"ended_at,omitempty"`

	DurationSeconds int64 `bson:"duration_seconds" json:"duration_seconds"`
}
