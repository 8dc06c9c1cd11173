package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EmotionSnapshot is one inference result for a single captured frame.
// Field names on the wire follow the inference service (snake_case).
type EmotionSnapshot struct {
	CandidatePresent bool               `bson:"candidate_present" json:"candidate_present"`
	EmotionScores    map[string]float64 `bson:"emotion_scores" json:"emotion_scores"`
	StressLevel      float64            `bson:"stress_level" json:"stress_level"`
	IsConfused       bool               `bson:"is_confused" json:"is_confused"`
	IsConfident      bool               `bson:"is_confident" json:"is_confident"`
	FocusScore       float64            `bson:"focus_score" json:"focus_score"`

	CapturedAt time.Time `bson:"captured_at" json:"captured_at,omitempty"`
}

// AbsentSnapshot is the defined result when no sample ever saw the candidate.
func AbsentSnapshot() EmotionSnapshot {
	return EmotionSnapshot{
		CandidatePresent: false,
		EmotionScores:    map[string]float64{},
	}
}

// SnapshotRecord stores a snapshot against its session, expiring via TTL index.
type SnapshotRecord struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID string             `bson:"session_id" json:"session_id"`
	Seq       int64              `bson:"seq" json:"seq"`

	Snapshot EmotionSnapshot `bson:"snapshot" json:"snapshot"`

	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"` // for TTL index
}
