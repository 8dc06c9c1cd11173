package events

import (
	"context"
	"time"
)

// Event is the JSON envelope pushed to websocket clients.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Data      any       `json:"data,omitempty"`
	At        time.Time `json:"at"`
}

const (
	TypeState        = "state"
	TypeEmotion      = "emotion"
	TypeTranscript   = "transcript"
	TypeAnswerFailed = "answer_failed"
)

// StatusChannel is the pub/sub channel carrying a session's live events.
func StatusChannel(sessionID string) string {
	return "interview:" + sessionID + ":status"
}

type Broker interface {
	Publish(ctx context.Context, channel string, ev Event) error
	// Subscribe delivers raw JSON payloads until ctx ends or the returned close func runs.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}
