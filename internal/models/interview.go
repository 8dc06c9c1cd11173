package models

// QAPair is one question paired with the candidate's submitted answer.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Evaluation is the language-model verdict over a full transcript.
type Evaluation struct {
	Summary string  `json:"summary"`
	Score   float64 `json:"score"` // 0..100
}

// Recording is a read-only reference to a finalized interview recording.
type Recording struct {
	URL        string `json:"url"`
	ObjectName string `json:"object_name"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
	Chunks     int    `json:"chunks"`
}

// Credentials identify the caller on whose behalf a session runs.
type Credentials struct {
	UserID string
	Token  string
}
