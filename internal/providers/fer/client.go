package fer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/yoockh/mockmate/internal/models"
)

// Client talks to the facial emotion recognition service.
type Client struct {
	baseURL string
	token   string
	c       *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		c:       &http.Client{Timeout: timeout},
	}
}

// WithToken returns a client that sends token as its bearer credential.
func (h *Client) WithToken(token string) *Client {
	cp := *h
	cp.token = token
	return &cp
}

type analyzeResp struct {
	CandidatePresent bool               `json:"candidate_present"`
	EmotionScores    map[string]float64 `json:"emotion_scores"`
	StressLevel      float64            `json:"stress_level"`
	IsConfused       bool               `json:"is_confused"`
	IsConfident      bool               `json:"is_confident"`
	FocusScore       float64            `json:"focus_score"`
}

// Analyze uploads one JPEG frame to POST /analyze-emotion/.
func (h *Client) Analyze(ctx context.Context, frame []byte) (*models.EmotionSnapshot, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("video", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err = fw.Write(frame); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/analyze-emotion/", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("analyze-emotion %s: %s", resp.Status, string(body))
	}

	var out analyzeResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("analyze-emotion decode: %w", err)
	}

	if !out.CandidatePresent {
		snap := models.AbsentSnapshot()
		snap.CapturedAt = time.Now().UTC()
		return &snap, nil
	}
	if out.EmotionScores == nil {
		out.EmotionScores = map[string]float64{}
	}
	return &models.EmotionSnapshot{
		CandidatePresent: true,
		EmotionScores:    out.EmotionScores,
		StressLevel:      out.StressLevel,
		IsConfused:       out.IsConfused,
		IsConfident:      out.IsConfident,
		FocusScore:       out.FocusScore,
		CapturedAt:       time.Now().UTC(),
	}, nil
}
