package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultAssemblyAIBaseURL = "https://api.assemblyai.com/v2"

// AssemblyAI uploads audio, creates a transcript job and polls it until it settles.
type AssemblyAI struct {
	baseURL      string
	apiKey       string
	PollInterval time.Duration
	MaxPolls     int
	c            *http.Client
}

func NewAssemblyAI(baseURL, apiKey string) *AssemblyAI {
	if baseURL == "" {
		baseURL = defaultAssemblyAIBaseURL
	}
	return &AssemblyAI{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		PollInterval: 3 * time.Second,
		MaxPolls:     40,
		c:            &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *AssemblyAI) Close() error { return nil }

type uploadResp struct {
	UploadURL string `json:"upload_url"`
}

type transcriptReq struct {
	AudioURL     string `json:"audio_url"`
	LanguageCode string `json:"language_code,omitempty"`
}

type transcriptResp struct {
	ID         string  `json:"id"`
	Status     string  `json:"status"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error"`
}

func (a *AssemblyAI) Transcribe(ctx context.Context, audio []byte, language string) (string, float64, error) {
	var up uploadResp
	if err := a.do(ctx, http.MethodPost, "/upload", "application/octet-stream", bytes.NewReader(audio), &up); err != nil {
		return "", 0, fmt.Errorf("assemblyai upload: %w", err)
	}

	body, _ := json.Marshal(transcriptReq{AudioURL: up.UploadURL, LanguageCode: assemblyLanguage(language)})
	var tr transcriptResp
	if err := a.do(ctx, http.MethodPost, "/transcript", "application/json", bytes.NewReader(body), &tr); err != nil {
		return "", 0, fmt.Errorf("assemblyai transcript: %w", err)
	}

	t := time.NewTicker(a.PollInterval)
	defer t.Stop()
	for polls := 0; ; polls++ {
		switch tr.Status {
		case "completed":
			if strings.TrimSpace(tr.Text) == "" {
				return "", 0, ErrNoSpeech
			}
			return tr.Text, tr.Confidence, nil
		case "error":
			return "", 0, fmt.Errorf("assemblyai transcript %s: %s", tr.ID, tr.Error)
		}
		if polls >= a.MaxPolls {
			return "", 0, fmt.Errorf("assemblyai transcript %s: still %s after %d polls", tr.ID, tr.Status, polls)
		}

		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		case <-t.C:
		}
		if err := a.do(ctx, http.MethodGet, "/transcript/"+tr.ID, "", nil, &tr); err != nil {
			return "", 0, fmt.Errorf("assemblyai poll: %w", err)
		}
	}
}

func (a *AssemblyAI) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", a.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := a.c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, string(raw))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// assemblyLanguage maps "en-US" style tags to AssemblyAI codes ("en_us").
func assemblyLanguage(tag string) string {
	if tag == "" {
		return ""
	}
	return strings.ToLower(strings.ReplaceAll(tag, "-", "_"))
}
