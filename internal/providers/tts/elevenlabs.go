package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultElevenLabsBaseURL = "https://api.elevenlabs.io"

type ElevenLabs struct {
	baseURL string
	apiKey  string
	voiceID string
	modelID string
	c       *http.Client
}

func NewElevenLabs(baseURL, apiKey, voiceID, modelID string) *ElevenLabs {
	if baseURL == "" {
		baseURL = defaultElevenLabsBaseURL
	}
	if modelID == "" {
		modelID = "eleven_multilingual_v2"
	}
	return &ElevenLabs{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		voiceID: voiceID,
		modelID: modelID,
		c:       &http.Client{Timeout: 60 * time.Second},
	}
}

type synthReq struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (io.ReadCloser, string, error) {
	b, _ := json.Marshal(synthReq{Text: text, ModelID: e.modelID})
	endpoint := e.baseURL + "/v1/text-to-speech/" + url.PathEscape(e.voiceID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.c.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("tts %s: %s", resp.Status, string(raw))
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	return resp.Body, ct, nil
}
