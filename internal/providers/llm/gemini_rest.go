package llm

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

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiREST calls the Generative Language generateContent endpoint with an API key.
type GeminiREST struct {
	baseURL string
	apiKey  string
	model   string
	gc      GenerationConfig
	c       *http.Client
}

func NewGeminiREST(baseURL, apiKey, modelName string, gc GenerationConfig) *GeminiREST {
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiREST{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   modelName,
		gc:      gc,
		c:       &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *GeminiREST) Close() error { return nil }

type restPart struct {
	Text string `json:"text"`
}

type restContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []restPart `json:"parts"`
}

type restGenConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int32   `json:"maxOutputTokens,omitempty"`
}

type generateReq struct {
	Contents         []restContent  `json:"contents"`
	GenerationConfig *restGenConfig `json:"generationConfig,omitempty"`
}

type generateResp struct {
	Candidates []struct {
		Content restContent `json:"content"`
	} `json:"candidates"`
}

// StreamAnswer issues one non-streaming call and emits the whole text as a single chunk.
func (g *GeminiREST) StreamAnswer(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	out := make(chan string, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		text, err := g.generate(ctx, prompt)
		if err != nil {
			errs <- err
			return
		}
		if text != "" {
			out <- text
		}
	}()

	return out, errs
}

func (g *GeminiREST) generate(ctx context.Context, prompt string) (string, error) {
	body := generateReq{Contents: []restContent{{Role: "user", Parts: []restPart{{Text: prompt}}}}}
	if g.gc.Temperature > 0 || g.gc.MaxOutputTokens > 0 {
		body.GenerationConfig = &restGenConfig{Temperature: g.gc.Temperature, MaxOutputTokens: g.gc.MaxOutputTokens}
	}
	b, _ := json.Marshal(body)

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, url.PathEscape(g.model), url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.c.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("gemini %s: %s", resp.Status, string(raw))
	}

	var out generateResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gemini decode: %w", err)
	}
	if len(out.Candidates) == 0 {
		return "", ErrEmptyCompletion
	}

	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}
