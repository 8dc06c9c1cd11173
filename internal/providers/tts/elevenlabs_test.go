package tts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeStreamsAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice-1", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("xi-api-key"))

		var req synthReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Tell me about yourself.", req.Text)
		assert.Equal(t, "eleven_multilingual_v2", req.ModelID)

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3mp3"))
	}))
	defer srv.Close()

	audio, ct, err := NewElevenLabs(srv.URL, "secret", "voice-1", "").Synthesize(context.Background(), "Tell me about yourself.")
	require.NoError(t, err)
	defer audio.Close()

	b, _ := io.ReadAll(audio)
	assert.Equal(t, "ID3mp3", string(b))
	assert.Equal(t, "audio/mpeg", ct)
}

func TestSynthesizeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, _, err := NewElevenLabs(srv.URL, "k", "v", "").Synthesize(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}
