package tts

import (
	"context"
	"io"
)

type Provider interface {
	// Synthesize returns encoded speech audio. The caller closes the reader.
	Synthesize(ctx context.Context, text string) (audio io.ReadCloser, contentType string, err error)
}
