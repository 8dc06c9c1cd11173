package stt

import (
	"context"
	"errors"
)

type Provider interface {
	Transcribe(ctx context.Context, audio []byte, language string) (text string, confidence float64, err error)
	Close() error
}

// ErrNoSpeech is returned when the audio held no recognizable speech.
var ErrNoSpeech = errors.New("stt: no speech recognized")
