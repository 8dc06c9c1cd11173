package media

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrDeviceDenied        = errors.New("media: camera/microphone permission denied")
	ErrDeviceUnavailable   = errors.New("media: camera/microphone unavailable")
	ErrNoSupportedEncoding = errors.New("media: no supported recording encoding")
	ErrNotAcquired         = errors.New("media: device not acquired")
	ErrNoFrame             = errors.New("media: no frame available")
	ErrStreamClosed        = errors.New("media: stream closed")
)

// DefaultEncodings lists recording encodings in descending preference.
var DefaultEncodings = []string{
	"video/webm;codecs=vp9",
	"video/webm;codecs=vp8",
	"video/webm",
	"video/mp4",
}

// Device is a camera+microphone source.
type Device interface {
	// Open requests access to the device. A refused prompt yields ErrDeviceDenied.
	Open(ctx context.Context) (Stream, error)
}

// Stream is an acquired device stream. It is owned by a single Capture.
type Stream interface {
	SupportsEncoding(mimeType string) bool

	// Record starts the recorder. Encoded chunks arrive on the returned channel in
	// order; the channel is closed after the final chunk following StopRecording.
	Record(mimeType string) (<-chan []byte, error)
	StopRecording() error

	// Frame returns the current visual frame as a JPEG image.
	Frame(ctx context.Context) ([]byte, error)

	// Close stops every track of the stream.
	Close() error
}

type RecorderState string

const (
	RecorderInactive  RecorderState = "inactive"
	RecorderRecording RecorderState = "recording"
	RecorderStopped   RecorderState = "stopped"
)

// containerType strips codec parameters: "video/webm;codecs=vp9" -> "video/webm".
func containerType(mimeType string) string {
	if i := strings.Index(mimeType, ";"); i >= 0 {
		return strings.TrimSpace(mimeType[:i])
	}
	return strings.TrimSpace(mimeType)
}

func extensionFor(mimeType string) string {
	switch containerType(mimeType) {
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	default:
		return ".bin"
	}
}
