package storage

import (
	"context"
	"io"
	"time"
)

// Uploader persists an object and returns the path clients use to fetch it.
type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

// Signer issues time-limited read URLs for private objects.
type Signer interface {
	SignedGetURL(ctx context.Context, objectName string, ttl time.Duration) (string, error)
}
