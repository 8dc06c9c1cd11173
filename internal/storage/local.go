package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalUploader writes objects under a directory served at baseURL. Used for
// development when no bucket is configured.
type LocalUploader struct {
	dir     string
	baseURL string
}

func NewLocalUploader(dir, baseURL string) (*LocalUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &LocalUploader{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (u *LocalUploader) Dir() string { return u.dir }

func (u *LocalUploader) Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (string, error) {
	clean := filepath.Clean("/" + objectName)
	path := filepath.Join(u.dir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return u.baseURL + filepath.ToSlash(clean), nil
}
