package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sink persists a generated artifact and returns a URL it can be fetched from.
type Sink interface {
	Save(ctx context.Context, userID int64, data []byte, contentType string) (string, error)
}

// LocalSink writes artifacts under a directory that the HTTP API serves at /files.
type LocalSink struct {
	dir     string
	baseURL string
	prefix  string
	now     func() time.Time
}

func NewLocalSink(dir, baseURL, prefix string) (*LocalSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("files directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create files directory: %w", err)
	}
	if prefix == "" {
		prefix = "img"
	}
	return &LocalSink{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		prefix:  prefix,
		now:     time.Now,
	}, nil
}

func (s *LocalSink) Dir() string {
	return s.dir
}

func (s *LocalSink) Save(_ context.Context, userID int64, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no data to save")
	}
	name := fmt.Sprintf("%s_%d_%d_%s%s", s.prefix, userID, s.now().UnixMilli(), uuid.NewString()[:8], extensionFromContentType(contentType))
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return s.baseURL + "/files/" + name, nil
}

func extensionFromContentType(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
