//go:build gcp

package archive

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"

	"github.com/wardenlabs/warden/pkg/clock"
)

// GCSArchiver writes exports to a Google Cloud Storage bucket. Credentials
// come from Application Default Credentials.
type GCSArchiver struct {
	client *storage.Client
	clk    clock.Clock
	bucket string
	prefix string
}

// GCSConfig holds archiver configuration.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSArchiver builds an archiver against GCS.
func NewGCSArchiver(ctx context.Context, cfg GCSConfig) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSArchiver{
		client: client,
		clk:    clock.Wall(),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Archive uploads the export and returns its key.
func (a *GCSArchiver) Archive(ctx context.Context, exportJSON []byte, anchor string) (string, error) {
	key := objectKey(a.prefix, anchor, a.now())
	w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(exportJSON); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close %s: %w", key, err)
	}
	return key, nil
}

func (a *GCSArchiver) now() time.Time {
	if a.clk != nil {
		return a.clk.Now()
	}
	return time.Now()
}
