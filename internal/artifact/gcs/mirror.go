// Package gcs mirrors validated artifacts into a Google Cloud Storage
// bucket. The local filesystem remains the source of truth; the mirror is
// archival and best-effort.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Mirror uploads artifacts to a configured GCS bucket.
type Mirror struct {
	client *storage.Client
	cfg    Config
}

// New creates a GCS-backed mirror.
func New(client *storage.Client, cfg Config) (*Mirror, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Mirror{client: client, cfg: cfg}, nil
}

// Upload writes data to the bucket under the optional prefix.
func (m *Mirror) Upload(ctx context.Context, relPath string, data []byte) error {
	if strings.TrimSpace(relPath) == "" {
		return fmt.Errorf("artifact path is required")
	}
	object := relPath
	if prefix := strings.Trim(m.cfg.Prefix, "/"); prefix != "" {
		object = prefix + "/" + relPath
	}

	writer := m.client.Bucket(m.cfg.Bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("upload artifact: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("upload artifact: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
