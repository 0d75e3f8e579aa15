// Package storage puts generated thumbnails into an object store.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vidflow/vidflow/pkg/config"
)

type Object struct {
	Key string
	URL string
}

type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (Object, error)
	Delete(ctx context.Context, key string) error
}

func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "minio":
		return NewMinioStore(ctx, cfg)
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func ThumbnailKey(videoID, runID uuid.UUID) string {
	return fmt.Sprintf("thumbnails/%s/%s.png", videoID, runID)
}

func publicURL(base, bucket, key string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), bucket, key)
}
