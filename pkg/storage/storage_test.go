package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vidflow/vidflow/pkg/config"
)

func TestThumbnailKey(t *testing.T) {
	videoID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	runID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	require.Equal(t,
		"thumbnails/11111111-1111-1111-1111-111111111111/22222222-2222-2222-2222-222222222222.png",
		ThumbnailKey(videoID, runID),
	)
}

func TestPublicURL(t *testing.T) {
	require.Equal(t, "https://cdn.example.com/media/thumbnails/a.png", publicURL("https://cdn.example.com/", "media", "thumbnails/a.png"))
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Driver: "gcs", Bucket: "b"})
	require.Error(t, err)
}

func TestS3StoreBuildsWithStaticCredentials(t *testing.T) {
	store, err := NewS3Store(context.Background(), config.StorageConfig{
		Driver:    "s3",
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		Bucket:    "vidflow",
		AccessKey: "key",
		SecretKey: "secret",
	})
	require.NoError(t, err)
	require.Equal(t, "https://s3.us-east-1.amazonaws.com/vidflow/k.png", publicURL(store.baseURL, store.bucket, "k.png"))
}
