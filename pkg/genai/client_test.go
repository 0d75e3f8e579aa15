package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vidflow/vidflow/pkg/config"
)

func newTestClient(url string) *Client {
	return NewClient(config.GenAIConfig{
		APIKey:     "test-key",
		BaseURL:    url,
		TextModel:  "text-model",
		ImageModel: "image-model",
	}, withSleeper(func(context.Context, time.Duration) error { return nil }))
}

func writeJSON(t *testing.T, w http.ResponseWriter, payload interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(payload))
}

func TestCompleteReturnsContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "text-model", req.Model)
		require.Len(t, req.Messages, 2)

		writeJSON(t, w, map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": "  A Great Title \n"}}},
		})
	}))
	defer server.Close()

	content, err := newTestClient(server.URL).Complete(context.Background(), "system", "user")
	require.NoError(t, err)
	require.Equal(t, "A Great Title", content)
}

func TestCompleteEmptyContentIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": "   "}}},
		})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), "system", "user")
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestCompleteRetriesRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(t, w, map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": "ok"}}},
		})
	}))
	defer server.Close()

	content, err := newTestClient(server.URL).Complete(context.Background(), "system", "user")
	require.NoError(t, err)
	require.Equal(t, "ok", content)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestCompleteDoesNotRetryClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), "system", "user")
	require.Error(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestGenerateImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/images/generations", r.URL.Path)
		var req imageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "b64_json", req.ResponseFormat)
		require.Equal(t, defaultImageSize, req.Size)

		writeJSON(t, w, map[string]any{
			"data": []any{map[string]any{"b64_json": base64.StdEncoding.EncodeToString(png)}},
		})
	}))
	defer server.Close()

	image, err := newTestClient(server.URL).GenerateImage(context.Background(), "a cat on a keyboard")
	require.NoError(t, err)
	require.Equal(t, png, image)
}

func TestGenerateImageEmptyData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"data": []any{}})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GenerateImage(context.Background(), "prompt")
	require.ErrorIs(t, err, ErrEmptyResponse)
}
