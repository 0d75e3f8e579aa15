package mux

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vidflow/vidflow/pkg/config"
)

func TestVerifyAcceptsValidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"type":"video.asset.ready"}`)

	verifier := NewVerifier("secret", 5*time.Minute)
	verifier.now = func() time.Time { return now }

	require.NoError(t, verifier.Verify(Sign("secret", now.Add(-time.Minute), body), body))
}

func TestVerifyRejects(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"type":"video.asset.ready"}`)

	verifier := NewVerifier("secret", 5*time.Minute)
	verifier.now = func() time.Time { return now }

	cases := map[string]string{
		"wrong secret":  Sign("other", now, body),
		"stale":         Sign("secret", now.Add(-10*time.Minute), body),
		"empty":         "",
		"no signature":  "t=1700000000",
		"bad timestamp": "t=abc,v1=00",
		"not hex":       "t=1700000000,v1=zz",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, verifier.Verify(header, body), ErrInvalidSignature)
		})
	}

	tampered := []byte(`{"type":"video.asset.errored"}`)
	require.ErrorIs(t, verifier.Verify(Sign("secret", now, body), tampered), ErrInvalidSignature)
}

func TestParseEvent(t *testing.T) {
	body := []byte(`{
		"type": "video.asset.ready",
		"id": "evt-1",
		"data": {
			"id": "asset-1",
			"upload_id": "up-1",
			"status": "ready",
			"duration": 12.5,
			"playback_ids": [{"id": "signed-1", "policy": "signed"}, {"id": "pb-1", "policy": "public"}]
		}
	}`)

	event, err := ParseEvent(body)
	require.NoError(t, err)
	require.Equal(t, EventAssetReady, event.Type)
	require.Equal(t, "up-1", event.Data.UploadID)
	require.Equal(t, "pb-1", event.Data.PlaybackID())
	require.InDelta(t, 12.5, event.Data.Duration, 0.001)

	_, err = ParseEvent([]byte(`{"data":{}}`))
	require.ErrorIs(t, err, ErrMalformedEvent)

	_, err = ParseEvent([]byte(`not json`))
	require.ErrorIs(t, err, ErrMalformedEvent)
}

func TestPredictableURLs(t *testing.T) {
	client := NewClient(config.MuxConfig{
		ImageBaseURL:  "https://image.mux.com/",
		StreamBaseURL: "https://stream.mux.com",
	})
	require.Equal(t, "https://image.mux.com/pb/thumbnail.jpg", client.ThumbnailURL("pb"))
	require.Equal(t, "https://image.mux.com/pb/animated.gif", client.PreviewURL("pb"))
	require.Equal(t, "https://stream.mux.com/pb/text/tr.txt", client.TranscriptURL("pb", "tr"))
}

func TestFetchTranscript(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pb/text/tr.txt":
			_, _ = w.Write([]byte("hello world\n"))
		case "/pb/text/empty.txt":
			_, _ = w.Write([]byte("  \n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(config.MuxConfig{StreamBaseURL: server.URL})

	transcript, err := client.FetchTranscript(context.Background(), "pb", "tr")
	require.NoError(t, err)
	require.Equal(t, "hello world", transcript)

	_, err = client.FetchTranscript(context.Background(), "pb", "empty")
	require.ErrorIs(t, err, ErrEmptyTranscript)

	_, err = client.FetchTranscript(context.Background(), "pb", "missing")
	require.Error(t, err)
}

func TestCreateUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/video/v1/uploads", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "id", user)
		require.Equal(t, "secret", pass)

		var req createUploadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []string{"public"}, req.NewAssetSettings.PlaybackPolicy)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"up-1","url":"https://storage.example/put","status":"waiting"}}`))
	}))
	defer server.Close()

	client := NewClient(config.MuxConfig{TokenID: "id", TokenSecret: "secret", APIBaseURL: server.URL, CORSOrigin: "*"})
	upload, err := client.CreateUpload(context.Background())
	require.NoError(t, err)
	require.Equal(t, "up-1", upload.ID)
	require.Equal(t, "waiting", upload.Status)
}
