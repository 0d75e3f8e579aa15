// Package mux wraps the hosting provider: direct uploads, predictable media URLs,
// transcript downloads and webhook verification.
package mux

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vidflow/vidflow/pkg/config"
)

var ErrEmptyTranscript = errors.New("transcript is empty")

type Client struct {
	tokenID       string
	tokenSecret   string
	apiBaseURL    string
	imageBaseURL  string
	streamBaseURL string
	corsOrigin    string
	httpClient    *http.Client
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(cfg config.MuxConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &Client{
		tokenID:       cfg.TokenID,
		tokenSecret:   cfg.TokenSecret,
		apiBaseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		imageBaseURL:  strings.TrimRight(cfg.ImageBaseURL, "/"),
		streamBaseURL: strings.TrimRight(cfg.StreamBaseURL, "/"),
		corsOrigin:    cfg.CORSOrigin,
		httpClient:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (c *Client) ThumbnailURL(playbackID string) string {
	return fmt.Sprintf("%s/%s/thumbnail.jpg", c.imageBaseURL, playbackID)
}

func (c *Client) PreviewURL(playbackID string) string {
	return fmt.Sprintf("%s/%s/animated.gif", c.imageBaseURL, playbackID)
}

func (c *Client) TranscriptURL(playbackID, trackID string) string {
	return fmt.Sprintf("%s/%s/text/%s.txt", c.streamBaseURL, playbackID, trackID)
}

// FetchTranscript downloads the plain-text transcript of a ready text track.
func (c *Client) FetchTranscript(ctx context.Context, playbackID, trackID string) (string, error) {
	if playbackID == "" || trackID == "" {
		return "", errors.New("fetch transcript: playback id and track id required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.TranscriptURL(playbackID, trackID), nil)
	if err != nil {
		return "", fmt.Errorf("fetch transcript: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch transcript: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("fetch transcript: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch transcript: http %d", resp.StatusCode)
	}
	transcript := strings.TrimSpace(string(body))
	if transcript == "" {
		return "", ErrEmptyTranscript
	}
	return transcript, nil
}

type Upload struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

type createUploadRequest struct {
	CORSOrigin       string           `json:"cors_origin"`
	NewAssetSettings newAssetSettings `json:"new_asset_settings"`
}

type newAssetSettings struct {
	PlaybackPolicy []string     `json:"playback_policy"`
	Input          []assetInput `json:"input,omitempty"`
}

type assetInput struct {
	GeneratedSubtitles []generatedSubtitles `json:"generated_subtitles"`
}

type generatedSubtitles struct {
	LanguageCode string `json:"language_code"`
	Name         string `json:"name"`
}

// CreateUpload asks the provider for a direct upload URL. The created asset gets
// auto-generated English subtitles so a transcript track becomes available.
func (c *Client) CreateUpload(ctx context.Context) (*Upload, error) {
	payload := createUploadRequest{
		CORSOrigin: c.corsOrigin,
		NewAssetSettings: newAssetSettings{
			PlaybackPolicy: []string{"public"},
			Input: []assetInput{{
				GeneratedSubtitles: []generatedSubtitles{{LanguageCode: "en", Name: "English (generated)"}},
			}},
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("create upload: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/video/v1/uploads", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}
	req.SetBasicAuth(c.tokenID, c.tokenSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("create upload: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("create upload: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var envelope struct {
		Data Upload `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("create upload: decode response: %w", err)
	}
	if envelope.Data.ID == "" || envelope.Data.URL == "" {
		return nil, errors.New("create upload: response missing id or url")
	}
	return &envelope.Data, nil
}
