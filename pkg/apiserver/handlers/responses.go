package handlers

import (
	"encoding/json"

	"github.com/vidflow/vidflow/pkg/model"
	"github.com/vidflow/vidflow/pkg/pagination"
)

type videoResponse struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Category     *string `json:"category,omitempty"`
	AssetState   string  `json:"assetState"`
	TrackState   string  `json:"trackState"`
	PlaybackID   *string `json:"playbackId,omitempty"`
	ThumbnailURL *string `json:"thumbnailUrl,omitempty"`
	PreviewURL   *string `json:"previewUrl,omitempty"`
	DurationMs   int     `json:"durationMs"`
	Visibility   string  `json:"visibility"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    string  `json:"updatedAt"`
}

type stepResponse struct {
	Name       string          `json:"name"`
	Position   int             `json:"position"`
	Output     json.RawMessage `json:"output,omitempty"`
	FinishedAt string          `json:"finishedAt"`
}

type runResponse struct {
	ID           string         `json:"id"`
	Kind         string         `json:"kind"`
	VideoID      string         `json:"videoId"`
	Channel      string         `json:"channel"`
	Status       string         `json:"status"`
	Attempts     int            `json:"attempts"`
	FailedStep   string         `json:"failedStep,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Steps        []stepResponse `json:"steps,omitempty"`
	CreatedAt    string         `json:"createdAt"`
	StartedAt    *string        `json:"startedAt,omitempty"`
	FinishedAt   *string        `json:"finishedAt,omitempty"`
}

func mapVideo(video *model.Video) videoResponse {
	response := videoResponse{
		ID:           video.ID.String(),
		Title:        video.Title,
		Description:  video.Description,
		AssetState:   string(video.AssetState),
		TrackState:   string(video.TrackState),
		PlaybackID:   video.PlaybackID,
		ThumbnailURL: video.ThumbnailURL,
		PreviewURL:   video.PreviewURL,
		DurationMs:   video.DurationMs,
		Visibility:   string(video.Visibility),
		ErrorMessage: video.ErrorMessage,
		CreatedAt:    video.CreatedAt.UTC().Format(timeRFC3339Nano),
		UpdatedAt:    video.UpdatedAt.UTC().Format(timeRFC3339Nano),
	}
	if video.Category != nil {
		response.Category = &video.Category.Name
	}
	return response
}

func mapRun(run *model.WorkflowRun) runResponse {
	response := runResponse{
		ID:           run.ID.String(),
		Kind:         string(run.Kind),
		VideoID:      run.VideoID.String(),
		Channel:      run.Channel,
		Status:       string(run.Status),
		Attempts:     run.Attempts,
		FailedStep:   run.FailedStep,
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt.UTC().Format(timeRFC3339Nano),
		StartedAt:    formatTime(run.StartedAt),
		FinishedAt:   formatTime(run.FinishedAt),
	}
	for _, step := range run.Steps {
		response.Steps = append(response.Steps, stepResponse{
			Name:       step.Name,
			Position:   step.Position,
			Output:     json.RawMessage(step.Output),
			FinishedAt: step.FinishedAt.UTC().Format(timeRFC3339Nano),
		})
	}
	return response
}

func mapPage[T, R any](page pagination.Page[T], mapItem func(*T) R) pagination.Page[R] {
	items := make([]R, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, mapItem(&page.Items[i]))
	}
	return pagination.Page[R]{Items: items, NextCursor: page.NextCursor}
}
