// Package generation defines the title, description and thumbnail workflows.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vidflow/vidflow/pkg/eventbus"
	"github.com/vidflow/vidflow/pkg/model"
	"github.com/vidflow/vidflow/pkg/stage"
	"github.com/vidflow/vidflow/pkg/storage"
	"github.com/vidflow/vidflow/pkg/workflow"
)

var ErrMissingTranscriptSource = errors.New("video has no ready transcript track")

type Videos interface {
	GetVideo(ctx context.Context, id uuid.UUID) (*model.Video, error)
	SetTitle(ctx context.Context, id uuid.UUID, title string) error
	SetDescription(ctx context.Context, id uuid.UUID, description string) error
	SetThumbnail(ctx context.Context, id uuid.UUID, url, key string) error
	ClearThumbnail(ctx context.Context, id uuid.UUID) error
}

type Transcripts interface {
	FetchTranscript(ctx context.Context, playbackID, trackID string) (string, error)
}

type Generator interface {
	Complete(ctx context.Context, system, user string) (string, error)
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

type Workflows struct {
	videos         Videos
	transcripts    Transcripts
	generator      Generator
	objects        storage.Store
	transcriptSize int
}

func New(videos Videos, transcripts Transcripts, generator Generator, objects storage.Store, transcriptSize int) *Workflows {
	if transcriptSize <= 0 {
		transcriptSize = 8000
	}
	return &Workflows{
		videos:         videos,
		transcripts:    transcripts,
		generator:      generator,
		objects:        objects,
		transcriptSize: transcriptSize,
	}
}

// Register adds all three workflows to the engine.
func (w *Workflows) Register(engine *workflow.Engine) error {
	for _, def := range []workflow.Definition{w.Title(), w.Description(), w.Thumbnail()} {
		if err := engine.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// VideoSnapshot is what GetVideo records for later steps.
type VideoSnapshot struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Category     string    `json:"category,omitempty"`
	PlaybackID   string    `json:"playbackId,omitempty"`
	TrackID      string    `json:"trackId,omitempty"`
	TrackReady   bool      `json:"trackReady"`
	ThumbnailKey string    `json:"thumbnailKey,omitempty"`
}

func (w *Workflows) Title() workflow.Definition {
	return workflow.Definition{
		Kind:      model.KindTitle,
		Procedure: eventbus.ProcedureTitle,
		Steps: []workflow.Step{
			{ID: stage.GetVideo, Run: w.getVideo(true)},
			{ID: stage.GetTranscript, Run: w.getTranscript(true)},
			{ID: stage.GenerateTitle, Run: w.generateText(titlePrompt)},
			{ID: stage.UpdateTitle, Run: w.updateText(stage.GenerateTitle, w.videos.SetTitle)},
		},
	}
}

func (w *Workflows) Description() workflow.Definition {
	return workflow.Definition{
		Kind:      model.KindDescription,
		Procedure: eventbus.ProcedureDescription,
		Steps: []workflow.Step{
			{ID: stage.GetVideo, Run: w.getVideo(false)},
			{ID: stage.GetTranscript, Run: w.getTranscript(false)},
			{ID: stage.GenerateDescription, Run: w.generateText(descriptionPrompt)},
			{ID: stage.UpdateDescription, Run: w.updateText(stage.GenerateDescription, w.videos.SetDescription)},
		},
	}
}

func (w *Workflows) Thumbnail() workflow.Definition {
	return workflow.Definition{
		Kind:      model.KindThumbnail,
		Procedure: eventbus.ProcedureThumbnail,
		Steps: []workflow.Step{
			{ID: stage.GetVideo, Run: w.getVideo(false)},
			{ID: stage.CleanupThumbnail, Run: w.cleanupThumbnail},
			{ID: stage.GeneratePrompt, Run: w.generateImagePrompt},
			{ID: stage.GenerateImage, Run: w.generateImage},
			{ID: stage.UploadThumbnail, Run: w.uploadThumbnail},
			{ID: stage.UpdateThumbnail, Run: w.updateThumbnail},
		},
	}
}

func (w *Workflows) getVideo(requireTrack bool) workflow.StepFunc {
	return func(ctx context.Context, sc *workflow.StepContext) (interface{}, error) {
		video, err := w.videos.GetVideo(ctx, sc.Input.VideoID)
		if err != nil {
			return nil, fmt.Errorf("load video: %w", err)
		}
		if requireTrack && !video.HasTranscriptSource() {
			return nil, ErrMissingTranscriptSource
		}

		snapshot := VideoSnapshot{
			ID:          video.ID,
			Title:       video.Title,
			Description: video.Description,
			PlaybackID:  deref(video.PlaybackID),
			TrackID:     deref(video.TrackID),
			TrackReady:  video.TrackState == model.TrackReady,
		}
		if video.Category != nil {
			snapshot.Category = video.Category.Name
		}
		if video.ThumbnailKey != nil {
			snapshot.ThumbnailKey = *video.ThumbnailKey
		}
		return snapshot, nil
	}
}

// getTranscript fails on a missing or empty transcript. The description workflow
// tolerates a missing track and records an empty transcript instead of fetching.
func (w *Workflows) getTranscript(requireTrack bool) workflow.StepFunc {
	return func(ctx context.Context, sc *workflow.StepContext) (interface{}, error) {
		var video VideoSnapshot
		if err := sc.Result(stage.GetVideo, &video); err != nil {
			return nil, err
		}
		if video.PlaybackID == "" || video.TrackID == "" || !video.TrackReady {
			if requireTrack {
				return nil, ErrMissingTranscriptSource
			}
			return "", nil
		}
		transcript, err := w.transcripts.FetchTranscript(ctx, video.PlaybackID, video.TrackID)
		if err != nil {
			return nil, err
		}
		return truncate(transcript, w.transcriptSize), nil
	}
}

func (w *Workflows) generateText(build func(VideoSnapshot, string) (string, string)) workflow.StepFunc {
	return func(ctx context.Context, sc *workflow.StepContext) (interface{}, error) {
		var video VideoSnapshot
		if err := sc.Result(stage.GetVideo, &video); err != nil {
			return nil, err
		}
		var transcript string
		if err := sc.Result(stage.GetTranscript, &transcript); err != nil {
			return nil, err
		}
		system, user := build(video, transcript)
		text, err := w.generator.Complete(ctx, system, user)
		if err != nil {
			return nil, err
		}
		return text, nil
	}
}

func (w *Workflows) updateText(from stage.Stage, save func(context.Context, uuid.UUID, string) error) workflow.StepFunc {
	return func(ctx context.Context, sc *workflow.StepContext) (interface{}, error) {
		var text string
		if err := sc.Result(from, &text); err != nil {
			return nil, err
		}
		if err := save(ctx, sc.Input.VideoID, text); err != nil {
			return nil, err
		}
		return text, nil
	}
}

func (w *Workflows) cleanupThumbnail(ctx context.Context, sc *workflow.StepContext) (interface{}, error) {
	var video VideoSnapshot
	if err := sc.Result(stage.GetVideo, &video); err != nil {
		return nil, err
	}
	if video.ThumbnailKey == "" {
		return "", nil
	}
	if err := w.objects.Delete(ctx, video.ThumbnailKey); err != nil {
		return nil, err
	}
	if err := w.videos.ClearThumbnail(ctx, video.ID); err != nil {
		return nil, err
	}
	return video.ThumbnailKey, nil
}

func (w *Workflows) generateImagePrompt(ctx context.Context, sc *workflow.StepContext) (interface{}, error) {
	if prompt := strings.TrimSpace(sc.Input.Prompt); prompt != "" {
		return prompt, nil
	}
	var video VideoSnapshot
	if err := sc.Result(stage.GetVideo, &video); err != nil {
		return nil, err
	}

	transcript := ""
	if video.PlaybackID != "" && video.TrackID != "" && video.TrackReady {
		fetched, err := w.transcripts.FetchTranscript(ctx, video.PlaybackID, video.TrackID)
		if err != nil {
			return nil, err
		}
		transcript = truncate(fetched, w.transcriptSize)
	}

	system, user := thumbnailPrompt(video, transcript)
	return w.generator.Complete(ctx, system, user)
}

// ImageResult is recorded by GenerateImage.
type ImageResult struct {
	Data []byte `json:"data"`
}

func (w *Workflows) generateImage(ctx context.Context, sc *workflow.StepContext) (interface{}, error) {
	var prompt string
	if err := sc.Result(stage.GeneratePrompt, &prompt); err != nil {
		return nil, err
	}
	image, err := w.generator.GenerateImage(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return ImageResult{Data: image}, nil
}

func (w *Workflows) uploadThumbnail(ctx context.Context, sc *workflow.StepContext) (interface{}, error) {
	var image ImageResult
	if err := sc.Result(stage.GenerateImage, &image); err != nil {
		return nil, err
	}
	object, err := w.objects.Put(ctx, storage.ThumbnailKey(sc.Input.VideoID, sc.RunID), image.Data, "image/png")
	if err != nil {
		return nil, err
	}
	return object, nil
}

func (w *Workflows) updateThumbnail(ctx context.Context, sc *workflow.StepContext) (interface{}, error) {
	var object storage.Object
	if err := sc.Result(stage.UploadThumbnail, &object); err != nil {
		return nil, err
	}
	if err := w.videos.SetThumbnail(ctx, sc.Input.VideoID, object.URL, object.Key); err != nil {
		return nil, err
	}
	return object.URL, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
