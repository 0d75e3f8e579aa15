package asset

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidflow/vidflow/pkg/eventbus"
	"github.com/vidflow/vidflow/pkg/model"
	"github.com/vidflow/vidflow/pkg/mux"
	"github.com/vidflow/vidflow/pkg/stage"
	"github.com/vidflow/vidflow/pkg/store"
	"github.com/vidflow/vidflow/pkg/workflow"
)

var (
	ErrVideoNotFound     = errors.New("video not found")
	ErrForbidden         = errors.New("video is not owned by caller")
	ErrInvalidVisibility = errors.New("visibility must be private or public")
)

// autoRunNamespace derives stable run ids so re-delivered webhooks start each
// automatic workflow at most once per video.
var autoRunNamespace = uuid.MustParse("6f1d8a52-3c1e-4b7a-9a55-2f0c8e6d4b19")

type Videos interface {
	Create(ctx context.Context, video *model.Video) error
	GetVideo(ctx context.Context, id uuid.UUID) (*model.Video, error)
	FindByUploadID(ctx context.Context, uploadID string) (*model.Video, error)
	FindByAssetID(ctx context.Context, assetID string) (*model.Video, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
	AdoptThumbnail(ctx context.Context, id uuid.UUID, url string) (bool, error)
	SetVisibility(ctx context.Context, id uuid.UUID, visibility model.Visibility) error
}

type Provider interface {
	ThumbnailURL(playbackID string) string
	PreviewURL(playbackID string) string
	CreateUpload(ctx context.Context) (*mux.Upload, error)
}

type Trigger interface {
	TriggerOnce(ctx context.Context, kind model.WorkflowKind, input workflow.Input, runID uuid.UUID) (*model.WorkflowRun, bool, error)
}

type Service struct {
	videos       Videos
	provider     Provider
	events       eventbus.Publisher
	trigger      Trigger
	autoGenerate []model.WorkflowKind
	logger       *zap.Logger
}

type Option func(*Service)

// WithAutoGenerate starts the given workflows once a video's asset and text track are both ready.
func WithAutoGenerate(trigger Trigger, kinds []model.WorkflowKind) Option {
	return func(s *Service) {
		s.trigger = trigger
		s.autoGenerate = kinds
	}
}

func NewService(videos Videos, provider Provider, events eventbus.Publisher, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{videos: videos, provider: provider, events: events, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateUpload creates a video record and a provider upload slot for it.
func (s *Service) CreateUpload(ctx context.Context, ownerID, title string, categoryID *uuid.UUID) (*model.Video, string, error) {
	if strings.TrimSpace(title) == "" {
		title = "Untitled"
	}
	video := &model.Video{
		OwnerID:    ownerID,
		CategoryID: categoryID,
		Title:      title,
		AssetState: model.AssetUnprocessed,
		TrackState: model.TrackPending,
		Visibility: model.VisibilityPrivate,
	}
	if err := s.videos.Create(ctx, video); err != nil {
		return nil, "", fmt.Errorf("create video: %w", err)
	}

	upload, err := s.provider.CreateUpload(ctx)
	if err != nil {
		return nil, "", err
	}
	if err := s.videos.Update(ctx, video.ID, map[string]interface{}{
		"upload_id":    upload.ID,
		"asset_status": upload.Status,
		"asset_state":  model.AssetWaiting,
	}); err != nil {
		return nil, "", fmt.Errorf("record upload: %w", err)
	}
	video.UploadID = &upload.ID
	video.AssetStatus = upload.Status
	video.AssetState = model.AssetWaiting
	return video, upload.URL, nil
}

// HandleWebhook applies one verified provider event. Re-delivered events leave
// the record as the first delivery did.
func (s *Service) HandleWebhook(ctx context.Context, event *mux.Event) (Outcome, error) {
	switch event.Type {
	case mux.EventAssetCreated, mux.EventAssetReady, mux.EventAssetErrored:
		video, err := s.locate(ctx, event.Data.UploadID, event.Data.ID)
		if err != nil {
			return Ignored, err
		}
		return s.applyAsset(ctx, video, event)
	case mux.EventAssetTrackReady:
		if event.Data.Type != "" && event.Data.Type != "text" {
			return Ignored, nil
		}
		video, err := s.locate(ctx, event.Data.UploadID, event.Data.AssetID)
		if err != nil {
			return Ignored, err
		}
		return s.applyTrack(ctx, video, event)
	default:
		return Ignored, nil
	}
}

func (s *Service) locate(ctx context.Context, uploadID, assetID string) (*model.Video, error) {
	if uploadID != "" {
		video, err := s.videos.FindByUploadID(ctx, uploadID)
		if err == nil {
			return video, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	if assetID != "" {
		video, err := s.videos.FindByAssetID(ctx, assetID)
		if err == nil {
			return video, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrVideoNotFound
}

func (s *Service) applyAsset(ctx context.Context, video *model.Video, event *mux.Event) (Outcome, error) {
	next, outcome := Transition(video.AssetState, event.Type)
	if outcome == Stale || outcome == Ignored {
		s.logger.Info("ignoring asset event",
			zap.String("video_id", video.ID.String()),
			zap.String("type", event.Type),
			zap.String("state", string(video.AssetState)),
			zap.Stringer("outcome", outcome),
		)
		return outcome, nil
	}

	data := event.Data
	updates := map[string]interface{}{
		"asset_state": next,
	}
	if data.ID != "" {
		updates["asset_id"] = data.ID
	}
	if data.Status != "" {
		updates["asset_status"] = data.Status
	}

	channel := eventbus.ChannelName(video.ID.String(), eventbus.ProcedureAsset)
	switch event.Type {
	case mux.EventAssetReady:
		playbackID := data.PlaybackID()
		if playbackID != "" {
			updates["playback_id"] = playbackID
			updates["preview_url"] = s.provider.PreviewURL(playbackID)
		}
		updates["duration_ms"] = int(math.Round(data.Duration * 1000))
		if err := s.videos.Update(ctx, video.ID, updates); err != nil {
			return outcome, fmt.Errorf("apply %s: %w", event.Type, err)
		}
		if playbackID != "" {
			if _, err := s.videos.AdoptThumbnail(ctx, video.ID, s.provider.ThumbnailURL(playbackID)); err != nil {
				return outcome, fmt.Errorf("adopt default thumbnail: %w", err)
			}
		}
		s.publish(ctx, channel, eventbus.NewEvent(stage.MuxAssetReady, ""))
		s.finish(ctx, channel, eventbus.NewEvent(stage.Finished, ""))
		if outcome == Applied {
			s.maybeAutoGenerate(ctx, video.ID)
		}

	case mux.EventAssetErrored:
		message := data.ErrorMessage()
		if message == "" {
			message = "asset processing failed"
		}
		updates["error_message"] = message
		if err := s.videos.Update(ctx, video.ID, updates); err != nil {
			return outcome, fmt.Errorf("apply %s: %w", event.Type, err)
		}
		s.finish(ctx, channel, eventbus.NewErrorEvent("", errors.New(message)))

	default:
		if err := s.videos.Update(ctx, video.ID, updates); err != nil {
			return outcome, fmt.Errorf("apply %s: %w", event.Type, err)
		}
	}

	s.logger.Info("asset event applied",
		zap.String("video_id", video.ID.String()),
		zap.String("type", event.Type),
		zap.String("state", string(next)),
		zap.Stringer("outcome", outcome),
	)
	return outcome, nil
}

func (s *Service) applyTrack(ctx context.Context, video *model.Video, event *mux.Event) (Outcome, error) {
	next, outcome := TrackTransition(video.TrackState)
	if outcome == Duplicate && video.TrackID != nil && *video.TrackID != event.Data.ID {
		// a second text track; keep the first one
		return Stale, nil
	}

	status := event.Data.Status
	if status == "" {
		status = "ready"
	}
	updates := map[string]interface{}{
		"track_id":     event.Data.ID,
		"track_status": status,
		"track_state":  next,
	}
	if err := s.videos.Update(ctx, video.ID, updates); err != nil {
		return outcome, fmt.Errorf("apply %s: %w", event.Type, err)
	}
	if outcome == Applied {
		s.maybeAutoGenerate(ctx, video.ID)
	}
	return outcome, nil
}

func (s *Service) maybeAutoGenerate(ctx context.Context, videoID uuid.UUID) {
	if s.trigger == nil || len(s.autoGenerate) == 0 {
		return
	}
	video, err := s.videos.GetVideo(ctx, videoID)
	if err != nil {
		s.logger.Warn("failed to reload video for auto generation", zap.String("video_id", videoID.String()), zap.Error(err))
		return
	}
	if video.AssetState != model.AssetReady || video.TrackState != model.TrackReady {
		return
	}

	for _, kind := range s.autoGenerate {
		runID := uuid.NewSHA1(autoRunNamespace, []byte(video.ID.String()+":"+string(kind)))
		input := workflow.Input{VideoID: video.ID, UserID: video.OwnerID}
		if _, created, err := s.trigger.TriggerOnce(ctx, kind, input, runID); err != nil {
			s.logger.Warn("failed to start automatic workflow",
				zap.String("video_id", video.ID.String()),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
		} else if created {
			s.logger.Info("automatic workflow started",
				zap.String("video_id", video.ID.String()),
				zap.String("kind", string(kind)),
				zap.String("run_id", runID.String()),
			)
		}
	}
}

func (s *Service) publish(ctx context.Context, channel string, event eventbus.Event) {
	if err := s.events.Publish(ctx, channel, event); err != nil {
		s.logger.Warn("failed to publish asset event", zap.String("channel", channel), zap.Error(err))
	}
}

func (s *Service) finish(ctx context.Context, channel string, event eventbus.Event) {
	s.publish(ctx, channel, event)
	if err := s.events.CacheLastEvent(ctx, channel, event); err != nil {
		s.logger.Warn("failed to cache asset event", zap.String("channel", channel), zap.Error(err))
	}
}

// SetVisibility changes who can see a video. Publishing requires a playback id.
func (s *Service) SetVisibility(ctx context.Context, videoID uuid.UUID, userID string, visibility model.Visibility) (*model.Video, error) {
	if !visibility.Valid() {
		return nil, ErrInvalidVisibility
	}
	video, err := s.videos.GetVideo(ctx, videoID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrVideoNotFound
		}
		return nil, err
	}
	if video.OwnerID != userID {
		return nil, ErrForbidden
	}
	if visibility == model.VisibilityPublic {
		if err := video.CanPublish(); err != nil {
			return nil, err
		}
	}
	if err := s.videos.SetVisibility(ctx, videoID, visibility); err != nil {
		return nil, err
	}
	video.Visibility = visibility
	return video, nil
}
