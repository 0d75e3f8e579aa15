package asset

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vidflow/vidflow/pkg/eventbus"
	"github.com/vidflow/vidflow/pkg/model"
	"github.com/vidflow/vidflow/pkg/mux"
	"github.com/vidflow/vidflow/pkg/stage"
	"github.com/vidflow/vidflow/pkg/workflow"
	"github.com/vidflow/vidflow/pkg/workflow/workflowtest"
)

type fakeProvider struct {
	upload *mux.Upload
	err    error
}

func (p *fakeProvider) ThumbnailURL(playbackID string) string {
	return "https://image.example/" + playbackID + "/thumbnail.jpg"
}

func (p *fakeProvider) PreviewURL(playbackID string) string {
	return "https://image.example/" + playbackID + "/animated.gif"
}

func (p *fakeProvider) CreateUpload(ctx context.Context) (*mux.Upload, error) {
	return p.upload, p.err
}

type fakeTrigger struct {
	mu    sync.Mutex
	seen  map[uuid.UUID]bool
	kinds []model.WorkflowKind
}

func (f *fakeTrigger) TriggerOnce(ctx context.Context, kind model.WorkflowKind, input workflow.Input, runID uuid.UUID) (*model.WorkflowRun, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[uuid.UUID]bool)
	}
	if f.seen[runID] {
		return &model.WorkflowRun{ID: runID}, false, nil
	}
	f.seen[runID] = true
	f.kinds = append(f.kinds, kind)
	return &model.WorkflowRun{ID: runID}, true, nil
}

func strPtr(s string) *string { return &s }

func TestTransition(t *testing.T) {
	cases := []struct {
		current model.AssetState
		event   string
		next    model.AssetState
		outcome Outcome
	}{
		{model.AssetWaiting, mux.EventAssetCreated, model.AssetProcessing, Applied},
		{"", mux.EventAssetCreated, model.AssetProcessing, Applied},
		{model.AssetProcessing, mux.EventAssetCreated, model.AssetProcessing, Duplicate},
		{model.AssetProcessing, mux.EventAssetReady, model.AssetReady, Applied},
		{model.AssetWaiting, mux.EventAssetReady, model.AssetReady, Applied},
		{model.AssetReady, mux.EventAssetReady, model.AssetReady, Duplicate},
		{model.AssetReady, mux.EventAssetCreated, model.AssetReady, Stale},
		{model.AssetReady, mux.EventAssetErrored, model.AssetReady, Stale},
		{model.AssetProcessing, mux.EventAssetErrored, model.AssetErrored, Applied},
		{model.AssetErrored, mux.EventAssetReady, model.AssetErrored, Stale},
		{model.AssetErrored, mux.EventAssetErrored, model.AssetErrored, Duplicate},
		{model.AssetProcessing, "asset.deleted", model.AssetProcessing, Ignored},
	}
	for _, tc := range cases {
		next, outcome := Transition(tc.current, tc.event)
		require.Equal(t, tc.next, next, "%s + %s", tc.current, tc.event)
		require.Equal(t, tc.outcome, outcome, "%s + %s", tc.current, tc.event)
	}
}

type serviceFixture struct {
	service *Service
	videos  *workflowtest.VideoStore
	bus     *eventbus.Bus
	trigger *fakeTrigger
	video   model.Video
}

func newServiceFixture(t *testing.T, kinds ...model.WorkflowKind) *serviceFixture {
	t.Helper()
	video := model.Video{
		ID:         uuid.New(),
		OwnerID:    "owner-1",
		Title:      "clip",
		UploadID:   strPtr("up-1"),
		AssetState: model.AssetWaiting,
		TrackState: model.TrackPending,
		Visibility: model.VisibilityPrivate,
	}
	f := &serviceFixture{
		videos:  workflowtest.NewVideoStore(video),
		bus:     eventbus.NewBus(eventbus.NewMemoryBroker(16)),
		trigger: &fakeTrigger{},
		video:   video,
	}
	f.service = NewService(f.videos, &fakeProvider{}, f.bus, zap.NewNop(), WithAutoGenerate(f.trigger, kinds))
	return f
}

func (f *serviceFixture) handle(t *testing.T, event *mux.Event) Outcome {
	t.Helper()
	outcome, err := f.service.HandleWebhook(context.Background(), event)
	require.NoError(t, err)
	return outcome
}

func (f *serviceFixture) current(t *testing.T) *model.Video {
	t.Helper()
	video, err := f.videos.GetVideo(context.Background(), f.video.ID)
	require.NoError(t, err)
	return video
}

func readyEvent() *mux.Event {
	return &mux.Event{Type: mux.EventAssetReady, Data: mux.EventData{
		ID:          "asset-1",
		UploadID:    "up-1",
		Status:      "ready",
		Duration:    61.25,
		PlaybackIDs: []mux.PlaybackID{{ID: "pb-1", Policy: "public"}},
	}}
}

func TestAssetLifecycle(t *testing.T) {
	f := newServiceFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := f.bus.Subscribe(ctx, eventbus.ChannelName(f.video.ID.String(), eventbus.ProcedureAsset))
	require.NoError(t, err)

	require.Equal(t, Applied, f.handle(t, &mux.Event{Type: mux.EventAssetCreated, Data: mux.EventData{ID: "asset-1", UploadID: "up-1", Status: "preparing"}}))
	video := f.current(t)
	require.Equal(t, model.AssetProcessing, video.AssetState)
	require.Equal(t, "asset-1", *video.AssetID)
	require.Equal(t, "preparing", video.AssetStatus)

	require.Equal(t, Applied, f.handle(t, readyEvent()))
	video = f.current(t)
	require.Equal(t, model.AssetReady, video.AssetState)
	require.Equal(t, "pb-1", *video.PlaybackID)
	require.Equal(t, 61250, video.DurationMs)
	require.Equal(t, "https://image.example/pb-1/animated.gif", *video.PreviewURL)
	require.Equal(t, "https://image.example/pb-1/thumbnail.jpg", *video.ThumbnailURL)

	require.Equal(t, stage.MuxAssetReady, (<-events).Stage)
	require.Equal(t, stage.Finished, (<-events).Stage)

	// a late created event never regresses the state
	require.Equal(t, Stale, f.handle(t, &mux.Event{Type: mux.EventAssetCreated, Data: mux.EventData{ID: "asset-1", UploadID: "up-1", Status: "preparing"}}))
	require.Equal(t, model.AssetReady, f.current(t).AssetState)
}

func TestDuplicateReadyKeepsRecordIdentical(t *testing.T) {
	f := newServiceFixture(t)
	f.handle(t, readyEvent())
	first := f.current(t)

	require.Equal(t, Duplicate, f.handle(t, readyEvent()))
	second := f.current(t)

	first.UpdatedAt, second.UpdatedAt = time.Time{}, time.Time{}
	require.Equal(t, first, second)
}

func TestReadyKeepsUserThumbnail(t *testing.T) {
	f := newServiceFixture(t)
	require.NoError(t, f.videos.SetThumbnail(context.Background(), f.video.ID, "https://cdn.example/custom.png", "thumbnails/custom.png"))

	f.handle(t, readyEvent())
	require.Equal(t, "https://cdn.example/custom.png", *f.current(t).ThumbnailURL)
}

func TestErroredIsFinal(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	channel := eventbus.ChannelName(f.video.ID.String(), eventbus.ProcedureAsset)

	errored := &mux.Event{Type: mux.EventAssetErrored, Data: mux.EventData{
		ID:       "asset-1",
		UploadID: "up-1",
		Status:   "errored",
		Errors:   &mux.AssetErrors{Type: "invalid_input", Messages: []string{"unsupported codec"}},
	}}
	require.Equal(t, Applied, f.handle(t, errored))
	video := f.current(t)
	require.Equal(t, model.AssetErrored, video.AssetState)
	require.Equal(t, "unsupported codec", video.ErrorMessage)

	cached, err := f.bus.LastEvent(ctx, channel)
	require.NoError(t, err)
	require.Equal(t, stage.Error, cached.Stage)
	require.Equal(t, "unsupported codec", cached.Message)

	require.Equal(t, Stale, f.handle(t, readyEvent()))
	require.Nil(t, f.current(t).PlaybackID)
}

func TestTrackReadyMatchesByAssetID(t *testing.T) {
	f := newServiceFixture(t)
	f.handle(t, &mux.Event{Type: mux.EventAssetCreated, Data: mux.EventData{ID: "asset-1", UploadID: "up-1"}})

	outcome := f.handle(t, &mux.Event{Type: mux.EventAssetTrackReady, Data: mux.EventData{ID: "track-1", AssetID: "asset-1", Type: "text", Status: "ready"}})
	require.Equal(t, Applied, outcome)
	video := f.current(t)
	require.Equal(t, model.TrackReady, video.TrackState)
	require.Equal(t, "track-1", *video.TrackID)

	require.Equal(t, Duplicate, f.handle(t, &mux.Event{Type: mux.EventAssetTrackReady, Data: mux.EventData{ID: "track-1", AssetID: "asset-1", Type: "text"}}))
	require.Equal(t, Stale, f.handle(t, &mux.Event{Type: mux.EventAssetTrackReady, Data: mux.EventData{ID: "track-2", AssetID: "asset-1", Type: "text"}}))
	require.Equal(t, "track-1", *f.current(t).TrackID)

	require.Equal(t, Ignored, f.handle(t, &mux.Event{Type: mux.EventAssetTrackReady, Data: mux.EventData{ID: "audio-1", AssetID: "asset-1", Type: "audio"}}))
}

func TestUnknownVideoAndEventType(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.HandleWebhook(context.Background(), &mux.Event{Type: mux.EventAssetReady, Data: mux.EventData{ID: "nope", UploadID: "nope"}})
	require.ErrorIs(t, err, ErrVideoNotFound)

	require.Equal(t, Ignored, f.handle(t, &mux.Event{Type: "upload.created"}))
}

func TestAutoGenerateWhenAssetAndTrackReady(t *testing.T) {
	f := newServiceFixture(t, model.KindTitle, model.KindThumbnail)

	f.handle(t, readyEvent())
	require.Empty(t, f.trigger.kinds)

	f.handle(t, &mux.Event{Type: mux.EventAssetTrackReady, Data: mux.EventData{ID: "track-1", AssetID: "asset-1", Type: "text"}})
	require.Equal(t, []model.WorkflowKind{model.KindTitle, model.KindThumbnail}, f.trigger.kinds)

	// re-delivery does not start them again
	f.handle(t, readyEvent())
	f.handle(t, &mux.Event{Type: mux.EventAssetTrackReady, Data: mux.EventData{ID: "track-1", AssetID: "asset-1", Type: "text"}})
	require.Len(t, f.trigger.kinds, 2)
}

func TestSetVisibility(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.SetVisibility(ctx, f.video.ID, "owner-1", model.VisibilityPublic)
	require.ErrorIs(t, err, model.ErrNotPlayable)

	_, err = f.service.SetVisibility(ctx, f.video.ID, "someone-else", model.VisibilityPrivate)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.service.SetVisibility(ctx, f.video.ID, "owner-1", "unlisted")
	require.ErrorIs(t, err, ErrInvalidVisibility)

	_, err = f.service.SetVisibility(ctx, uuid.New(), "owner-1", model.VisibilityPrivate)
	require.ErrorIs(t, err, ErrVideoNotFound)

	f.handle(t, readyEvent())
	video, err := f.service.SetVisibility(ctx, f.video.ID, "owner-1", model.VisibilityPublic)
	require.NoError(t, err)
	require.Equal(t, model.VisibilityPublic, video.Visibility)
	require.Equal(t, model.VisibilityPublic, f.current(t).Visibility)
}

func TestCreateUpload(t *testing.T) {
	f := newServiceFixture(t)
	f.service.provider = &fakeProvider{upload: &mux.Upload{ID: "up-9", URL: "https://upload.example/put", Status: "waiting"}}

	video, url, err := f.service.CreateUpload(context.Background(), "owner-2", "", nil)
	require.NoError(t, err)
	require.Equal(t, "https://upload.example/put", url)
	require.Equal(t, "Untitled", video.Title)

	stored, err := f.videos.GetVideo(context.Background(), video.ID)
	require.NoError(t, err)
	require.Equal(t, model.AssetWaiting, stored.AssetState)
	require.Equal(t, "up-9", *stored.UploadID)

	found, err := f.videos.FindByUploadID(context.Background(), "up-9")
	require.NoError(t, err)
	require.Equal(t, video.ID, found.ID)
}
