package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestVideoCanPublish(t *testing.T) {
	video := &Video{}
	require.ErrorIs(t, video.CanPublish(), ErrNotPlayable)

	video.PlaybackID = strPtr("")
	require.ErrorIs(t, video.CanPublish(), ErrNotPlayable)

	video.PlaybackID = strPtr("pb-1")
	require.NoError(t, video.CanPublish())
}

func TestHasTranscriptSource(t *testing.T) {
	video := &Video{AssetID: strPtr("a"), PlaybackID: strPtr("p"), TrackID: strPtr("t"), TrackState: TrackPending}
	require.False(t, video.HasTranscriptSource())

	video.TrackState = TrackReady
	require.True(t, video.HasTranscriptSource())
}

func TestNewRunEvent(t *testing.T) {
	run := &WorkflowRun{
		ID:           uuid.New(),
		Kind:         KindTitle,
		VideoID:      uuid.New(),
		Channel:      "v:gen-t",
		Status:       RunFailed,
		ErrorMessage: "empty transcript",
		FailedStep:   "GetTranscript",
	}

	event := NewRunEvent(run)
	require.Equal(t, RunEventFailed, event.EventType)
	require.Equal(t, run.ID, event.RunID)
	require.Equal(t, OutboxStatusPending, event.Status)
	require.Equal(t, "GetTranscript", event.Payload["failed_step"])

	run.Status = RunFinished
	run.ErrorMessage = ""
	run.FailedStep = ""
	finished := NewRunEvent(run)
	require.Equal(t, RunEventFinished, finished.EventType)
	require.NotContains(t, finished.Payload, "error_message")
}

func TestKindAndStatus(t *testing.T) {
	require.True(t, KindThumbnail.Valid())
	require.False(t, WorkflowKind("summary").Valid())
	require.True(t, RunFailed.Terminal())
	require.False(t, RunRunning.Terminal())
	require.True(t, VisibilityPublic.Valid())
	require.False(t, Visibility("unlisted").Valid())
}
