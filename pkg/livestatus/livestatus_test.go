package livestatus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vidflow/vidflow/pkg/eventbus"
	"github.com/vidflow/vidflow/pkg/stage"
)

func drain(t *testing.T, statuses <-chan Status) []Status {
	t.Helper()
	var out []Status
	timeout := time.After(2 * time.Second)
	for {
		select {
		case status, ok := <-statuses:
			if !ok {
				return out
			}
			out = append(out, status)
		case <-timeout:
			t.Fatalf("stream did not end, got %v", out)
		}
	}
}

func TestObserveEndsOnFinished(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewBus(eventbus.NewMemoryBroker(16))
	observer := NewObserver(bus)

	statuses, err := observer.Observe(ctx, "video-1", eventbus.ProcedureTitle)
	require.NoError(t, err)

	channel := eventbus.ChannelName("video-1", eventbus.ProcedureTitle)
	for _, s := range []stage.Stage{stage.GetVideo, stage.GetTranscript, stage.Finished, stage.GetVideo} {
		require.NoError(t, bus.Publish(ctx, channel, eventbus.NewEvent(s, "run-1")))
	}

	got := drain(t, statuses)
	require.Len(t, got, 3)
	require.Equal(t, Status{Stage: stage.GetVideo, Status: "Loading video details", RunID: "run-1"}, got[0])
	require.Equal(t, stage.GetTranscript, got[1].Stage)
	require.Equal(t, stage.Finished, got[2].Stage)
	require.True(t, got[2].Terminal)
}

func TestObserveCarriesErrorMessage(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewBus(eventbus.NewMemoryBroker(16))

	statuses, err := NewObserver(bus).Observe(ctx, "video-1", eventbus.ProcedureThumbnail)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "video-1:gen-th", eventbus.NewErrorEvent("run-1", errors.New("image service returned nothing"))))

	got := drain(t, statuses)
	require.Len(t, got, 1)
	require.Equal(t, stage.Error, got[0].Stage)
	require.Equal(t, "Something went wrong", got[0].Status)
	require.Equal(t, "image service returned nothing", got[0].Error)
}

func TestLateObserverSeesCachedOutcome(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewBus(eventbus.NewMemoryBroker(16))
	channel := eventbus.ChannelName("video-2", eventbus.ProcedureDescription)
	require.NoError(t, bus.CacheLastEvent(ctx, channel, eventbus.NewErrorEvent("run-2", errors.New("boom"))))

	statuses, err := NewObserver(bus).Observe(ctx, "video-2", eventbus.ProcedureDescription)
	require.NoError(t, err)

	got := drain(t, statuses)
	require.Len(t, got, 1)
	require.Equal(t, "boom", got[0].Error)
	require.True(t, got[0].Terminal)
}

func TestObserversFanOutAndStayIsolated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := eventbus.NewBus(eventbus.NewMemoryBroker(16))
	observer := NewObserver(bus)

	first, err := observer.Observe(ctx, "A", eventbus.ProcedureTitle)
	require.NoError(t, err)
	second, err := observer.Observe(ctx, "A", eventbus.ProcedureTitle)
	require.NoError(t, err)
	otherEntity, err := observer.Observe(ctx, "B", eventbus.ProcedureTitle)
	require.NoError(t, err)
	otherProcedure, err := observer.Observe(ctx, "A", eventbus.ProcedureThumbnail)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "A:gen-t", eventbus.NewEvent(stage.GenerateTitle, "")))
	require.NoError(t, bus.Publish(ctx, "A:gen-t", eventbus.NewEvent(stage.Finished, "")))

	require.Len(t, drain(t, first), 2)
	require.Len(t, drain(t, second), 2)

	select {
	case status := <-otherEntity:
		t.Fatalf("unexpected status on B:gen-t: %v", status)
	case status := <-otherProcedure:
		t.Fatalf("unexpected status on A:gen-th: %v", status)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestObserveStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := eventbus.NewBus(eventbus.NewMemoryBroker(16))

	statuses, err := NewObserver(bus).Observe(ctx, "video-3", eventbus.ProcedureAsset)
	require.NoError(t, err)
	cancel()
	require.Empty(t, drain(t, statuses))
}

func TestObserveRejectsUnknownProcedure(t *testing.T) {
	bus := eventbus.NewBus(eventbus.NewMemoryBroker(16))
	_, err := NewObserver(bus).Observe(context.Background(), "video-1", "gen-x")
	require.Error(t, err)
}
