package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vidflow/vidflow/pkg/stage"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "channel closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func requireNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case event := <-ch:
		t.Fatalf("unexpected event %v", event.Stage)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelName(t *testing.T) {
	require.Equal(t, "v1:gen-t", ChannelName("v1", ProcedureTitle))
	require.Equal(t, "v1:gen-th", ChannelName("v1", ProcedureThumbnail))
	require.NotEqual(t, ChannelName("v1", ProcedureTitle), ChannelName("v1", ProcedureDescription))
}

func TestProcedureValid(t *testing.T) {
	require.True(t, ProcedureAsset.Valid())
	require.False(t, Procedure("gen-x").Valid())
}

func TestPublishOrderPerChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewBus(NewMemoryBroker(16))
	events, err := bus.Subscribe(ctx, "v1:gen-t")
	require.NoError(t, err)

	sequence := []stage.Stage{stage.GetVideo, stage.GetTranscript, stage.GenerateTitle, stage.UpdateTitle, stage.Finished}
	for _, s := range sequence {
		require.NoError(t, bus.Publish(ctx, "v1:gen-t", NewEvent(s, "run-1")))
	}

	for _, want := range sequence {
		got := receive(t, events)
		require.Equal(t, want, got.Stage)
		require.Equal(t, "run-1", got.RunID)
	}
}

func TestChannelIsolation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewBus(NewMemoryBroker(16))
	otherEntity, err := bus.Subscribe(ctx, ChannelName("B", ProcedureTitle))
	require.NoError(t, err)
	otherProcedure, err := bus.Subscribe(ctx, ChannelName("A", ProcedureThumbnail))
	require.NoError(t, err)
	target, err := bus.Subscribe(ctx, ChannelName("A", ProcedureTitle))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, ChannelName("A", ProcedureTitle), NewEvent(stage.GetVideo, "r")))

	require.Equal(t, stage.GetVideo, receive(t, target).Stage)
	requireNoEvent(t, otherEntity)
	requireNoEvent(t, otherProcedure)
}

func TestFanOutToEverySubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewBus(NewMemoryBroker(16))
	first, err := bus.Subscribe(ctx, "v1:gen-d")
	require.NoError(t, err)
	second, err := bus.Subscribe(ctx, "v1:gen-d")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "v1:gen-d", NewEvent(stage.GenerateDescription, "r")))

	require.Equal(t, stage.GenerateDescription, receive(t, first).Stage)
	require.Equal(t, stage.GenerateDescription, receive(t, second).Stage)
}

func TestCancelClosesSubscription(t *testing.T) {
	broker := NewMemoryBroker(4)
	bus := NewBus(broker)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := bus.Subscribe(ctx, "v1:asset")
	require.NoError(t, err)
	require.Equal(t, 1, broker.Subscribers("v1:asset"))

	cancel()
	select {
	case _, ok := <-events:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}

	require.Eventually(t, func() bool { return broker.Subscribers("v1:asset") == 0 }, time.Second, 10*time.Millisecond)
	require.NoError(t, bus.Publish(context.Background(), "v1:asset", NewEvent(stage.MuxAssetReady, "")))
}

func TestLastEventCache(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker(4)
	bus := NewBus(broker, WithLastEventTTL(time.Minute))

	missing, err := bus.LastEvent(ctx, "v1:gen-t")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, bus.CacheLastEvent(ctx, "v1:gen-t", NewErrorEvent("run-9", errors.New("transcript empty"))))

	cached, err := bus.LastEvent(ctx, "v1:gen-t")
	require.NoError(t, err)
	require.NotNil(t, cached)
	require.Equal(t, stage.Error, cached.Stage)
	require.Equal(t, "transcript empty", cached.Message)

	broker.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	expired, err := bus.LastEvent(ctx, "v1:gen-t")
	require.NoError(t, err)
	require.Nil(t, expired)
}

func TestClearLastEvent(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(NewMemoryBroker(4))

	require.NoError(t, bus.CacheLastEvent(ctx, "v1:gen-th", NewEvent(stage.Finished, "run-1")))
	require.NoError(t, bus.ClearLastEvent(ctx, "v1:gen-th"))

	cached, err := bus.LastEvent(ctx, "v1:gen-th")
	require.NoError(t, err)
	require.Nil(t, cached)
}
