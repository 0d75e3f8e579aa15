package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vidflow/vidflow/pkg/eventbus"
	"github.com/vidflow/vidflow/pkg/model"
	"github.com/vidflow/vidflow/pkg/stage"
)

type blockingExecutor struct {
	running int32
	peak    int32
	release chan struct{}
	wg      sync.WaitGroup
}

func (e *blockingExecutor) Execute(ctx context.Context, runID uuid.UUID) error {
	defer e.wg.Done()
	current := atomic.AddInt32(&e.running, 1)
	for {
		peak := atomic.LoadInt32(&e.peak)
		if current <= peak || atomic.CompareAndSwapInt32(&e.peak, peak, current) {
			break
		}
	}
	select {
	case <-e.release:
	case <-ctx.Done():
	}
	atomic.AddInt32(&e.running, -1)
	return nil
}

func TestInlineDispatcherBoundsConcurrency(t *testing.T) {
	executor := &blockingExecutor{release: make(chan struct{})}
	dispatcher := NewInlineDispatcher(executor, 2, zap.NewNop())

	executor.wg.Add(2)
	require.NoError(t, dispatcher.Dispatch(context.Background(), uuid.New()))
	require.NoError(t, dispatcher.Dispatch(context.Background(), uuid.New()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, dispatcher.Dispatch(ctx, uuid.New()), context.DeadlineExceeded)

	close(executor.release)
	executor.wg.Wait()
	require.EqualValues(t, 2, atomic.LoadInt32(&executor.peak))

	require.NoError(t, dispatcher.Close())
	require.ErrorIs(t, dispatcher.Dispatch(context.Background(), uuid.New()), ErrDispatcherClosed)
}

func TestLauncherRunsWorkflowInline(t *testing.T) {
	h := newHarness(t)
	calls := &counter{}
	require.NoError(t, h.engine.Register(titleDefinition(calls, stage.Stage(255))))

	dispatcher := NewInlineDispatcher(h.engine, 1, zap.NewNop())
	launcher := NewLauncher(h.engine, dispatcher)

	run, err := launcher.Trigger(context.Background(), model.KindTitle, Input{VideoID: h.video.ID, UserID: "user-1"}, uuid.Nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, err := h.runs.GetRun(context.Background(), run.ID)
		return err == nil && stored.Status == model.RunFinished
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, dispatcher.Close())

	_, err = launcher.Trigger(context.Background(), model.KindTitle, Input{VideoID: uuid.New(), UserID: "user-1"}, uuid.Nil)
	require.ErrorIs(t, err, ErrVideoNotFound)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	runs []uuid.UUID
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, runID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runs = append(d.runs, runID)
	return nil
}

func TestTriggerOnceDispatchesOnlyNewRuns(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Register(titleDefinition(&counter{}, stage.Stage(255))))
	dispatcher := &recordingDispatcher{}
	launcher := NewLauncher(h.engine, dispatcher)
	runID := uuid.New()
	input := Input{VideoID: h.video.ID, UserID: "user-1"}

	_, created, err := launcher.TriggerOnce(context.Background(), model.KindTitle, input, runID)
	require.NoError(t, err)
	require.True(t, created)

	_, created, err = launcher.TriggerOnce(context.Background(), model.KindTitle, input, runID)
	require.NoError(t, err)
	require.False(t, created)

	// an explicit trigger with the same id re-dispatches for resumption
	_, err = launcher.Trigger(context.Background(), model.KindTitle, input, runID)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{runID, runID}, dispatcher.runs)
}

type failingDispatcher struct{}

func (failingDispatcher) Dispatch(ctx context.Context, runID uuid.UUID) error {
	return errors.New("broker unavailable")
}

func TestTriggerFailsRunThatCannotBeDispatched(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Register(titleDefinition(&counter{}, stage.Stage(255))))
	ctx := context.Background()
	runID := uuid.New()
	input := Input{VideoID: h.video.ID, UserID: "user-1"}
	channel := eventbus.ChannelName(h.video.ID.String(), eventbus.ProcedureTitle)

	_, err := NewLauncher(h.engine, failingDispatcher{}).Trigger(ctx, model.KindTitle, input, runID)
	require.ErrorContains(t, err, "broker unavailable")

	stored, err := h.runs.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, model.RunFailed, stored.Status)
	require.Contains(t, stored.ErrorMessage, "broker unavailable")

	cached, err := h.bus.LastEvent(ctx, channel)
	require.NoError(t, err)
	require.Equal(t, stage.Error, cached.Stage)

	// once the broker is back the same run id is picked up again
	dispatcher := &recordingDispatcher{}
	run, err := NewLauncher(h.engine, dispatcher).Trigger(ctx, model.KindTitle, input, runID)
	require.NoError(t, err)
	require.Equal(t, model.RunPending, run.Status)
	require.Equal(t, []uuid.UUID{runID}, dispatcher.runs)
}

func TestTriggerOnceFailsRunThatCannotBeDispatched(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Register(titleDefinition(&counter{}, stage.Stage(255))))
	ctx := context.Background()
	runID := uuid.New()

	_, created, err := NewLauncher(h.engine, failingDispatcher{}).TriggerOnce(ctx, model.KindTitle, Input{VideoID: h.video.ID, UserID: "user-1"}, runID)
	require.Error(t, err)
	require.False(t, created)

	stored, err := h.runs.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, model.RunFailed, stored.Status)
	require.Len(t, h.runs.OutboxEvents(), 1)
}
