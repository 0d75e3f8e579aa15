package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidflow/vidflow/pkg/model"
)

var ErrDispatcherClosed = errors.New("dispatcher is closed")

// Dispatcher hands a persisted run to whatever executes it out-of-band.
type Dispatcher interface {
	Dispatch(ctx context.Context, runID uuid.UUID) error
}

type Executor interface {
	Execute(ctx context.Context, runID uuid.UUID) error
}

// InlineDispatcher executes runs on bounded goroutines in the calling process.
type InlineDispatcher struct {
	executor Executor
	logger   *zap.Logger
	sem      chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewInlineDispatcher(executor Executor, workers int, logger *zap.Logger) *InlineDispatcher {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &InlineDispatcher{
		executor: executor,
		logger:   logger,
		sem:      make(chan struct{}, workers),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Dispatch returns once a worker slot is taken. The run does not inherit ctx, so
// a finished HTTP request does not cancel it.
func (d *InlineDispatcher) Dispatch(ctx context.Context, runID uuid.UUID) error {
	select {
	case <-d.ctx.Done():
		return ErrDispatcherClosed
	default:
	}

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrDispatcherClosed
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.sem }()
		if err := d.executor.Execute(d.ctx, runID); err != nil {
			d.logger.Error("inline run execution failed", zap.String("run_id", runID.String()), zap.Error(err))
		}
	}()
	return nil
}

// Close cancels in-flight runs and waits for their goroutines. Interrupted runs
// stay RUNNING until re-dispatched or force-failed by the supervisor.
func (d *InlineDispatcher) Close() error {
	d.cancel()
	d.wg.Wait()
	return nil
}

// Launcher persists a run and dispatches it.
type Launcher struct {
	engine     *Engine
	dispatcher Dispatcher
}

func NewLauncher(engine *Engine, dispatcher Dispatcher) *Launcher {
	return &Launcher{engine: engine, dispatcher: dispatcher}
}

// Trigger surfaces setup failures synchronously and leaves execution to the dispatcher.
// A finished run is returned as is; any other existing run is dispatched again.
func (l *Launcher) Trigger(ctx context.Context, kind model.WorkflowKind, input Input, runID uuid.UUID) (*model.WorkflowRun, error) {
	run, err := l.engine.Start(ctx, kind, input, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == model.RunFinished {
		return run, nil
	}
	if err := l.dispatch(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// TriggerOnce creates and dispatches the run only if runID does not exist yet.
func (l *Launcher) TriggerOnce(ctx context.Context, kind model.WorkflowKind, input Input, runID uuid.UUID) (*model.WorkflowRun, bool, error) {
	run, created, err := l.engine.start(ctx, kind, input, runID)
	if err != nil || !created {
		return run, false, err
	}
	if err := l.dispatch(ctx, run); err != nil {
		return nil, false, err
	}
	return run, true, nil
}

// dispatch hands the run over. A pending run that could not be handed over is
// failed so its subscribers see an outcome; a running one is left to its
// executor or the supervisor.
func (l *Launcher) dispatch(ctx context.Context, run *model.WorkflowRun) error {
	err := l.dispatcher.Dispatch(ctx, run.ID)
	if err == nil {
		return nil
	}
	err = fmt.Errorf("dispatch run %s: %w", run.ID, err)
	if run.Status == model.RunPending {
		l.engine.ForceFail(context.WithoutCancel(ctx), run, err)
	}
	return err
}
