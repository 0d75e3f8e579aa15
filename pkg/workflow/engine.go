// Package workflow runs named, ordered steps with memoized results and a single
// failure hook. Run state lives in the RunStore so a run can resume in any process.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/vidflow/vidflow/pkg/eventbus"
	"github.com/vidflow/vidflow/pkg/metrics"
	"github.com/vidflow/vidflow/pkg/model"
	"github.com/vidflow/vidflow/pkg/stage"
	"github.com/vidflow/vidflow/pkg/store"
)

var (
	ErrUnknownKind        = errors.New("unknown workflow kind")
	ErrRunNotFound        = errors.New("workflow run not found")
	ErrVideoNotFound      = errors.New("video not found")
	ErrForbidden          = errors.New("video is not owned by requester")
	ErrRunMismatch        = errors.New("run belongs to a different workflow or video")
	ErrDefinitionMismatch = errors.New("recorded steps do not match the workflow definition")
)

type Input struct {
	VideoID uuid.UUID `json:"videoId"`
	UserID  string    `json:"userId"`
	Prompt  string    `json:"prompt,omitempty"`
}

type StepFunc func(ctx context.Context, sc *StepContext) (interface{}, error)

type Step struct {
	ID  stage.Stage
	Run StepFunc
}

type Definition struct {
	Kind      model.WorkflowKind
	Procedure eventbus.Procedure
	Steps     []Step
}

func (d Definition) StepNames() []string {
	names := make([]string, len(d.Steps))
	for i, step := range d.Steps {
		names[i] = step.ID.String()
	}
	return names
}

func (d Definition) validate() error {
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, d.Kind)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", d.Kind)
	}
	seen := make(map[stage.Stage]bool, len(d.Steps))
	for _, step := range d.Steps {
		if !step.ID.Valid() || step.ID.Terminal() {
			return fmt.Errorf("workflow %s: %v is not a step stage", d.Kind, step.ID)
		}
		if seen[step.ID] {
			return fmt.Errorf("workflow %s: duplicate step %s", d.Kind, step.ID)
		}
		if step.Run == nil {
			return fmt.Errorf("workflow %s: step %s has no function", d.Kind, step.ID)
		}
		seen[step.ID] = true
	}
	return nil
}

// StepContext carries the run input and the JSON results of earlier steps.
type StepContext struct {
	RunID   uuid.UUID
	Kind    model.WorkflowKind
	Input   Input
	results map[string]json.RawMessage
}

// Result decodes the recorded output of an earlier step into out.
func (sc *StepContext) Result(id stage.Stage, out interface{}) error {
	raw, ok := sc.results[id.String()]
	if !ok {
		return fmt.Errorf("no result recorded for step %s", id)
	}
	return json.Unmarshal(raw, out)
}

func (sc *StepContext) Has(id stage.Stage) bool {
	_, ok := sc.results[id.String()]
	return ok
}

type RunStore interface {
	CreateRun(ctx context.Context, run *model.WorkflowRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*model.WorkflowRun, error)
	// RecordStep stores a step result unless one exists for the same run and
	// step, and returns whichever row is stored.
	RecordStep(ctx context.Context, step *model.WorkflowStep) (*model.WorkflowStep, error)
	MarkRunning(ctx context.Context, id uuid.UUID) (bool, error)
	Reopen(ctx context.Context, id uuid.UUID) (bool, error)
	Touch(ctx context.Context, id uuid.UUID) error
	Finish(ctx context.Context, id uuid.UUID) (bool, error)
	Fail(ctx context.Context, id uuid.UUID, failedStep, message string) (bool, error)
	ListStalled(ctx context.Context, before time.Time, limit int) ([]model.WorkflowRun, error)
}

type VideoLookup interface {
	GetVideo(ctx context.Context, id uuid.UUID) (*model.Video, error)
}

type Engine struct {
	runs        RunStore
	videos      VideoLookup
	events      eventbus.Publisher
	logger      *zap.Logger
	definitions map[model.WorkflowKind]Definition
	stepTimeout time.Duration
	now         func() time.Time
}

type Option func(*Engine)

func WithStepTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.stepTimeout = timeout
		}
	}
}

func NewEngine(runs RunStore, videos VideoLookup, events eventbus.Publisher, logger *zap.Logger, opts ...Option) *Engine {
	engine := &Engine{
		runs:        runs,
		videos:      videos,
		events:      events,
		logger:      logger,
		definitions: make(map[model.WorkflowKind]Definition),
		stepTimeout: 2 * time.Minute,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

func (e *Engine) Register(def Definition) error {
	if err := def.validate(); err != nil {
		return err
	}
	if _, exists := e.definitions[def.Kind]; exists {
		return fmt.Errorf("workflow %s already registered", def.Kind)
	}
	e.definitions[def.Kind] = def
	return nil
}

func (e *Engine) Definition(kind model.WorkflowKind) (Definition, bool) {
	def, ok := e.definitions[kind]
	return def, ok
}

// Start validates the request and persists a pending run. When runID names an
// existing run of the same kind and video, that run is returned for resumption;
// a failed run is reopened so its unrecorded steps run again.
func (e *Engine) Start(ctx context.Context, kind model.WorkflowKind, input Input, runID uuid.UUID) (*model.WorkflowRun, error) {
	run, created, err := e.start(ctx, kind, input, runID)
	if err != nil || created || run.Status != model.RunFailed {
		return run, err
	}
	return e.reopen(ctx, run)
}

func (e *Engine) reopen(ctx context.Context, run *model.WorkflowRun) (*model.WorkflowRun, error) {
	reopened, err := e.runs.Reopen(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("reopen run %s: %w", run.ID, err)
	}
	if !reopened {
		// another trigger got there first
		current, err := e.runs.GetRun(ctx, run.ID)
		if err != nil {
			return nil, fmt.Errorf("load run %s: %w", run.ID, err)
		}
		return current, nil
	}
	if err := e.events.ClearLastEvent(ctx, run.Channel); err != nil {
		e.logger.Warn("failed to clear cached event", zap.String("channel", run.Channel), zap.Error(err))
	}
	metrics.RunsTotal.WithLabelValues(string(run.Kind), string(model.RunPending)).Inc()

	e.logger.Info("failed workflow run reopened",
		zap.String("run_id", run.ID.String()),
		zap.String("failed_step", run.FailedStep),
		zap.Int("recorded_steps", len(run.Steps)),
	)
	run.Status = model.RunPending
	run.FailedStep = ""
	run.ErrorMessage = ""
	run.FinishedAt = nil
	return run, nil
}

func (e *Engine) start(ctx context.Context, kind model.WorkflowKind, input Input, runID uuid.UUID) (*model.WorkflowRun, bool, error) {
	def, ok := e.definitions[kind]
	if !ok {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if runID != uuid.Nil {
		existing, err := e.runs.GetRun(ctx, runID)
		switch {
		case err == nil:
			if existing.Kind != kind || existing.VideoID != input.VideoID || existing.RequesterID != input.UserID {
				return nil, false, ErrRunMismatch
			}
			return existing, false, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, false, fmt.Errorf("load run %s: %w", runID, err)
		}
	} else {
		runID = uuid.New()
	}

	video, err := e.videos.GetVideo(ctx, input.VideoID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, ErrVideoNotFound
		}
		return nil, false, fmt.Errorf("load video %s: %w", input.VideoID, err)
	}
	if video.OwnerID != input.UserID {
		return nil, false, ErrForbidden
	}

	run := &model.WorkflowRun{
		ID:          runID,
		Kind:        kind,
		VideoID:     video.ID,
		RequesterID: input.UserID,
		Prompt:      input.Prompt,
		Channel:     eventbus.ChannelName(video.ID.String(), def.Procedure),
		Status:      model.RunPending,
		StepNames:   def.StepNames(),
	}
	if err := e.runs.CreateRun(ctx, run); err != nil {
		return nil, false, fmt.Errorf("create run: %w", err)
	}
	if err := e.events.ClearLastEvent(ctx, run.Channel); err != nil {
		e.logger.Warn("failed to clear cached event", zap.String("channel", run.Channel), zap.Error(err))
	}
	metrics.RunsTotal.WithLabelValues(string(kind), string(model.RunPending)).Inc()

	e.logger.Info("workflow run created",
		zap.String("run_id", run.ID.String()),
		zap.String("kind", string(kind)),
		zap.String("video_id", video.ID.String()),
	)
	return run, true, nil
}

// Execute drives a run from its first unrecorded step to a terminal state. Step
// failures end the run through the failure hook and are not returned; the error
// result is reserved for conditions where the run should be retried later.
func (e *Engine) Execute(ctx context.Context, runID uuid.UUID) error {
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRunNotFound
		}
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	logger := e.logger.With(zap.String("run_id", run.ID.String()), zap.String("kind", string(run.Kind)))

	if run.Status == model.RunFailed {
		logger.Debug("run failed, waiting to be reopened")
		return nil
	}

	def, ok := e.definitions[run.Kind]
	if !ok {
		e.fail(ctx, logger, run, "", fmt.Errorf("%w: %q", ErrUnknownKind, run.Kind))
		return nil
	}

	decision, err := Plan(def, run, run.Steps)
	if err != nil {
		e.fail(ctx, logger, run, "", err)
		return nil
	}
	if decision.Complete {
		logger.Debug("run already terminal", zap.String("status", string(run.Status)))
		return nil
	}

	running, err := e.runs.MarkRunning(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	if !running {
		return nil
	}
	if run.Status == model.RunPending {
		metrics.RunsTotal.WithLabelValues(string(run.Kind), string(model.RunRunning)).Inc()
	}

	sc := &StepContext{
		RunID:   run.ID,
		Kind:    run.Kind,
		Input:   Input{VideoID: run.VideoID, UserID: run.RequesterID, Prompt: run.Prompt},
		results: make(map[string]json.RawMessage, len(def.Steps)),
	}
	for _, recorded := range run.Steps {
		sc.results[recorded.Name] = json.RawMessage(recorded.Output)
	}

	for position, step := range def.Steps {
		e.publish(ctx, logger, run, def.Procedure, eventbus.NewEvent(step.ID, run.ID.String()))

		if position < decision.ResumeAt {
			continue
		}

		if err := e.runs.Touch(ctx, run.ID); err != nil {
			logger.Warn("failed to record heartbeat", zap.Error(err))
		}

		output, err := e.runStep(ctx, run, step, sc)
		if err != nil {
			if ctx.Err() != nil {
				logger.Warn("run interrupted, leaving it for redelivery", zap.String("step", step.ID.String()))
				return ctx.Err()
			}
			e.fail(ctx, logger, run, step.ID.String(), err)
			return nil
		}
		sc.results[step.ID.String()] = output
	}

	finished, err := e.runs.Finish(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if !finished {
		logger.Warn("run was terminated before it could finish")
		return nil
	}
	metrics.RunsTotal.WithLabelValues(string(run.Kind), string(model.RunFinished)).Inc()

	event := eventbus.NewEvent(stage.Finished, run.ID.String())
	e.publish(ctx, logger, run, def.Procedure, event)
	if err := e.events.CacheLastEvent(ctx, run.Channel, event); err != nil {
		logger.Warn("failed to cache terminal event", zap.Error(err))
	}
	logger.Info("workflow run finished")
	return nil
}

func (e *Engine) runStep(ctx context.Context, run *model.WorkflowRun, step Step, sc *StepContext) (json.RawMessage, error) {
	started := e.now()
	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	value, err := step.Run(stepCtx, sc)
	outcome := "ok"
	defer func() {
		metrics.StepDuration.WithLabelValues(string(run.Kind), step.ID.String(), outcome).Observe(e.now().Sub(started).Seconds())
	}()
	if err != nil {
		outcome = "error"
		return nil, err
	}

	output, err := json.Marshal(value)
	if err != nil {
		outcome = "error"
		return nil, fmt.Errorf("encode %s result: %w", step.ID, err)
	}

	record := &model.WorkflowStep{
		ID:         uuid.New(),
		RunID:      run.ID,
		Name:       step.ID.String(),
		Position:   indexOf(run.StepNames, step.ID.String()),
		Output:     datatypes.JSON(output),
		StartedAt:  started,
		FinishedAt: e.now(),
	}
	stored, err := e.runs.RecordStep(ctx, record)
	if err != nil {
		outcome = "error"
		return nil, fmt.Errorf("record %s result: %w", step.ID, err)
	}
	if stored.ID != record.ID {
		// a concurrent execution recorded this step first; its result is the one later steps see
		outcome = "superseded"
		e.logger.Info("step already recorded, using stored result",
			zap.String("run_id", run.ID.String()),
			zap.String("step", step.ID.String()),
		)
	}
	return json.RawMessage(stored.Output), nil
}

// ForceFail ends a run that will never reach its own failure hook.
func (e *Engine) ForceFail(ctx context.Context, run *model.WorkflowRun, cause error) bool {
	logger := e.logger.With(zap.String("run_id", run.ID.String()), zap.String("kind", string(run.Kind)))
	return e.fail(ctx, logger, run, "", cause)
}

// fail is the single failure hook: it marks the run failed, then publishes and
// caches the Error event. Runs that are already terminal are left untouched.
func (e *Engine) fail(ctx context.Context, logger *zap.Logger, run *model.WorkflowRun, failedStep string, cause error) bool {
	failed, err := e.runs.Fail(ctx, run.ID, failedStep, cause.Error())
	if err != nil {
		logger.Error("failed to mark run failed", zap.Error(err), zap.NamedError("cause", cause))
		return false
	}
	if !failed {
		return false
	}
	metrics.RunsTotal.WithLabelValues(string(run.Kind), string(model.RunFailed)).Inc()

	procedure := eventbus.ProcedureAsset
	if def, ok := e.definitions[run.Kind]; ok {
		procedure = def.Procedure
	}
	event := eventbus.NewErrorEvent(run.ID.String(), cause)
	e.publish(ctx, logger, run, procedure, event)
	if err := e.events.CacheLastEvent(ctx, run.Channel, event); err != nil {
		logger.Warn("failed to cache terminal event", zap.Error(err))
	}
	logger.Warn("workflow run failed", zap.String("step", failedStep), zap.NamedError("cause", cause))
	return true
}

func (e *Engine) publish(ctx context.Context, logger *zap.Logger, run *model.WorkflowRun, procedure eventbus.Procedure, event eventbus.Event) {
	if err := e.events.Publish(ctx, run.Channel, event); err != nil {
		logger.Warn("failed to publish progress event", zap.String("stage", event.Stage.String()), zap.Error(err))
		return
	}
	metrics.EventsPublished.WithLabelValues(string(procedure), event.Stage.String()).Inc()
}

func indexOf(names []string, name string) int {
	for i, candidate := range names {
		if candidate == name {
			return i
		}
	}
	return -1
}
