// Package workflowtest provides in-memory stores for exercising workflows without Postgres.
package workflowtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vidflow/vidflow/pkg/model"
	"github.com/vidflow/vidflow/pkg/pagination"
	"github.com/vidflow/vidflow/pkg/store"
)

type RunStore struct {
	mu     sync.Mutex
	runs   map[uuid.UUID]model.WorkflowRun
	steps  map[uuid.UUID]map[string]model.WorkflowStep
	events []model.RunEvent
	Now    func() time.Time
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs:  make(map[uuid.UUID]model.WorkflowRun),
		steps: make(map[uuid.UUID]map[string]model.WorkflowStep),
		Now:   time.Now,
	}
}

func (s *RunStore) CreateRun(ctx context.Context, run *model.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	run.CreatedAt = now
	run.UpdatedAt = now
	stored := *run
	stored.Steps = nil
	s.runs[run.ID] = stored
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (*model.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, step := range s.steps[id] {
		run.Steps = append(run.Steps, step)
	}
	sort.Slice(run.Steps, func(i, j int) bool { return run.Steps[i].Position < run.Steps[j].Position })
	return &run, nil
}

func (s *RunStore) RecordStep(ctx context.Context, step *model.WorkflowStep) (*model.WorkflowStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.steps[step.RunID] == nil {
		s.steps[step.RunID] = make(map[string]model.WorkflowStep)
	}
	if existing, exists := s.steps[step.RunID][step.Name]; exists {
		return &existing, nil
	}
	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	}
	s.steps[step.RunID][step.Name] = *step
	stored := *step
	return &stored, nil
}

func (s *RunStore) MarkRunning(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status.Terminal() {
		return false, nil
	}
	now := s.Now()
	run.Status = model.RunRunning
	run.Attempts++
	if run.StartedAt == nil {
		run.StartedAt = &now
	}
	run.UpdatedAt = now
	s.runs[id] = run
	return true, nil
}

func (s *RunStore) Reopen(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status != model.RunFailed {
		return false, nil
	}
	run.Status = model.RunPending
	run.FailedStep = ""
	run.ErrorMessage = ""
	run.FinishedAt = nil
	run.UpdatedAt = s.Now()
	s.runs[id] = run
	return true, nil
}

func (s *RunStore) Touch(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok && run.Status == model.RunRunning {
		run.UpdatedAt = s.Now()
		s.runs[id] = run
	}
	return nil
}

func (s *RunStore) Finish(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.terminate(id, func(run *model.WorkflowRun) bool {
		if run.Status != model.RunRunning {
			return false
		}
		run.Status = model.RunFinished
		return true
	})
}

func (s *RunStore) Fail(ctx context.Context, id uuid.UUID, failedStep, message string) (bool, error) {
	return s.terminate(id, func(run *model.WorkflowRun) bool {
		if run.Status.Terminal() {
			return false
		}
		run.Status = model.RunFailed
		run.FailedStep = failedStep
		run.ErrorMessage = message
		return true
	})
}

func (s *RunStore) terminate(id uuid.UUID, apply func(*model.WorkflowRun) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || !apply(&run) {
		return false, nil
	}
	now := s.Now()
	run.FinishedAt = &now
	run.UpdatedAt = now
	s.runs[id] = run
	s.events = append(s.events, *model.NewRunEvent(&run))
	return true, nil
}

func (s *RunStore) ListStalled(ctx context.Context, before time.Time, limit int) ([]model.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stalled []model.WorkflowRun
	for _, run := range s.runs {
		if run.Status == model.RunRunning && run.UpdatedAt.Before(before) {
			stalled = append(stalled, run)
		}
	}
	sort.Slice(stalled, func(i, j int) bool { return stalled[i].UpdatedAt.Before(stalled[j].UpdatedAt) })
	if len(stalled) > limit {
		stalled = stalled[:limit]
	}
	return stalled, nil
}

// SetStatus forces a run's status and heartbeat, for simulating crashed executors.
func (s *RunStore) SetStatus(id uuid.UUID, status model.RunStatus, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[id]
	run.Status = status
	run.UpdatedAt = updatedAt
	s.runs[id] = run
}

// OutboxEvents returns the run_events rows written so far.
func (s *RunStore) OutboxEvents() []model.RunEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.RunEvent(nil), s.events...)
}

type VideoStore struct {
	mu     sync.Mutex
	videos map[uuid.UUID]model.Video
}

func NewVideoStore(videos ...model.Video) *VideoStore {
	s := &VideoStore{videos: make(map[uuid.UUID]model.Video)}
	for _, video := range videos {
		s.videos[video.ID] = video
	}
	return s
}

func (s *VideoStore) Create(ctx context.Context, video *model.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if video.ID == uuid.Nil {
		video.ID = uuid.New()
	}
	now := time.Now()
	video.CreatedAt = now
	video.UpdatedAt = now
	s.videos[video.ID] = *video
	return nil
}

func (s *VideoStore) GetVideo(ctx context.Context, id uuid.UUID) (*model.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.videos[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &video, nil
}

func (s *VideoStore) find(match func(model.Video) bool) (*model.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, video := range s.videos {
		if match(video) {
			v := video
			return &v, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *VideoStore) FindByUploadID(ctx context.Context, uploadID string) (*model.Video, error) {
	return s.find(func(v model.Video) bool { return v.UploadID != nil && *v.UploadID == uploadID })
}

func (s *VideoStore) FindByAssetID(ctx context.Context, assetID string) (*model.Video, error) {
	return s.find(func(v model.Video) bool { return v.AssetID != nil && *v.AssetID == assetID })
}

func (s *VideoStore) mutate(id uuid.UUID, apply func(*model.Video)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.videos[id]
	if !ok {
		return store.ErrNotFound
	}
	apply(&video)
	video.UpdatedAt = time.Now()
	s.videos[id] = video
	return nil
}

// Update applies the column updates the asset service issues.
func (s *VideoStore) Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	return s.mutate(id, func(v *model.Video) {
		for column, value := range updates {
			applyColumn(v, column, value)
		}
	})
}

func (s *VideoStore) AdoptThumbnail(ctx context.Context, id uuid.UUID, url string) (bool, error) {
	adopted := false
	err := s.mutate(id, func(v *model.Video) {
		if v.ThumbnailURL == nil {
			v.ThumbnailURL = &url
			adopted = true
		}
	})
	return adopted, err
}

func (s *VideoStore) SetThumbnail(ctx context.Context, id uuid.UUID, url, key string) error {
	return s.mutate(id, func(v *model.Video) {
		v.ThumbnailURL = &url
		v.ThumbnailKey = &key
	})
}

func (s *VideoStore) ClearThumbnail(ctx context.Context, id uuid.UUID) error {
	return s.mutate(id, func(v *model.Video) {
		v.ThumbnailURL = nil
		v.ThumbnailKey = nil
	})
}

func (s *VideoStore) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	return s.mutate(id, func(v *model.Video) { v.Title = title })
}

func (s *VideoStore) SetDescription(ctx context.Context, id uuid.UUID, description string) error {
	return s.mutate(id, func(v *model.Video) { v.Description = description })
}

func (s *VideoStore) SetVisibility(ctx context.Context, id uuid.UUID, visibility model.Visibility) error {
	return s.mutate(id, func(v *model.Video) { v.Visibility = visibility })
}

func applyColumn(v *model.Video, column string, value interface{}) {
	str := func() *string {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		return &s
	}
	switch column {
	case "upload_id":
		v.UploadID = str()
	case "asset_id":
		v.AssetID = str()
	case "playback_id":
		v.PlaybackID = str()
	case "track_id":
		v.TrackID = str()
	case "asset_status":
		v.AssetStatus, _ = value.(string)
	case "asset_state":
		v.AssetState, _ = value.(model.AssetState)
	case "track_status":
		v.TrackStatus, _ = value.(string)
	case "track_state":
		v.TrackState, _ = value.(model.TrackState)
	case "preview_url":
		v.PreviewURL = str()
	case "duration_ms":
		v.DurationMs, _ = value.(int)
	case "error_message":
		v.ErrorMessage, _ = value.(string)
	}
}

func (s *RunStore) ListByVideo(ctx context.Context, videoID uuid.UUID, cursor *pagination.Cursor, limit int) (pagination.Page[model.WorkflowRun], error) {
	s.mu.Lock()
	var rows []model.WorkflowRun
	for _, run := range s.runs {
		if run.VideoID == videoID && pagination.Before(run.CreatedAt, run.ID.String(), cursor) {
			rows = append(rows, run)
		}
	}
	s.mu.Unlock()
	return page(rows, limit, func(r model.WorkflowRun) pagination.Cursor {
		return pagination.Cursor{PrimaryKey: r.CreatedAt, ID: r.ID.String()}
	}), nil
}

func (s *VideoStore) ListByOwner(ctx context.Context, ownerID string, cursor *pagination.Cursor, limit int) (pagination.Page[model.Video], error) {
	return s.list(cursor, limit, func(v model.Video) bool { return v.OwnerID == ownerID }), nil
}

func (s *VideoStore) ListPublic(ctx context.Context, cursor *pagination.Cursor, limit int) (pagination.Page[model.Video], error) {
	return s.list(cursor, limit, func(v model.Video) bool { return v.Visibility == model.VisibilityPublic }), nil
}

func (s *VideoStore) list(cursor *pagination.Cursor, limit int, match func(model.Video) bool) pagination.Page[model.Video] {
	s.mu.Lock()
	var rows []model.Video
	for _, video := range s.videos {
		if match(video) && pagination.Before(video.UpdatedAt, video.ID.String(), cursor) {
			rows = append(rows, video)
		}
	}
	s.mu.Unlock()
	return page(rows, limit, func(v model.Video) pagination.Cursor {
		return pagination.Cursor{PrimaryKey: v.UpdatedAt, ID: v.ID.String()}
	})
}

// page mirrors the SQL keyset query: (key desc, id desc), limit+1 rows.
func page[T any](rows []T, limit int, key func(T) pagination.Cursor) pagination.Page[T] {
	sort.Slice(rows, func(i, j int) bool {
		a, b := key(rows[i]), key(rows[j])
		if !a.PrimaryKey.Equal(b.PrimaryKey) {
			return a.PrimaryKey.After(b.PrimaryKey)
		}
		return a.ID > b.ID
	})
	if len(rows) > limit+1 {
		rows = rows[:limit+1]
	}
	return pagination.Finalize(rows, limit, key)
}
