package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vidflow/vidflow/pkg/model"
	"github.com/vidflow/vidflow/pkg/pagination"
)

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) CreateRun(ctx context.Context, run *model.WorkflowRun) error {
	return r.db.WithContext(ctx).Omit("Steps", "Video").Create(run).Error
}

func (r *RunRepository) GetRun(ctx context.Context, id uuid.UUID) (*model.WorkflowRun, error) {
	var run model.WorkflowRun
	err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&run, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}

// RecordStep inserts a step result. An existing row for the same run and name
// wins and is returned instead.
func (r *RunRepository) RecordStep(ctx context.Context, step *model.WorkflowStep) (*model.WorkflowStep, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "name"}},
			DoNothing: true,
		}).
		Create(step)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected > 0 {
		return step, nil
	}

	var stored model.WorkflowStep
	if err := r.db.WithContext(ctx).First(&stored, "run_id = ? AND name = ?", step.RunID, step.Name).Error; err != nil {
		return nil, notFound(err)
	}
	return &stored, nil
}

func (r *RunRepository) MarkRunning(ctx context.Context, id uuid.UUID) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&model.WorkflowRun{}).
		Where("id = ? AND status IN ?", id, []model.RunStatus{model.RunPending, model.RunRunning}).
		Updates(map[string]interface{}{
			"status":     model.RunRunning,
			"attempts":   gorm.Expr("attempts + 1"),
			"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
			"updated_at": now,
		})
	return result.RowsAffected > 0, result.Error
}

// Reopen moves a failed run back to PENDING so it can be dispatched again.
// Recorded steps are kept.
func (r *RunRepository) Reopen(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.WorkflowRun{}).
		Where("id = ? AND status = ?", id, model.RunFailed).
		Updates(map[string]interface{}{
			"status":        model.RunPending,
			"failed_step":   "",
			"error_message": "",
			"finished_at":   nil,
			"updated_at":    time.Now(),
		})
	return result.RowsAffected > 0, result.Error
}

func (r *RunRepository) Touch(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&model.WorkflowRun{}).
		Where("id = ? AND status = ?", id, model.RunRunning).
		Update("updated_at", time.Now()).Error
}

// Finish moves a running run to FINISHED and writes its outbox row. It reports
// false when the run was no longer running.
func (r *RunRepository) Finish(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.terminate(ctx, id, []model.RunStatus{model.RunRunning}, map[string]interface{}{
		"status": model.RunFinished,
	})
}

// Fail moves a non-terminal run to FAILED and writes its outbox row.
func (r *RunRepository) Fail(ctx context.Context, id uuid.UUID, failedStep, message string) (bool, error) {
	return r.terminate(ctx, id, []model.RunStatus{model.RunPending, model.RunRunning}, map[string]interface{}{
		"status":        model.RunFailed,
		"failed_step":   failedStep,
		"error_message": message,
	})
}

func (r *RunRepository) terminate(ctx context.Context, id uuid.UUID, from []model.RunStatus, updates map[string]interface{}) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		updates["finished_at"] = now
		updates["updated_at"] = now

		result := tx.Model(&model.WorkflowRun{}).
			Where("id = ? AND status IN ?", id, from).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		var run model.WorkflowRun
		if err := tx.First(&run, "id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Create(model.NewRunEvent(&run)).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func (r *RunRepository) ListStalled(ctx context.Context, before time.Time, limit int) ([]model.WorkflowRun, error) {
	var runs []model.WorkflowRun
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.RunRunning, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

func (r *RunRepository) ListByVideo(ctx context.Context, videoID uuid.UUID, cursor *pagination.Cursor, limit int) (pagination.Page[model.WorkflowRun], error) {
	var runs []model.WorkflowRun
	err := r.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Scopes(pagination.Scope("created_at", "id", cursor, limit)).
		Find(&runs).Error
	if err != nil {
		return pagination.Page[model.WorkflowRun]{}, err
	}
	return pagination.Finalize(runs, limit, func(run model.WorkflowRun) pagination.Cursor {
		return pagination.Cursor{PrimaryKey: run.CreatedAt, ID: run.ID.String()}
	}), nil
}
