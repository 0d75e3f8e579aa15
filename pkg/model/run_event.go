package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	OutboxStatusPending   = "pending"
	OutboxStatusPublished = "published"
	OutboxStatusFailed    = "failed"
)

const (
	RunEventFinished = "run_finished"
	RunEventFailed   = "run_failed"
)

// RunEvent is an outbox row written in the same transaction as a run's terminal transition.
type RunEvent struct {
	EventID     uuid.UUID         `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	EventType   string            `gorm:"not null"`
	RunID       uuid.UUID         `gorm:"type:uuid;not null;index"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb;not null"`
	Status      string            `gorm:"not null;default:'pending';index"`
	CreatedAt   time.Time         `gorm:"autoCreateTime;not null"`
	PublishedAt *time.Time
}

func (RunEvent) TableName() string {
	return "run_events"
}

func NewRunEvent(run *WorkflowRun) *RunEvent {
	eventType := RunEventFinished
	if run.Status == RunFailed {
		eventType = RunEventFailed
	}
	payload := datatypes.JSONMap{
		"run_id":   run.ID.String(),
		"kind":     string(run.Kind),
		"video_id": run.VideoID.String(),
		"status":   string(run.Status),
		"channel":  run.Channel,
	}
	if run.ErrorMessage != "" {
		payload["error_message"] = run.ErrorMessage
	}
	if run.FailedStep != "" {
		payload["failed_step"] = run.FailedStep
	}
	return &RunEvent{
		EventID:   uuid.New(),
		EventType: eventType,
		RunID:     run.ID,
		Payload:   payload,
		Status:    OutboxStatusPending,
	}
}
