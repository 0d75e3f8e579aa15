package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

type WorkflowKind string

const (
	KindTitle       WorkflowKind = "title"
	KindDescription WorkflowKind = "description"
	KindThumbnail   WorkflowKind = "thumbnail"
)

func (k WorkflowKind) Valid() bool {
	switch k {
	case KindTitle, KindDescription, KindThumbnail:
		return true
	default:
		return false
	}
}

type RunStatus string

const (
	RunPending  RunStatus = "PENDING"
	RunRunning  RunStatus = "RUNNING"
	RunFinished RunStatus = "FINISHED"
	RunFailed   RunStatus = "FAILED"
)

func (s RunStatus) Terminal() bool {
	return s == RunFinished || s == RunFailed
}

type WorkflowRun struct {
	ID           uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Kind         WorkflowKind   `gorm:"type:varchar(32);not null;index"`
	VideoID      uuid.UUID      `gorm:"type:uuid;not null;index:idx_runs_video_created,priority:1"`
	Video        *Video         `gorm:"foreignKey:VideoID;constraint:OnDelete:CASCADE"`
	RequesterID  string         `gorm:"not null"`
	Prompt       string         `gorm:"type:text"`
	Channel      string         `gorm:"not null"`
	Status       RunStatus      `gorm:"type:varchar(20);default:'PENDING';index"`
	StepNames    pq.StringArray `gorm:"type:text[]"`
	ErrorMessage string         `gorm:"type:text"`
	FailedStep   string
	Attempts     int `gorm:"default:0"`
	StartedAt    *time.Time
	FinishedAt   *time.Time
	Steps        []WorkflowStep `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time      `gorm:"index:idx_runs_video_created,priority:2"`
	UpdatedAt    time.Time      `gorm:"index"`
}

// WorkflowStep is the memoized result of one named step. Rows are insert-only.
type WorkflowStep struct {
	ID         uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	RunID      uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_run_step"`
	Name       string         `gorm:"not null;uniqueIndex:idx_run_step"`
	Position   int            `gorm:"not null"`
	Output     datatypes.JSON `gorm:"type:jsonb"`
	StartedAt  time.Time
	FinishedAt time.Time
}
