package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotPlayable = errors.New("video has no playback id")

// AssetState is the transcoding lifecycle tracked from provider webhooks.
type AssetState string

const (
	AssetUnprocessed AssetState = "UNPROCESSED"
	AssetWaiting     AssetState = "WAITING"
	AssetProcessing  AssetState = "PROCESSING"
	AssetReady       AssetState = "READY"
	AssetErrored     AssetState = "ERRORED"
)

type TrackState string

const (
	TrackPending TrackState = "TRACK_PENDING"
	TrackReady   TrackState = "TRACK_READY"
)

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilityPublic
}

type Category struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name        string    `gorm:"uniqueIndex;not null"`
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Video struct {
	ID           uuid.UUID  `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OwnerID      string     `gorm:"not null;index:idx_videos_owner_updated,priority:1"`
	CategoryID   *uuid.UUID `gorm:"type:uuid"`
	Category     *Category  `gorm:"foreignKey:CategoryID;constraint:OnDelete:SET NULL"`
	Title        string     `gorm:"not null"`
	Description  string
	UploadID     *string    `gorm:"uniqueIndex"`
	AssetID      *string    `gorm:"uniqueIndex"`
	PlaybackID   *string    `gorm:"uniqueIndex"`
	TrackID      *string
	AssetStatus  string     `gorm:"type:varchar(50)"`
	AssetState   AssetState `gorm:"type:varchar(50);default:'UNPROCESSED';index"`
	TrackStatus  string     `gorm:"type:varchar(50)"`
	TrackState   TrackState `gorm:"type:varchar(50);default:'TRACK_PENDING'"`
	ThumbnailURL *string
	ThumbnailKey *string
	PreviewURL   *string
	DurationMs   int        `gorm:"default:0"`
	Visibility   Visibility `gorm:"type:varchar(20);default:'private';index"`
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time `gorm:"index:idx_videos_owner_updated,priority:2"`
}

// CanPublish reports whether the video may be made public.
func (v *Video) CanPublish() error {
	if v.PlaybackID == nil || *v.PlaybackID == "" {
		return ErrNotPlayable
	}
	return nil
}

func (v *Video) HasTranscriptSource() bool {
	return v.AssetID != nil && v.PlaybackID != nil && v.TrackID != nil && v.TrackState == TrackReady
}
