package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vidflow/vidflow/pkg/model"
	"github.com/vidflow/vidflow/pkg/pagination"
)

type VideoRepository struct {
	db *gorm.DB
}

func NewVideoRepository(db *gorm.DB) *VideoRepository {
	return &VideoRepository{db: db}
}

func (r *VideoRepository) Create(ctx context.Context, video *model.Video) error {
	return r.db.WithContext(ctx).Create(video).Error
}

func (r *VideoRepository) GetVideo(ctx context.Context, id uuid.UUID) (*model.Video, error) {
	var video model.Video
	err := r.db.WithContext(ctx).
		Preload("Category").
		First(&video, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &video, nil
}

func (r *VideoRepository) FindByUploadID(ctx context.Context, uploadID string) (*model.Video, error) {
	var video model.Video
	if err := r.db.WithContext(ctx).First(&video, "upload_id = ?", uploadID).Error; err != nil {
		return nil, notFound(err)
	}
	return &video, nil
}

func (r *VideoRepository) FindByAssetID(ctx context.Context, assetID string) (*model.Video, error) {
	var video model.Video
	if err := r.db.WithContext(ctx).First(&video, "asset_id = ?", assetID).Error; err != nil {
		return nil, notFound(err)
	}
	return &video, nil
}

func (r *VideoRepository) Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	result := r.db.WithContext(ctx).Model(&model.Video{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound)
	}
	return nil
}

// AdoptThumbnail sets the provider default thumbnail only when none has been set.
func (r *VideoRepository) AdoptThumbnail(ctx context.Context, id uuid.UUID, url string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Video{}).
		Where("id = ? AND thumbnail_url IS NULL", id).
		Updates(map[string]interface{}{
			"thumbnail_url": url,
			"updated_at":    time.Now(),
		})
	return result.RowsAffected > 0, result.Error
}

func (r *VideoRepository) SetThumbnail(ctx context.Context, id uuid.UUID, url, key string) error {
	return r.Update(ctx, id, map[string]interface{}{
		"thumbnail_url": url,
		"thumbnail_key": key,
	})
}

func (r *VideoRepository) ClearThumbnail(ctx context.Context, id uuid.UUID) error {
	return r.Update(ctx, id, map[string]interface{}{
		"thumbnail_url": gorm.Expr("NULL"),
		"thumbnail_key": gorm.Expr("NULL"),
	})
}

func (r *VideoRepository) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	return r.Update(ctx, id, map[string]interface{}{"title": title})
}

func (r *VideoRepository) SetDescription(ctx context.Context, id uuid.UUID, description string) error {
	return r.Update(ctx, id, map[string]interface{}{"description": description})
}

func (r *VideoRepository) SetVisibility(ctx context.Context, id uuid.UUID, visibility model.Visibility) error {
	return r.Update(ctx, id, map[string]interface{}{"visibility": visibility})
}

func (r *VideoRepository) ListByOwner(ctx context.Context, ownerID string, cursor *pagination.Cursor, limit int) (pagination.Page[model.Video], error) {
	var videos []model.Video
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Scopes(pagination.Scope("updated_at", "id", cursor, limit)).
		Find(&videos).Error
	if err != nil {
		return pagination.Page[model.Video]{}, err
	}
	return pagination.Finalize(videos, limit, videoCursor), nil
}

func (r *VideoRepository) ListPublic(ctx context.Context, cursor *pagination.Cursor, limit int) (pagination.Page[model.Video], error) {
	var videos []model.Video
	err := r.db.WithContext(ctx).
		Where("visibility = ?", model.VisibilityPublic).
		Scopes(pagination.Scope("updated_at", "id", cursor, limit)).
		Find(&videos).Error
	if err != nil {
		return pagination.Page[model.Video]{}, err
	}
	return pagination.Finalize(videos, limit, videoCursor), nil
}

func videoCursor(v model.Video) pagination.Cursor {
	return pagination.Cursor{PrimaryKey: v.UpdatedAt, ID: v.ID.String()}
}
