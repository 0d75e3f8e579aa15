package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidflow/vidflow/pkg/apiserver/middleware"
	"github.com/vidflow/vidflow/pkg/model"
	"github.com/vidflow/vidflow/pkg/pagination"
)

type VideoReader interface {
	GetVideo(ctx context.Context, id uuid.UUID) (*model.Video, error)
	ListByOwner(ctx context.Context, ownerID string, cursor *pagination.Cursor, limit int) (pagination.Page[model.Video], error)
	ListPublic(ctx context.Context, cursor *pagination.Cursor, limit int) (pagination.Page[model.Video], error)
}

type VideoService interface {
	CreateUpload(ctx context.Context, ownerID, title string, categoryID *uuid.UUID) (*model.Video, string, error)
	SetVisibility(ctx context.Context, videoID uuid.UUID, userID string, visibility model.Visibility) (*model.Video, error)
}

type VideoHandler struct {
	videos  VideoReader
	service VideoService
	logger  *zap.Logger
}

func NewVideoHandler(videos VideoReader, service VideoService, logger *zap.Logger) *VideoHandler {
	return &VideoHandler{videos: videos, service: service, logger: logger}
}

type videoCreateRequest struct {
	Title      string `json:"title" binding:"max=200"`
	CategoryID string `json:"categoryId" binding:"omitempty,uuid"`
}

type visibilityRequest struct {
	Visibility string `json:"visibility" binding:"required"`
}

func (h *VideoHandler) Create(c *gin.Context) {
	var req videoCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	var categoryID *uuid.UUID
	if req.CategoryID != "" {
		parsed := uuid.MustParse(req.CategoryID)
		categoryID = &parsed
	}

	video, uploadURL, err := h.service.CreateUpload(c.Request.Context(), middleware.UserID(c), req.Title, categoryID)
	if err != nil {
		writeError(c, h.logger, "create upload", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"video":     mapVideo(video),
		"uploadUrl": uploadURL,
	})
}

func (h *VideoHandler) Get(c *gin.Context) {
	videoID, ok := parseID(c, "id")
	if !ok {
		return
	}
	video, err := h.videos.GetVideo(c.Request.Context(), videoID)
	if err != nil {
		writeError(c, h.logger, "get video", err)
		return
	}
	if video.OwnerID != middleware.UserID(c) && video.Visibility != model.VisibilityPublic {
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return
	}
	c.JSON(http.StatusOK, mapVideo(video))
}

// List returns the caller's videos, most recently updated first.
func (h *VideoHandler) List(c *gin.Context) {
	cursor, limit, ok := parsePage(c)
	if !ok {
		return
	}
	page, err := h.videos.ListByOwner(c.Request.Context(), middleware.UserID(c), cursor, limit)
	if err != nil {
		writeError(c, h.logger, "list videos", err)
		return
	}
	c.JSON(http.StatusOK, mapPage(page, mapVideo))
}

// Feed returns public videos, most recently updated first.
func (h *VideoHandler) Feed(c *gin.Context) {
	cursor, limit, ok := parsePage(c)
	if !ok {
		return
	}
	page, err := h.videos.ListPublic(c.Request.Context(), cursor, limit)
	if err != nil {
		writeError(c, h.logger, "list feed", err)
		return
	}
	c.JSON(http.StatusOK, mapPage(page, mapVideo))
}

func (h *VideoHandler) SetVisibility(c *gin.Context) {
	videoID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	video, err := h.service.SetVisibility(c.Request.Context(), videoID, middleware.UserID(c), model.Visibility(req.Visibility))
	if err != nil {
		writeError(c, h.logger, "set visibility", err)
		return
	}
	c.JSON(http.StatusOK, mapVideo(video))
}
