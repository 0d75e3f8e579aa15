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
	"github.com/vidflow/vidflow/pkg/workflow"
)

type RunReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (*model.WorkflowRun, error)
	ListByVideo(ctx context.Context, videoID uuid.UUID, cursor *pagination.Cursor, limit int) (pagination.Page[model.WorkflowRun], error)
}

type Launcher interface {
	Trigger(ctx context.Context, kind model.WorkflowKind, input workflow.Input, runID uuid.UUID) (*model.WorkflowRun, error)
}

type WorkflowHandler struct {
	launcher Launcher
	runs     RunReader
	videos   VideoReader
	logger   *zap.Logger
}

func NewWorkflowHandler(launcher Launcher, runs RunReader, videos VideoReader, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{launcher: launcher, runs: runs, videos: videos, logger: logger}
}

type triggerRequest struct {
	VideoID string `json:"videoId" binding:"required,uuid"`
	UserID  string `json:"userId"`
	Prompt  string `json:"prompt" binding:"max=2000"`
	RunID   string `json:"runId" binding:"omitempty,uuid"`
}

// Trigger starts a generation workflow and returns before it runs.
func (h *WorkflowHandler) Trigger(c *gin.Context) {
	kind := model.WorkflowKind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown workflow kind"})
		return
	}

	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	if req.UserID != "" && req.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	input := workflow.Input{
		VideoID: uuid.MustParse(req.VideoID),
		UserID:  userID,
		Prompt:  req.Prompt,
	}
	runID := uuid.Nil
	if req.RunID != "" {
		runID = uuid.MustParse(req.RunID)
	}

	run, err := h.launcher.Trigger(c.Request.Context(), kind, input, runID)
	if err != nil {
		writeError(c, h.logger, "trigger workflow", err)
		return
	}

	h.logger.Info("workflow triggered",
		zap.String("run_id", run.ID.String()),
		zap.String("kind", string(kind)),
		zap.String("video_id", input.VideoID.String()),
	)
	c.JSON(http.StatusAccepted, gin.H{
		"runId":   run.ID.String(),
		"channel": run.Channel,
		"status":  string(run.Status),
	})
}

func (h *WorkflowHandler) GetRun(c *gin.Context) {
	runID, ok := parseID(c, "id")
	if !ok {
		return
	}
	run, err := h.runs.GetRun(c.Request.Context(), runID)
	if err != nil {
		writeError(c, h.logger, "get run", err)
		return
	}
	if run.RequesterID != middleware.UserID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, mapRun(run))
}

// ListRuns returns a video's runs, newest first.
func (h *WorkflowHandler) ListRuns(c *gin.Context) {
	videoID, ok := parseID(c, "id")
	if !ok {
		return
	}
	cursor, limit, ok := parsePage(c)
	if !ok {
		return
	}

	video, err := h.videos.GetVideo(c.Request.Context(), videoID)
	if err != nil {
		writeError(c, h.logger, "get video", err)
		return
	}
	if video.OwnerID != middleware.UserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	page, err := h.runs.ListByVideo(c.Request.Context(), videoID, cursor, limit)
	if err != nil {
		writeError(c, h.logger, "list runs", err)
		return
	}
	c.JSON(http.StatusOK, mapPage(page, mapRun))
}
