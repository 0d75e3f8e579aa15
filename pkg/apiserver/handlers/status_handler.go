package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vidflow/vidflow/pkg/apiserver/middleware"
	"github.com/vidflow/vidflow/pkg/eventbus"
	"github.com/vidflow/vidflow/pkg/livestatus"
	"github.com/vidflow/vidflow/pkg/model"
)

type StatusObserver interface {
	Observe(ctx context.Context, entityID string, procedure eventbus.Procedure) (<-chan livestatus.Status, error)
}

type StatusHandler struct {
	observer  StatusObserver
	videos    VideoReader
	heartbeat time.Duration
	logger    *zap.Logger
}

func NewStatusHandler(observer StatusObserver, videos VideoReader, heartbeat time.Duration, logger *zap.Logger) *StatusHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &StatusHandler{observer: observer, videos: videos, heartbeat: heartbeat, logger: logger}
}

// Stream relays a video's live status over server-sent events until a
// terminal status or client disconnect.
func (h *StatusHandler) Stream(c *gin.Context) {
	videoID, ok := parseID(c, "id")
	if !ok {
		return
	}
	procedure := eventbus.Procedure(c.Param("procedure"))
	if !procedure.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown procedure"})
		return
	}

	ctx := c.Request.Context()
	video, err := h.videos.GetVideo(ctx, videoID)
	if err != nil {
		writeError(c, h.logger, "get video", err)
		return
	}
	if video.OwnerID != middleware.UserID(c) && video.Visibility != model.VisibilityPublic {
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return
	}

	statuses, err := h.observer.Observe(ctx, videoID.String(), procedure)
	if err != nil {
		writeError(c, h.logger, "observe status", err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Writer.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			c.Writer.Flush()
		case status, ok := <-statuses:
			if !ok {
				return
			}
			c.SSEvent("status", status)
			c.Writer.Flush()
		}
	}
}
