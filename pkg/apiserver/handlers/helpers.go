package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidflow/vidflow/pkg/asset"
	"github.com/vidflow/vidflow/pkg/model"
	"github.com/vidflow/vidflow/pkg/pagination"
	"github.com/vidflow/vidflow/pkg/store"
	"github.com/vidflow/vidflow/pkg/workflow"
)

const timeRFC3339Nano = time.RFC3339Nano

func formatTime(value *time.Time) *string {
	if value == nil {
		return nil
	}
	formatted := value.UTC().Format(timeRFC3339Nano)
	return &formatted
}

func parseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// parsePage reads the cursor and limit query parameters.
func parsePage(c *gin.Context) (*pagination.Cursor, int, bool) {
	limit, err := pagination.ParseLimit(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, 0, false
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, 0, false
	}
	return cursor, limit, true
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, workflow.ErrUnknownKind), errors.Is(err, asset.ErrInvalidVisibility),
		errors.Is(err, pagination.ErrInvalidCursor), errors.Is(err, pagination.ErrInvalidLimit):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, workflow.ErrForbidden), errors.Is(err, asset.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, workflow.ErrVideoNotFound), errors.Is(err, asset.ErrVideoNotFound):
		return http.StatusNotFound, "video not found"
	case errors.Is(err, workflow.ErrRunNotFound):
		return http.StatusNotFound, "run not found"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, workflow.ErrRunMismatch):
		return http.StatusConflict, err.Error()
	case errors.Is(err, model.ErrNotPlayable):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(c *gin.Context, logger *zap.Logger, action string, err error) {
	code, message := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger.Error("failed to "+action, zap.Error(err))
	}
	c.JSON(code, gin.H{"error": message})
}
