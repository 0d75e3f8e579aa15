package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vidflow/vidflow/pkg/asset"
	"github.com/vidflow/vidflow/pkg/metrics"
	"github.com/vidflow/vidflow/pkg/mux"
)

const maxWebhookBody = 1 << 20

type SignatureVerifier interface {
	Verify(header string, body []byte) error
}

type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, event *mux.Event) (asset.Outcome, error)
}

type WebhookHandler struct {
	verifier  SignatureVerifier
	processor WebhookProcessor
	logger    *zap.Logger
}

func NewWebhookHandler(verifier SignatureVerifier, processor WebhookProcessor, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, processor: processor, logger: logger}
}

// Mux accepts provider webhooks. Anything other than 2xx makes the provider redeliver.
func (h *WebhookHandler) Mux(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if err := h.verifier.Verify(c.GetHeader(mux.SignatureHeader), body); err != nil {
		metrics.WebhooksTotal.WithLabelValues("unknown", "rejected").Inc()
		h.logger.Warn("rejected webhook", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	event, err := mux.ParseEvent(body)
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues("unknown", "malformed").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.processor.HandleWebhook(c.Request.Context(), event)
	if err != nil {
		if errors.Is(err, asset.ErrVideoNotFound) {
			metrics.WebhooksTotal.WithLabelValues(event.Type, "unknown_video").Inc()
			c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
			return
		}
		metrics.WebhooksTotal.WithLabelValues(event.Type, "error").Inc()
		h.logger.Error("failed to apply webhook", zap.String("type", event.Type), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply event"})
		return
	}

	metrics.WebhooksTotal.WithLabelValues(event.Type, outcome.String()).Inc()
	c.JSON(http.StatusOK, gin.H{"outcome": outcome.String()})
}
