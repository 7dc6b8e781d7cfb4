package webhook

import (
	"context"
	"errors"
	"net/http"

	"b24_case_sync/internal/router"
	"b24_case_sync/platform/httpkit"
	"b24_case_sync/platform/logger"

	"github.com/gin-gonic/gin"
)

// Publisher hands an envelope to the queue transport.
type Publisher interface {
	EnqueueEvent(ctx context.Context, env *router.Envelope) error
}

// Handler serves the webhook ingress endpoints.
type Handler struct {
	extractor *Extractor
	publisher Publisher
	log       *logger.Logger
}

// NewHandler creates the webhook handler.
func NewHandler(extractor *Extractor, publisher Publisher, log *logger.Logger) *Handler {
	return &Handler{extractor: extractor, publisher: publisher, log: log}
}

// RegisterRoutes mounts the ingress endpoints on the gin engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/webhook/b24", h.handleWebhook)
	r.GET("/healthz", h.handleHealth)
}

// handleWebhook accepts one portal event, normalizes it and enqueues it.
// The 202 goes out as soon as the event is durably queued; the portal
// retries on anything else and drops handlers that answer slowly.
func (h *Handler) handleWebhook(c *gin.Context) {
	log := h.log.WithContext(c.Request.Context())

	env, err := h.extractor.FromRequest(c.Request)
	if err != nil {
		log.Warn("rejected webhook request", "error", err)
		if errors.Is(err, ErrInvalidAppToken) {
			httpkit.Error(c, http.StatusUnauthorized, "invalid application token", nil)
			return
		}
		httpkit.HandleError(c, err)
		return
	}

	if err := h.publisher.EnqueueEvent(c.Request.Context(), env); err != nil {
		log.Error("failed to enqueue event",
			"action", env.Action,
			"collection_type", env.CollectionType,
			"error", err,
		)
		httpkit.Error(c, http.StatusServiceUnavailable, "failed to enqueue event", nil)
		return
	}

	log.Info("event accepted",
		"action", env.Action,
		"collection_type", env.CollectionType,
		"record_id", env.RecordID,
		"correlation_id", env.CorrelationID,
	)
	httpkit.Accepted(c, gin.H{"status": "queued", "correlationId": env.CorrelationID})
}

// handleHealth reports liveness.
func (h *Handler) handleHealth(c *gin.Context) {
	httpkit.OK(c, gin.H{"status": "ok"})
}
