package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/eldercircle/eldercircle-billing/internal/billing"
	"github.com/eldercircle/eldercircle-billing/internal/logging"
	"github.com/eldercircle/eldercircle-billing/internal/store"
	"github.com/eldercircle/eldercircle-billing/internal/subscription"
	"github.com/gin-gonic/gin"
)

// maxWebhookBytes caps the webhook payload size.
const maxWebhookBytes = 1 << 20

// SignatureHeader carries the provider webhook signature.
const SignatureHeader = "Stripe-Signature"

// WebhookHandler receives billing provider events.
type WebhookHandler struct {
	provider billing.Provider
	service  *subscription.Service
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(provider billing.Provider, service *subscription.Service) *WebhookHandler {
	return &WebhookHandler{provider: provider, service: service}
}

// Receive verifies and applies one provider event. Events that cannot apply
// to any local account are acknowledged so the provider stops redelivering
// them; transient failures return 500 so it retries.
func (h *WebhookHandler) Receive(c *gin.Context) {
	if h.provider == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "billing is not configured", "code": subscription.CodeConfiguration})
		return
	}
	payload, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if errRead != nil {
		respondInvalid(c, "read body failed")
		return
	}
	event, errParse := h.provider.ParseWebhook(payload, c.GetHeader(SignatureHeader))
	if errParse != nil {
		if errors.Is(errParse, billing.ErrInvalidSignature) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid signature", "code": subscription.CodeInvalidRequest})
			return
		}
		if errors.Is(errParse, billing.ErrNotConfigured) {
			logging.Entry(c).WithError(errParse).Error("webhook: billing provider not configured")
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "billing is not configured", "code": subscription.CodeConfiguration})
			return
		}
		logging.Entry(c).WithError(errParse).Warn("webhook: parse failed")
		respondInvalid(c, "invalid payload")
		return
	}

	errReconcile := h.service.Reconcile(c.Request.Context(), event)
	switch {
	case errReconcile == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(errReconcile, store.ErrNotFound),
		errors.Is(errReconcile, subscription.ErrInvalidState),
		errors.Is(errReconcile, subscription.ErrInvalidTransition):
		logging.Entry(c).WithError(errReconcile).WithField("event_id", event.ID).Warn("webhook: event ignored")
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
	default:
		logging.Entry(c).WithError(errReconcile).WithField("event_id", event.ID).Error("webhook: reconcile failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "reconcile failed", "code": subscription.CodeInternal})
	}
}
