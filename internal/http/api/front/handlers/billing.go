package handlers

import (
	"net/http"

	"github.com/eldercircle/eldercircle-billing/internal/plans"
	"github.com/eldercircle/eldercircle-billing/internal/subscription"
	"github.com/gin-gonic/gin"
)

// BillingFrontHandler serves the plan lifecycle endpoints for signed-in users.
type BillingFrontHandler struct {
	service *subscription.Service
}

// NewBillingFrontHandler constructs a BillingFrontHandler.
func NewBillingFrontHandler(service *subscription.Service) *BillingFrontHandler {
	return &BillingFrontHandler{service: service}
}

// tierRequest is the body of tier-taking endpoints.
type tierRequest struct {
	UserID string `json:"userId"`
	Tier   string `json:"tier"`
}

// accountRequest is the body of endpoints that only identify the account.
type accountRequest struct {
	UserID string `json:"userId"`
}

// cancelRequest is the body of the cancel endpoint.
type cancelRequest struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

// bindOptional decodes an optional JSON body into out.
func bindOptional(c *gin.Context, out any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if errBind := c.ShouldBindJSON(out); errBind != nil {
		respondInvalid(c, "invalid json")
		return false
	}
	return true
}

// bindTier decodes a tierRequest and resolves its account and tier.
func bindTier(c *gin.Context) (string, plans.Tier, bool) {
	var body tierRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respondInvalid(c, "invalid json")
		return "", "", false
	}
	accountID, ok := requireAccount(c, body.UserID)
	if !ok {
		return "", "", false
	}
	tier, errTier := plans.ParseTier(body.Tier)
	if errTier != nil {
		respondInvalid(c, "tier must be one of family, single_agency, multi_agency")
		return "", "", false
	}
	return accountID, tier, true
}

// Checkout starts a hosted checkout session.
func (h *BillingFrontHandler) Checkout(c *gin.Context) {
	accountID, tier, ok := bindTier(c)
	if !ok {
		return
	}
	url, err := h.service.Checkout(c.Request.Context(), accountID, tier)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "url": url})
}

// ChangePlan upgrades immediately or schedules a downgrade.
func (h *BillingFrontHandler) ChangePlan(c *gin.Context) {
	accountID, tier, ok := bindTier(c)
	if !ok {
		return
	}
	result, err := h.service.ChangePlan(c.Request.Context(), accountID, tier)
	if err != nil {
		respondError(c, err)
		return
	}

	blockers := result.Blockers
	if blockers == nil {
		blockers = []subscription.Blocker{}
	}
	warnings := result.Warnings
	if warnings == nil {
		warnings = []subscription.Blocker{}
	}
	if result.Outcome == subscription.OutcomeBlocked {
		c.JSON(http.StatusConflict, gin.H{
			"success":  false,
			"error":    result.Message(),
			"code":     subscription.CodeValidationBlocked,
			"outcome":  result.Outcome,
			"blockers": blockers,
		})
		return
	}

	resp := gin.H{
		"success":  true,
		"message":  result.Message(),
		"outcome":  result.Outcome,
		"tier":     result.ToTier,
		"blockers": blockers,
		"warnings": warnings,
	}
	if !result.EffectiveAt.IsZero() {
		resp["effective_at"] = result.EffectiveAt
	}
	c.JSON(http.StatusOK, resp)
}

// CancelPendingChange clears a scheduled downgrade.
func (h *BillingFrontHandler) CancelPendingChange(c *gin.Context) {
	var body accountRequest
	if !bindOptional(c, &body) {
		return
	}
	accountID, ok := requireAccount(c, body.UserID)
	if !ok {
		return
	}
	cleared, err := h.service.CancelPendingChange(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, err)
		return
	}
	message := "There is no pending plan change."
	if cleared {
		message = "Pending plan change canceled."
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message, "cleared": cleared})
}

// Cancel ends the subscription, refunding within the refund window.
func (h *BillingFrontHandler) Cancel(c *gin.Context) {
	var body cancelRequest
	if !bindOptional(c, &body) {
		return
	}
	accountID, ok := requireAccount(c, body.UserID)
	if !ok {
		return
	}
	result, err := h.service.Cancel(c.Request.Context(), accountID, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"message":       result.Message(),
		"mode":          result.Mode,
		"refunded":      result.Refunded,
		"refund_failed": result.RefundFailed,
		"refund_cents":  result.RefundCents,
		"effective_at":  result.EffectiveAt,
	})
}

// Resume withdraws a period-end cancellation.
func (h *BillingFrontHandler) Resume(c *gin.Context) {
	var body accountRequest
	if !bindOptional(c, &body) {
		return
	}
	accountID, ok := requireAccount(c, body.UserID)
	if !ok {
		return
	}
	resumed, err := h.service.Resume(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, err)
		return
	}
	message := "Subscription is not scheduled to end."
	if resumed {
		message = "Subscription resumed."
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message, "resumed": resumed})
}

// Portal returns a billing portal URL.
func (h *BillingFrontHandler) Portal(c *gin.Context) {
	var body accountRequest
	if !bindOptional(c, &body) {
		return
	}
	accountID, ok := requireAccount(c, body.UserID)
	if !ok {
		return
	}
	url, err := h.service.Portal(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "url": url})
}

// ValidateDowngrade previews the blockers of a move to a lower tier.
func (h *BillingFrontHandler) ValidateDowngrade(c *gin.Context) {
	accountID, tier, ok := bindTier(c)
	if !ok {
		return
	}
	validation, err := h.service.PreviewDowngrade(c.Request.Context(), accountID, tier)
	if err != nil {
		respondError(c, err)
		return
	}
	blockers := validation.Blockers
	if blockers == nil {
		blockers = []subscription.Blocker{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"allowed":  validation.Allowed,
		"blockers": blockers,
		"usage":    validation.Usage,
	})
}

// Subscription returns the current subscription state.
func (h *BillingFrontHandler) Subscription(c *gin.Context) {
	accountID, ok := requireAccount(c, "")
	if !ok {
		return
	}
	view, err := h.service.Get(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"subscription":       view,
		"refund_window_days": h.service.RefundWindowDays(),
	})
}
