package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eldercircle/eldercircle-billing/internal/models"
	"github.com/eldercircle/eldercircle-billing/internal/store"
	"github.com/eldercircle/eldercircle-billing/internal/subscription"
	"github.com/eldercircle/eldercircle-billing/internal/usage"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// SubscriptionHandler exposes subscriptions to operators.
type SubscriptionHandler struct {
	store   *store.SubscriptionStore
	counter usage.Counter
	now     func() time.Time
}

// NewSubscriptionHandler constructs a SubscriptionHandler.
func NewSubscriptionHandler(st *store.SubscriptionStore, counter usage.Counter, now func() time.Time) *SubscriptionHandler {
	if now == nil {
		now = time.Now
	}
	return &SubscriptionHandler{store: st, counter: counter, now: now}
}

// List returns subscriptions filtered by status, tier and search text.
func (h *SubscriptionHandler) List(c *gin.Context) {
	filter := store.ListFilter{
		Status: strings.TrimSpace(c.Query("status")),
		Tier:   strings.TrimSpace(c.Query("tier")),
		Search: strings.TrimSpace(c.Query("search")),
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, errParse := strconv.Atoi(raw)
		if errParse != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}
	if raw := strings.TrimSpace(c.Query("offset")); raw != "" {
		offset, errParse := strconv.Atoi(raw)
		if errParse != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		filter.Offset = offset
	}

	rows, total, errList := h.store.List(c.Request.Context(), filter)
	if errList != nil {
		log.WithError(errList).Error("admin: list subscriptions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list subscriptions failed"})
		return
	}
	now := h.now().UTC()
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, subscriptionRow(row, now))
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": out, "total": total})
}

// Get returns one subscription with the account's current usage.
func (h *SubscriptionHandler) Get(c *gin.Context) {
	accountID := strings.TrimSpace(c.Param("accountId"))
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}
	ctx := c.Request.Context()
	rec, errGet := h.store.Get(ctx, accountID)
	if errGet != nil {
		if errors.Is(errGet, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	out := subscriptionRow(rec, h.now().UTC())
	if h.counter != nil {
		snap, errSnap := h.counter.Snapshot(ctx, accountID)
		if errSnap != nil {
			log.WithError(errSnap).WithField("account_id", accountID).Warn("admin: usage snapshot failed")
		} else {
			out["usage"] = snap
		}
	}
	c.JSON(http.StatusOK, out)
}

// subscriptionRow renders a stored subscription with its derived state.
func subscriptionRow(row models.Subscription, now time.Time) gin.H {
	out := gin.H{
		"account_id":           row.AccountID,
		"tier":                 row.Tier,
		"status":               row.Status,
		"trial_ends_at":        row.TrialEndsAt,
		"started_at":           row.StartedAt,
		"current_period_end":   row.CurrentPeriodEnd,
		"cancel_at_period_end": row.CancelAtPeriodEnd,
		"pending_tier":         row.PendingTier,
		"canceled_at":          row.CanceledAt,
		"customer_id":          row.CustomerID,
		"subscription_id":      row.SubscriptionID,
		"version":              row.Version,
		"updated_at":           row.UpdatedAt,
	}
	if state, errDecode := subscription.Decode(row, now); errDecode == nil {
		out["state"] = state.Kind()
	} else {
		out["state"] = "invalid"
	}
	return out
}
