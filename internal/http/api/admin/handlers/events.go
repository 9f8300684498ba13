package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eldercircle/eldercircle-billing/internal/audit"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// EventHandler lists the billing audit trail.
type EventHandler struct {
	recorder *audit.Recorder
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(recorder *audit.Recorder) *EventHandler {
	return &EventHandler{recorder: recorder}
}

// List returns billing events newest first.
func (h *EventHandler) List(c *gin.Context) {
	filter := audit.Filter{
		AccountID: strings.TrimSpace(c.Query("account_id")),
		Action:    strings.TrimSpace(c.Query("action")),
		Result:    strings.TrimSpace(c.Query("result")),
		Tier:      strings.TrimSpace(c.Query("tier")),
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, errParse := strconv.Atoi(raw)
		if errParse != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}
	var ok bool
	if filter.From, ok = parseTimeQuery(c, "from"); !ok {
		return
	}
	if filter.To, ok = parseTimeQuery(c, "to"); !ok {
		return
	}

	rows, errList := h.recorder.List(c.Request.Context(), filter)
	if errList != nil {
		log.WithError(errList).Error("admin: list billing events failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list events failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":         row.ID,
			"account_id": row.AccountID,
			"actor":      row.Actor,
			"action":     row.Action,
			"result":     row.Result,
			"details":    row.Details,
			"created_at": row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

// parseTimeQuery reads an optional RFC3339 query parameter.
func parseTimeQuery(c *gin.Context, key string) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, true
	}
	parsed, errParse := time.Parse(time.RFC3339, raw)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
		return nil, false
	}
	return &parsed, true
}
