// Package audit records billing actions and lists them for operators.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eldercircle/eldercircle-billing/internal/db"
	"github.com/eldercircle/eldercircle-billing/internal/models"
	internalsettings "github.com/eldercircle/eldercircle-billing/internal/settings"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Result values stored on billing events.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultBlocked = "blocked"
)

// Action names stored on billing events.
const (
	ActionSignup              = "signup"
	ActionCheckout            = "checkout"
	ActionPortal              = "portal"
	ActionChangePlan          = "change_plan"
	ActionCancelPendingChange = "cancel_pending_change"
	ActionCancel              = "cancel"
	ActionResume              = "resume"
	ActionWebhook             = "webhook"
	ActionExpire              = "expire"
)

// Actor prefixes.
const (
	ActorProvider = "provider"
	ActorSystem   = "system"
)

// Record is one billing action to persist.
type Record struct {
	AccountID string
	Actor     string
	Action    string
	Result    string
	Details   map[string]any
	At        time.Time
}

// Filter narrows billing event listings.
type Filter struct {
	AccountID string
	Action    string
	Result    string
	Tier      string // Matches details.tier.
	From      *time.Time
	To        *time.Time
	Limit     int
}

// Recorder writes billing events with GORM.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder constructs a Recorder.
func NewRecorder(db *gorm.DB) *Recorder { return &Recorder{db: db} }

// Log stores a billing event. Failures are logged and returned.
func (r *Recorder) Log(ctx context.Context, record Record) error {
	if r == nil || r.db == nil {
		return nil
	}
	if strings.TrimSpace(record.Action) == "" {
		return errors.New("audit: action is required")
	}
	if record.Result == "" {
		record.Result = ResultSuccess
	}
	if record.At.IsZero() {
		record.At = time.Now().UTC()
	}

	details := datatypes.JSON("{}")
	if len(record.Details) > 0 {
		data, errMarshal := json.Marshal(record.Details)
		if errMarshal != nil {
			return fmt.Errorf("audit: marshal details: %w", errMarshal)
		}
		details = datatypes.JSON(data)
	}

	row := models.BillingEvent{
		ID:        uuid.New().String(),
		AccountID: record.AccountID,
		Actor:     record.Actor,
		Action:    record.Action,
		Result:    record.Result,
		Details:   details,
		CreatedAt: record.At,
	}
	if errCreate := r.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).WithField("action", record.Action).Error("audit: failed to write billing event")
		return fmt.Errorf("audit: create: %w", errCreate)
	}
	return nil
}

// List returns billing events newest first.
func (r *Recorder) List(ctx context.Context, filter Filter) ([]models.BillingEvent, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("audit: not initialized")
	}
	q := r.db.WithContext(ctx).Model(&models.BillingEvent{})
	if v := strings.TrimSpace(filter.AccountID); v != "" {
		q = q.Where("account_id = ?", v)
	}
	if v := strings.TrimSpace(filter.Action); v != "" {
		q = q.Where("action = ?", v)
	}
	if v := strings.TrimSpace(filter.Result); v != "" {
		q = q.Where("result = ?", v)
	}
	if v := strings.TrimSpace(filter.Tier); v != "" {
		q = q.Where(db.JSONExtractTextExpr(r.db, "details", "tier")+" = ?", v)
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		q = q.Where("created_at <= ?", filter.To.UTC())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = internalsettings.DefaultAuditListLimit
	}
	if limit > internalsettings.MaxAuditListLimit {
		limit = internalsettings.MaxAuditListLimit
	}

	var rows []models.BillingEvent
	if errFind := q.Order("created_at DESC").Limit(limit).Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("audit: list: %w", errFind)
	}
	return rows, nil
}
