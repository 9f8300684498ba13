package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eldercircle/eldercircle-billing/internal/db"
	"github.com/eldercircle/eldercircle-billing/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound indicates the subscription record does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrConflict indicates the record changed since it was read.
var ErrConflict = errors.New("store: version conflict")

// ErrAlreadyExists indicates an account with the same id exists.
var ErrAlreadyExists = errors.New("store: already exists")

// MutateFunc receives the locked record and returns the record to write, or
// nil to leave it untouched.
type MutateFunc func(tx *gorm.DB, current models.Subscription) (*models.Subscription, error)

// SubscriptionStore persists accounts and their subscription records via GORM.
type SubscriptionStore struct {
	db *gorm.DB
}

// NewSubscriptionStore constructs a SubscriptionStore.
func NewSubscriptionStore(db *gorm.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// DB returns the underlying connection.
func (s *SubscriptionStore) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// CreateAccount inserts an account together with its initial subscription.
func (s *SubscriptionStore) CreateAccount(ctx context.Context, account *models.Account, sub *models.Subscription) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("subscription store: not initialized")
	}
	if account == nil || sub == nil {
		return fmt.Errorf("subscription store: account and subscription are required")
	}
	account.ID = strings.TrimSpace(account.ID)
	if account.ID == "" {
		return fmt.Errorf("subscription store: missing account id")
	}
	sub.AccountID = account.ID

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(account).Error; errCreate != nil {
			return errCreate
		}
		return tx.Create(sub).Error
	})
	if errTx != nil {
		if db.IsUniqueViolation(errTx) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("subscription store: create account: %w", errTx)
	}
	return nil
}

// Get loads the subscription of accountID.
func (s *SubscriptionStore) Get(ctx context.Context, accountID string) (models.Subscription, error) {
	return s.findOne(ctx, "account_id = ?", strings.TrimSpace(accountID))
}

// GetByProviderSubscription loads the subscription bound to a provider subscription id.
func (s *SubscriptionStore) GetByProviderSubscription(ctx context.Context, subscriptionID string) (models.Subscription, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return models.Subscription{}, ErrNotFound
	}
	return s.findOne(ctx, "subscription_id = ?", subscriptionID)
}

// GetByCustomer loads the subscription bound to a provider customer id.
func (s *SubscriptionStore) GetByCustomer(ctx context.Context, customerID string) (models.Subscription, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return models.Subscription{}, ErrNotFound
	}
	return s.findOne(ctx, "customer_id = ?", customerID)
}

func (s *SubscriptionStore) findOne(ctx context.Context, query string, arg any) (models.Subscription, error) {
	if s == nil || s.db == nil {
		return models.Subscription{}, fmt.Errorf("subscription store: not initialized")
	}
	var sub models.Subscription
	errFind := s.db.WithContext(ctx).Where(query, arg).First(&sub).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.Subscription{}, ErrNotFound
		}
		return models.Subscription{}, fmt.Errorf("subscription store: find: %w", errFind)
	}
	return sub, nil
}

// GetAccount loads an account by id.
func (s *SubscriptionStore) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	var account models.Account
	errFind := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(accountID)).First(&account).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.Account{}, ErrNotFound
		}
		return models.Account{}, fmt.Errorf("subscription store: find account: %w", errFind)
	}
	return account, nil
}

// Mutate locks the subscription row of accountID for the duration of fn and
// writes the record fn returns with a version compare-and-swap. The whole
// sequence runs in one transaction, so fn's other writes through tx commit or
// roll back together with the record.
func (s *SubscriptionStore) Mutate(ctx context.Context, accountID string, fn MutateFunc) (models.Subscription, error) {
	if s == nil || s.db == nil {
		return models.Subscription{}, fmt.Errorf("subscription store: not initialized")
	}
	accountID = strings.TrimSpace(accountID)

	var result models.Subscription
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Subscription
		if errFind := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ?", accountID).
			First(&current).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return errFind
		}

		next, errFn := fn(tx, current)
		if errFn != nil {
			return errFn
		}
		if next == nil {
			result = current
			return nil
		}
		next.AccountID = current.AccountID
		if errSave := saveCAS(tx, next, current.Version); errSave != nil {
			return errSave
		}
		result = *next
		return nil
	})
	if errTx != nil {
		return models.Subscription{}, errTx
	}
	return result, nil
}

// saveCAS writes every mutable column of sub when the stored version still
// equals expected, and bumps the version.
func saveCAS(tx *gorm.DB, sub *models.Subscription, expected int64) error {
	now := time.Now().UTC()
	res := tx.Model(&models.Subscription{}).
		Where("account_id = ? AND version = ?", sub.AccountID, expected).
		Updates(map[string]any{
			"tier":                 sub.Tier,
			"status":               sub.Status,
			"trial_ends_at":        sub.TrialEndsAt,
			"started_at":           sub.StartedAt,
			"current_period_end":   sub.CurrentPeriodEnd,
			"cancel_at_period_end": sub.CancelAtPeriodEnd,
			"pending_tier":         sub.PendingTier,
			"canceled_at":          sub.CanceledAt,
			"cancel_reason":        sub.CancelReason,
			"customer_id":          sub.CustomerID,
			"subscription_id":      sub.SubscriptionID,
			"version":              expected + 1,
			"updated_at":           now,
		})
	if res.Error != nil {
		return fmt.Errorf("subscription store: update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	sub.Version = expected + 1
	sub.UpdatedAt = now
	return nil
}

// ListFilter narrows subscription listings.
type ListFilter struct {
	Status string // Exact stored status.
	Tier   string // Exact tier.
	Search string // Case-insensitive account id or customer id fragment.
	Limit  int
	Offset int
}

// List returns subscriptions ordered by most recent update.
func (s *SubscriptionStore) List(ctx context.Context, filter ListFilter) ([]models.Subscription, int64, error) {
	if s == nil || s.db == nil {
		return nil, 0, fmt.Errorf("subscription store: not initialized")
	}
	q := s.db.WithContext(ctx).Model(&models.Subscription{})
	if status := strings.TrimSpace(filter.Status); status != "" {
		q = q.Where("status = ?", status)
	}
	if tier := strings.TrimSpace(filter.Tier); tier != "" {
		q = q.Where("tier = ?", tier)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := db.NormalizeLikePattern(s.db, "%"+search+"%")
		q = q.Where(
			db.CaseInsensitiveLikeExpr(s.db, "account_id")+" OR "+db.CaseInsensitiveLikeExpr(s.db, "customer_id"),
			pattern, pattern,
		)
	}

	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		return nil, 0, fmt.Errorf("subscription store: count: %w", errCount)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	var rows []models.Subscription
	if errFind := q.Order("updated_at DESC").Order("account_id ASC").Limit(limit).Offset(offset).Find(&rows).Error; errFind != nil {
		return nil, 0, fmt.Errorf("subscription store: list: %w", errFind)
	}
	return rows, total, nil
}
