// Package accounts manages the resources counted against plan limits:
// members, elders and stored objects.
package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/eldercircle/eldercircle-billing/internal/models"
	"github.com/eldercircle/eldercircle-billing/internal/plans"
	"github.com/eldercircle/eldercircle-billing/internal/store"
	"github.com/eldercircle/eldercircle-billing/internal/subscription"
	"github.com/eldercircle/eldercircle-billing/internal/usage"
	"gorm.io/gorm"
)

// Service adds and removes plan-limited resources.
type Service struct {
	store *store.SubscriptionStore
}

// NewService constructs a Service.
func NewService(st *store.SubscriptionStore) *Service {
	return &Service{store: st}
}

// Usage returns the current snapshot of accountID.
func (s *Service) Usage(ctx context.Context, accountID string) (usage.Snapshot, error) {
	if _, err := s.store.Get(ctx, accountID); err != nil {
		return usage.Snapshot{}, err
	}
	return usage.NewGormCounter(s.store.DB()).Snapshot(ctx, accountID)
}

// ListMembers returns the members of accountID.
func (s *Service) ListMembers(ctx context.Context, accountID string) ([]models.Member, error) {
	var rows []models.Member
	if errFind := s.store.DB().WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("accounts: list members: %w", errFind)
	}
	return rows, nil
}

// ListElders returns the elders of accountID.
func (s *Service) ListElders(ctx context.Context, accountID string) ([]models.Elder, error) {
	var rows []models.Elder
	if errFind := s.store.DB().WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("accounts: list elders: %w", errFind)
	}
	return rows, nil
}

// ListStorage returns the stored objects of accountID.
func (s *Service) ListStorage(ctx context.Context, accountID string) ([]models.StorageObject, error) {
	var rows []models.StorageObject
	if errFind := s.store.DB().WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("accounts: list storage: %w", errFind)
	}
	return rows, nil
}

// AddMember adds a member when the current plan has a free seat.
func (s *Service) AddMember(ctx context.Context, member *models.Member) error {
	member.Name = strings.TrimSpace(member.Name)
	if member.Name == "" {
		return fmt.Errorf("%w: member name is required", subscription.ErrInvalidRequest)
	}
	switch member.Role {
	case models.MemberRoleCaregiver, models.MemberRoleFamily:
	case "":
		member.Role = models.MemberRoleFamily
	default:
		return fmt.Errorf("%w: unknown member role %q", subscription.ErrInvalidRequest, member.Role)
	}
	return s.withinLimits(ctx, member.AccountID, func(tx *gorm.DB, limits plans.Limits, snap usage.Snapshot) error {
		if snap.Members >= limits.MaxMembers {
			return fmt.Errorf("%w: plan allows %d members", subscription.ErrLimitReached, limits.MaxMembers)
		}
		return tx.Create(member).Error
	})
}

// AddElder adds a care recipient when the current plan allows another.
func (s *Service) AddElder(ctx context.Context, elder *models.Elder) error {
	elder.Name = strings.TrimSpace(elder.Name)
	if elder.Name == "" {
		return fmt.Errorf("%w: elder name is required", subscription.ErrInvalidRequest)
	}
	return s.withinLimits(ctx, elder.AccountID, func(tx *gorm.DB, limits plans.Limits, snap usage.Snapshot) error {
		if snap.Elders >= limits.MaxElders {
			return fmt.Errorf("%w: plan allows %d elders", subscription.ErrLimitReached, limits.MaxElders)
		}
		return tx.Create(elder).Error
	})
}

// AddStorageObject records a stored object when it fits the storage quota.
func (s *Service) AddStorageObject(ctx context.Context, obj *models.StorageObject) error {
	obj.Name = strings.TrimSpace(obj.Name)
	if obj.Name == "" || obj.SizeBytes < 0 {
		return fmt.Errorf("%w: object name and a non-negative size are required", subscription.ErrInvalidRequest)
	}
	return s.withinLimits(ctx, obj.AccountID, func(tx *gorm.DB, limits plans.Limits, snap usage.Snapshot) error {
		if snap.StorageBytes+obj.SizeBytes > limits.StorageBytes() {
			return fmt.Errorf("%w: plan allows %d MB of storage", subscription.ErrLimitReached, limits.StorageMB)
		}
		return tx.Create(obj).Error
	})
}

// RemoveMember deletes a member of accountID.
func (s *Service) RemoveMember(ctx context.Context, accountID string, id uint64) error {
	return s.remove(ctx, &models.Member{}, accountID, id)
}

// RemoveElder deletes an elder of accountID.
func (s *Service) RemoveElder(ctx context.Context, accountID string, id uint64) error {
	return s.remove(ctx, &models.Elder{}, accountID, id)
}

// RemoveStorageObject deletes a stored object of accountID.
func (s *Service) RemoveStorageObject(ctx context.Context, accountID string, id uint64) error {
	return s.remove(ctx, &models.StorageObject{}, accountID, id)
}

func (s *Service) remove(ctx context.Context, model any, accountID string, id uint64) error {
	res := s.store.DB().WithContext(ctx).Where("id = ? AND account_id = ?", id, accountID).Delete(model)
	if res.Error != nil {
		return fmt.Errorf("accounts: delete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// withinLimits runs fn with the account's plan limits and usage while the
// subscription row is locked.
func (s *Service) withinLimits(ctx context.Context, accountID string, fn func(tx *gorm.DB, limits plans.Limits, snap usage.Snapshot) error) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("%w: missing account id", subscription.ErrInvalidRequest)
	}
	_, err := s.store.Mutate(ctx, accountID, func(tx *gorm.DB, current models.Subscription) (*models.Subscription, error) {
		plan, errLookup := plans.Lookup(plans.Tier(current.Tier))
		if errLookup != nil {
			return nil, errLookup
		}
		snap, errSnap := usage.NewGormCounter(tx).Snapshot(ctx, accountID)
		if errSnap != nil {
			return nil, errSnap
		}
		if errFn := fn(tx, plan.Limits, snap); errFn != nil {
			return nil, errFn
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("accounts: add: %w", err)
	}
	return nil
}
