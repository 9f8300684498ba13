// Package usage computes per-account resource usage snapshots.
package usage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eldercircle/eldercircle-billing/internal/models"
	"gorm.io/gorm"
)

// Snapshot is a read-only aggregate of an account's resource usage. It is
// recomputed on demand and never stored.
type Snapshot struct {
	AccountID    string    `json:"account_id"`
	Members      int64     `json:"members"`
	Elders       int64     `json:"elders"`
	StorageBytes int64     `json:"storage_bytes"`
	TakenAt      time.Time `json:"taken_at"`
}

// IsZero reports whether the account holds no resources.
func (s Snapshot) IsZero() bool {
	return s.Members == 0 && s.Elders == 0 && s.StorageBytes == 0
}

// Counter computes usage snapshots.
type Counter interface {
	Snapshot(ctx context.Context, accountID string) (Snapshot, error)
}

// GormCounter counts members, elders and stored bytes with GORM.
type GormCounter struct {
	db *gorm.DB
}

// NewGormCounter constructs a GormCounter. Pass a transaction handle to count
// inside that transaction.
func NewGormCounter(db *gorm.DB) *GormCounter { return &GormCounter{db: db} }

// Snapshot returns the current usage of accountID.
func (c *GormCounter) Snapshot(ctx context.Context, accountID string) (Snapshot, error) {
	accountID = strings.TrimSpace(accountID)
	if c == nil || c.db == nil {
		return Snapshot{}, fmt.Errorf("usage: nil db")
	}
	if accountID == "" {
		return Snapshot{}, fmt.Errorf("usage: empty account id")
	}

	conn := c.db.WithContext(ctx)
	snap := Snapshot{AccountID: accountID, TakenAt: time.Now().UTC()}

	if errMembers := conn.Model(&models.Member{}).
		Where("account_id = ?", accountID).
		Count(&snap.Members).Error; errMembers != nil {
		return Snapshot{}, fmt.Errorf("usage: count members: %w", errMembers)
	}
	if errElders := conn.Model(&models.Elder{}).
		Where("account_id = ?", accountID).
		Count(&snap.Elders).Error; errElders != nil {
		return Snapshot{}, fmt.Errorf("usage: count elders: %w", errElders)
	}

	var storage struct {
		Total int64 // Sum of object sizes.
	}
	if errStorage := conn.Model(&models.StorageObject{}).
		Select("COALESCE(SUM(size_bytes), 0) AS total").
		Where("account_id = ?", accountID).
		Scan(&storage).Error; errStorage != nil {
		return Snapshot{}, fmt.Errorf("usage: sum storage: %w", errStorage)
	}
	snap.StorageBytes = storage.Total
	return snap, nil
}
