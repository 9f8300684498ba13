package models

import "time"

// SubscriptionStatus represents the stored lifecycle status of a subscription.
type SubscriptionStatus string

// SubscriptionStatus constants define stored lifecycle states.
const (
	// SubscriptionStatusTrial marks a trial without a billing subscription.
	SubscriptionStatusTrial SubscriptionStatus = "trial"
	// SubscriptionStatusActive marks a paid subscription.
	SubscriptionStatusActive SubscriptionStatus = "active"
	// SubscriptionStatusExpired marks a lapsed trial or subscription.
	SubscriptionStatusExpired SubscriptionStatus = "expired"
	// SubscriptionStatusCanceled marks a canceled subscription.
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Subscription is the single subscription record of an account. Records are
// never deleted, only moved between statuses.
type Subscription struct {
	AccountID string `gorm:"primaryKey;type:varchar(128)"` // Owning account.

	Tier   string             `gorm:"type:varchar(32);not null"`               // Current plan tier.
	Status SubscriptionStatus `gorm:"type:varchar(16);not null;default:trial"` // Stored status.

	TrialEndsAt       *time.Time `gorm:"default:null"`           // Trial end, trial only.
	StartedAt         *time.Time `gorm:"default:null"`           // Paid subscription start.
	CurrentPeriodEnd  *time.Time `gorm:"default:null"`           // End of the current billing period.
	CancelAtPeriodEnd bool       `gorm:"not null;default:false"` // Cancellation scheduled at period end.
	PendingTier       *string    `gorm:"type:varchar(32)"`       // Downgrade scheduled at period end.
	CanceledAt        *time.Time `gorm:"default:null"`           // Time of an immediate cancellation.
	CancelReason      string     `gorm:"type:text"`              // User supplied cancellation reason.

	CustomerID     string `gorm:"type:varchar(255);index"` // Billing provider customer ID.
	SubscriptionID string `gorm:"type:varchar(255);index"` // Billing provider subscription ID.

	Version int64 `gorm:"not null;default:0"` // Optimistic concurrency counter.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
