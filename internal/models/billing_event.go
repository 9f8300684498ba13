package models

import (
	"time"

	"gorm.io/datatypes"
)

// BillingEvent records one billing action for the audit trail.
type BillingEvent struct {
	ID string `gorm:"primaryKey;type:varchar(36)"` // UUID.

	AccountID string `gorm:"type:varchar(128);index"`         // Affected account.
	Actor     string `gorm:"type:varchar(128)"`               // User, admin or provider.
	Action    string `gorm:"type:varchar(64);not null;index"` // Action name.
	Result    string `gorm:"type:varchar(16);not null"`       // success, failure or blocked.

	Details datatypes.JSON `gorm:"type:jsonb"` // Action specific details.

	CreatedAt time.Time `gorm:"not null;index"` // Event timestamp.
}

// Admin is an operator account for the admin API.
type Admin struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Login name.
	Password string `gorm:"type:text;not null"`             // Hashed password.
	Active   bool   `gorm:"not null;default:true"`          // Whether the admin can sign in.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
