package models

import "time"

// Account represents a care circle owner account. The ID is the subject
// issued by the external identity provider.
type Account struct {
	ID string `gorm:"primaryKey;type:varchar(128)"` // External user ID.

	Email string `gorm:"type:text"` // Contact email used for billing.
	Name  string `gorm:"type:text"` // Display name.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// MemberRole classifies an account member.
type MemberRole string

// MemberRole constants define member kinds.
const (
	// MemberRoleCaregiver is a professional caregiver seat.
	MemberRoleCaregiver MemberRole = "caregiver"
	// MemberRoleFamily is a family member seat.
	MemberRoleFamily MemberRole = "family"
)

// Member is a caregiver or family member seat attached to an account.
type Member struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID string `gorm:"type:varchar(128);not null;index"` // Owning account.

	Name  string     `gorm:"type:text;not null"`        // Display name.
	Email string     `gorm:"type:text"`                 // Invite email.
	Role  MemberRole `gorm:"type:varchar(32);not null"` // Seat kind.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// Elder is a care recipient managed by an account.
type Elder struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID string `gorm:"type:varchar(128);not null;index"` // Owning account.
	Name      string `gorm:"type:text;not null"`               // Display name.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// StorageObject records the size of one stored file for quota accounting.
type StorageObject struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID string `gorm:"type:varchar(128);not null;index"` // Owning account.
	Name      string `gorm:"type:text;not null"`               // Object name.
	SizeBytes int64  `gorm:"not null;default:0"`               // Object size in bytes.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
