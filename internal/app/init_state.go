package app

import (
	"fmt"

	"github.com/eldercircle/eldercircle-billing/internal/models"
	"gorm.io/gorm"
)

// HasAdminInitialized reports whether an operator admin exists. Customer
// accounts and their subscriptions do not count, so a database that already
// serves signups still routes /v0/init until the first admin is created.
func HasAdminInitialized(conn *gorm.DB) (bool, error) {
	if conn == nil {
		return false, fmt.Errorf("app: nil database connection")
	}
	if !conn.Migrator().HasTable(&models.Admin{}) {
		return false, nil
	}
	var admins int64
	if errCount := conn.Model(&models.Admin{}).Count(&admins).Error; errCount != nil {
		return false, fmt.Errorf("app: count admins: %w", errCount)
	}
	return admins > 0, nil
}
