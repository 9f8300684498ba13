package db

import (
	"fmt"

	"github.com/eldercircle/eldercircle-billing/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.Account{},
		&models.Member{},
		&models.Elder{},
		&models.StorageObject{},
		&models.Subscription{},
		&models.BillingEvent{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errBackfill := conn.Exec(`
		UPDATE subscriptions
		SET status = 'trial'
		WHERE status IS NULL OR status = ''
	`).Error; errBackfill != nil {
		return fmt.Errorf("db: backfill subscription status: %w", errBackfill)
	}
	// A pending change only exists on active subscriptions without a
	// scheduled cancellation.
	if errRepair := conn.Exec(`
		UPDATE subscriptions
		SET pending_tier = NULL
		WHERE pending_tier IS NOT NULL
		AND (status <> 'active' OR cancel_at_period_end = true)
	`).Error; errRepair != nil {
		return fmt.Errorf("db: repair pending tiers: %w", errRepair)
	}

	// ddl defines an index or DDL statement to apply.
	type ddl struct {
		name string // Human-readable name for error reporting.
		sql  string // SQL to execute.
	}
	ddls := []ddl{
		{
			name: "idx_billing_events_account_id_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_billing_events_account_id_created_at
				ON billing_events (account_id, created_at DESC)
			`,
		},
		{
			name: "idx_billing_events_action_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_billing_events_action_created_at
				ON billing_events (action, created_at DESC)
			`,
		},
		{
			name: "idx_subscriptions_status_updated_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_subscriptions_status_updated_at
				ON subscriptions (status, updated_at DESC)
			`,
		},
		{
			name: "idx_subscriptions_pending_tier",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_subscriptions_pending_tier
				ON subscriptions (current_period_end)
				WHERE pending_tier IS NOT NULL
			`,
		},
		{
			name: "idx_members_account_id_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_members_account_id_created_at
				ON members (account_id, created_at DESC)
			`,
		},
	}
	for _, item := range ddls {
		if errDDL := conn.Exec(item.sql).Error; errDDL != nil {
			return fmt.Errorf("db: create index %s: %w", item.name, errDDL)
		}
	}

	return nil
}
