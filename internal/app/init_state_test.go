package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/eldercircle/eldercircle-billing/internal/db"
	"github.com/eldercircle/eldercircle-billing/internal/models"
	"github.com/eldercircle/eldercircle-billing/internal/plans"
	"github.com/eldercircle/eldercircle-billing/internal/security"
	"github.com/eldercircle/eldercircle-billing/internal/store"
)

func TestHasAdminInitialized_NilConnection(t *testing.T) {
	if _, err := HasAdminInitialized(nil); err == nil {
		t.Fatalf("expected error for nil connection")
	}
}

func TestHasAdminInitialized_IgnoresCustomerAccounts(t *testing.T) {
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "billing.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	initialized, err := HasAdminInitialized(conn)
	if err != nil {
		t.Fatalf("HasAdminInitialized before migrate: %v", err)
	}
	if initialized {
		t.Fatalf("expected initialized=false before migrate")
	}

	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	trialEnd := time.Now().UTC().Add(14 * 24 * time.Hour)
	errCreate := store.NewSubscriptionStore(conn).CreateAccount(context.Background(),
		&models.Account{ID: "acct-1", Email: "carer@example.com"},
		&models.Subscription{Tier: string(plans.TierFamily), Status: models.SubscriptionStatusTrial, TrialEndsAt: &trialEnd},
	)
	if errCreate != nil {
		t.Fatalf("create account: %v", errCreate)
	}

	initialized, err = HasAdminInitialized(conn)
	if err != nil {
		t.Fatalf("HasAdminInitialized with accounts only: %v", err)
	}
	if initialized {
		t.Fatalf("expected initialized=false while only customer accounts exist")
	}

	if errAdmin := CreateAdminUserWithConn(conn, "  ops  ", "s3cret-pass"); errAdmin != nil {
		t.Fatalf("create admin: %v", errAdmin)
	}

	initialized, err = HasAdminInitialized(conn)
	if err != nil {
		t.Fatalf("HasAdminInitialized after admin: %v", err)
	}
	if !initialized {
		t.Fatalf("expected initialized=true after admin created")
	}

	var admin models.Admin
	if errFind := conn.Where("username = ?", "ops").First(&admin).Error; errFind != nil {
		t.Fatalf("expected trimmed username, got %v", errFind)
	}
	if !admin.Active || !security.CheckPassword(admin.Password, "s3cret-pass") {
		t.Fatalf("expected active admin with hashed password, got %+v", admin)
	}
}
