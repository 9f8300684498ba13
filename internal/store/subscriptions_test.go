package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/eldercircle/eldercircle-billing/internal/db"
	"github.com/eldercircle/eldercircle-billing/internal/models"
	"gorm.io/gorm"
)

func openTestStore(t *testing.T) *SubscriptionStore {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "ecb-store.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return NewSubscriptionStore(conn)
}

func seedAccount(t *testing.T, s *SubscriptionStore, id string) {
	t.Helper()
	trialEnd := time.Now().UTC().Add(14 * 24 * time.Hour)
	account := &models.Account{ID: id, Email: id + "@example.com"}
	sub := &models.Subscription{
		Tier:        "family",
		Status:      models.SubscriptionStatusTrial,
		TrialEndsAt: &trialEnd,
	}
	if errCreate := s.CreateAccount(context.Background(), account, sub); errCreate != nil {
		t.Fatalf("CreateAccount: %v", errCreate)
	}
}

func TestCreateAccount_Duplicate(t *testing.T) {
	s := openTestStore(t)
	seedAccount(t, s, "acct-1")

	errDup := s.CreateAccount(context.Background(), &models.Account{ID: "acct-1"}, &models.Subscription{Tier: "family"})
	if !errors.Is(errDup, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", errDup)
	}
	if _, errGet := s.Get(context.Background(), "missing"); !errors.Is(errGet, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", errGet)
	}
}

func TestMutate_WritesAndBumpsVersion(t *testing.T) {
	s := openTestStore(t)
	seedAccount(t, s, "acct-1")
	ctx := context.Background()

	updated, err := s.Mutate(ctx, "acct-1", func(_ *gorm.DB, current models.Subscription) (*models.Subscription, error) {
		next := current
		next.Status = models.SubscriptionStatusActive
		next.TrialEndsAt = nil
		next.SubscriptionID = "sub_1"
		next.CustomerID = "cus_1"
		return &next, nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if updated.Version != 1 {
		t.Fatalf("expected version 1, got %d", updated.Version)
	}

	stored, err := s.Get(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != models.SubscriptionStatusActive || stored.TrialEndsAt != nil {
		t.Fatalf("unexpected stored record: %+v", stored)
	}
	bySub, err := s.GetByProviderSubscription(ctx, "sub_1")
	if err != nil || bySub.AccountID != "acct-1" {
		t.Fatalf("expected lookup by subscription id, got %+v (%v)", bySub, err)
	}
	byCustomer, err := s.GetByCustomer(ctx, "cus_1")
	if err != nil || byCustomer.AccountID != "acct-1" {
		t.Fatalf("expected lookup by customer id, got %+v (%v)", byCustomer, err)
	}
}

func TestMutate_NilResultLeavesRecord(t *testing.T) {
	s := openTestStore(t)
	seedAccount(t, s, "acct-1")

	got, err := s.Mutate(context.Background(), "acct-1", func(_ *gorm.DB, _ models.Subscription) (*models.Subscription, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if got.Version != 0 {
		t.Fatalf("expected untouched version 0, got %d", got.Version)
	}
}

func TestMutate_ErrorRollsBack(t *testing.T) {
	s := openTestStore(t)
	seedAccount(t, s, "acct-1")
	boom := errors.New("provider down")

	_, err := s.Mutate(context.Background(), "acct-1", func(tx *gorm.DB, current models.Subscription) (*models.Subscription, error) {
		if errCreate := tx.Create(&models.Member{AccountID: current.AccountID, Name: "x", Role: models.MemberRoleFamily}).Error; errCreate != nil {
			return nil, errCreate
		}
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	var count int64
	if errCount := s.DB().Model(&models.Member{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("expected rollback, found %d members", count)
	}
}

func TestSaveCAS_DetectsConcurrentWrite(t *testing.T) {
	s := openTestStore(t)
	seedAccount(t, s, "acct-1")
	ctx := context.Background()

	stale, err := s.Get(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, errMutate := s.Mutate(ctx, "acct-1", func(_ *gorm.DB, current models.Subscription) (*models.Subscription, error) {
		next := current
		next.CancelReason = "first writer"
		return &next, nil
	}); errMutate != nil {
		t.Fatalf("Mutate: %v", errMutate)
	}

	stale.CancelReason = "second writer"
	errCAS := s.DB().Transaction(func(tx *gorm.DB) error {
		return saveCAS(tx, &stale, stale.Version)
	})
	if !errors.Is(errCAS, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", errCAS)
	}
}

func TestMutate_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Mutate(context.Background(), "nobody", func(_ *gorm.DB, _ models.Subscription) (*models.Subscription, error) {
		t.Fatalf("callback must not run")
		return nil, nil
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestList_FiltersAndSearch(t *testing.T) {
	s := openTestStore(t)
	seedAccount(t, s, "acct-Alpha")
	seedAccount(t, s, "acct-beta")
	ctx := context.Background()

	rows, total, err := s.List(ctx, ListFilter{Search: "ALPHA"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(rows) != 1 || rows[0].AccountID != "acct-Alpha" {
		t.Fatalf("expected only acct-Alpha, got total=%d rows=%+v", total, rows)
	}

	rows, total, err = s.List(ctx, ListFilter{Status: string(models.SubscriptionStatusActive)})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 0 || len(rows) != 0 {
		t.Fatalf("expected no active subscriptions, got %d", total)
	}
}
