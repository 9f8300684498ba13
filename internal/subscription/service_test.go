package subscription

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/eldercircle/eldercircle-billing/internal/models"
	"github.com/eldercircle/eldercircle-billing/internal/plans"
	"github.com/eldercircle/eldercircle-billing/internal/store"
)

func TestSignup_StartsTrial(t *testing.T) {
	env := newTestEnv(t)

	view, err := env.service.Signup(context.Background(), SignupRequest{AccountID: " acct-1 ", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if view.State != KindTrial || view.Tier != plans.TierFamily {
		t.Fatalf("expected family trial, got %+v", view)
	}
	wantEnd := env.now.AddDate(0, 0, 14)
	if view.TrialEndsAt == nil || !view.TrialEndsAt.Equal(wantEnd) {
		t.Fatalf("expected trial end %s, got %v", wantEnd, view.TrialEndsAt)
	}

	_, err = env.service.Signup(context.Background(), SignupRequest{AccountID: "acct-1"})
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, errEmpty := env.service.Signup(context.Background(), SignupRequest{}); Code(errEmpty) != CodeInvalidRequest {
		t.Fatalf("expected invalid_request, got %v", errEmpty)
	}
}

func TestGet_ExpiresTrialLazily(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrial(t, "acct-1", plans.TierFamily)

	view, err := env.service.Get(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if view.State != KindTrial {
		t.Fatalf("expected trial, got %s", view.State)
	}

	env.now = env.now.AddDate(0, 0, 15)
	view, err = env.service.Get(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if view.State != KindExpired || view.Status != string(models.SubscriptionStatusExpired) {
		t.Fatalf("expected expired view, got %+v", view)
	}
	if rec := env.record(t, "acct-1"); rec.Status != models.SubscriptionStatusExpired {
		t.Fatalf("expected expired status persisted, got %s", rec.Status)
	}
}

func TestCheckout(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrial(t, "acct-1", plans.TierFamily)

	url, err := env.service.Checkout(context.Background(), "acct-1", plans.TierSingleAgency)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if url == "" {
		t.Fatalf("expected checkout url")
	}
	if len(env.provider.Checkouts) != 1 {
		t.Fatalf("expected one checkout, got %d", len(env.provider.Checkouts))
	}
	req := env.provider.Checkouts[0]
	if req.PriceID != "price_single" || req.AccountID != "acct-1" || req.Email != "acct-1@example.com" {
		t.Fatalf("unexpected checkout request: %+v", req)
	}

	env.seedPaid(t, "acct-2", plans.TierFamily, 3)
	if _, errPaid := env.service.Checkout(context.Background(), "acct-2", plans.TierFamily); !errors.Is(errPaid, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for paid account, got %v", errPaid)
	}

	env.provider.CheckoutErr = errors.New("stripe down")
	if _, errDown := env.service.Checkout(context.Background(), "acct-1", plans.TierFamily); Code(errDown) != CodeBillingUnavailable {
		t.Fatalf("expected billing_unavailable, got %v", errDown)
	}
}

func TestPortal(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrial(t, "acct-trial", plans.TierFamily)
	if _, err := env.service.Portal(context.Background(), "acct-trial"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState without customer, got %v", err)
	}

	env.seedPaid(t, "acct-1", plans.TierFamily, 3)
	url, err := env.service.Portal(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("Portal: %v", err)
	}
	if url != "https://portal.mock/cus_acct-1" {
		t.Fatalf("unexpected portal url %q", url)
	}
}

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("wrap: %w", ErrBillingUnavailable), CodeBillingUnavailable},
		{plans.ErrMissingPriceID, CodeConfiguration},
		{ErrInvalidTransition, CodeInvalidState},
		{store.ErrConflict, CodeConflict},
		{store.ErrNotFound, CodeNotFound},
		{ErrLimitReached, CodeLimitReached},
		{errors.New("boom"), CodeInternal},
	}
	for _, tc := range cases {
		if got := Code(tc.err); got != tc.want {
			t.Fatalf("Code(%v): expected %q, got %q", tc.err, tc.want, got)
		}
	}
}

func TestResultMessages(t *testing.T) {
	effective := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	scheduled := ChangeResult{Outcome: OutcomeDowngradeScheduled, ToTier: plans.TierFamily, EffectiveAt: effective}
	if got := scheduled.Message(); got != "Change to Family scheduled for April 1, 2026." {
		t.Fatalf("unexpected message %q", got)
	}
	canceled := CancelResult{Mode: CancelImmediate, Refunded: true}
	if got := canceled.Message(); got != "Subscription canceled. A full refund has been issued." {
		t.Fatalf("unexpected message %q", got)
	}
}
