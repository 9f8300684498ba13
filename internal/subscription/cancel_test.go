package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eldercircle/eldercircle-billing/internal/billing"
	"github.com/eldercircle/eldercircle-billing/internal/models"
	"github.com/eldercircle/eldercircle-billing/internal/plans"
)

func TestDaysSince(t *testing.T) {
	start := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		now  time.Time
		want int
	}{
		{start.Add(-time.Hour), 0},
		{start, 0},
		{start.Add(23 * time.Hour), 0},
		{start.Add(7 * 24 * time.Hour), 7},
		{start.Add(8*24*time.Hour - time.Second), 7},
		{start.Add(8 * 24 * time.Hour), 8},
	}
	for _, tc := range cases {
		if got := DaysSince(start, tc.now); got != tc.want {
			t.Fatalf("DaysSince(%s): expected %d, got %d", tc.now, tc.want, got)
		}
	}
}

func TestCancel_WithinRefundWindowIsImmediate(t *testing.T) {
	env := newTestEnv(t)
	env.seedPaid(t, "acct-1", plans.TierSingleAgency, 7)

	result, err := env.service.Cancel(context.Background(), "acct-1", "moving to another agency")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if result.Mode != CancelImmediate || !result.Refunded {
		t.Fatalf("expected immediate refunded cancellation, got %+v", result)
	}
	if result.RefundCents != 2999 || result.DaysSinceStart != 7 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if env.provider.CallCount("CancelNow") != 1 || env.provider.CallCount("RefundLatestCharge") != 1 {
		t.Fatalf("expected cancel and refund calls, got %v", env.provider.Calls)
	}

	rec := env.record(t, "acct-1")
	if rec.Status != models.SubscriptionStatusCanceled || rec.CanceledAt == nil {
		t.Fatalf("expected canceled record, got %+v", rec)
	}
	if rec.CancelReason != "moving to another agency" {
		t.Fatalf("expected reason stored, got %q", rec.CancelReason)
	}
}

func TestCancel_AfterRefundWindowEndsAtPeriodEnd(t *testing.T) {
	env := newTestEnv(t)
	env.seedPaid(t, "acct-1", plans.TierSingleAgency, 8)

	result, err := env.service.Cancel(context.Background(), "acct-1", "")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if result.Mode != CancelAtPeriodEnd || result.Refunded {
		t.Fatalf("expected period-end cancellation without refund, got %+v", result)
	}
	if !result.EffectiveAt.Equal(env.provider.PeriodEnd) {
		t.Fatalf("expected effective at %s, got %s", env.provider.PeriodEnd, result.EffectiveAt)
	}
	if env.provider.CallCount("RefundLatestCharge") != 0 || env.provider.CallCount("CancelNow") != 0 {
		t.Fatalf("expected no refund or immediate cancel, got %v", env.provider.Calls)
	}

	rec := env.record(t, "acct-1")
	if rec.Status != models.SubscriptionStatusActive || !rec.CancelAtPeriodEnd {
		t.Fatalf("expected active record canceling at period end, got %+v", rec)
	}

	again, err := env.service.Cancel(context.Background(), "acct-1", "")
	if err != nil {
		t.Fatalf("Cancel (again): %v", err)
	}
	if again.Mode != CancelAlreadyScheduled {
		t.Fatalf("expected already_scheduled, got %s", again.Mode)
	}
	if env.provider.CallCount("CancelAtPeriodEnd") != 1 {
		t.Fatalf("expected a single provider cancellation, got %v", env.provider.Calls)
	}
}

func TestCancel_ClearsPendingDowngrade(t *testing.T) {
	env := newTestEnv(t)
	env.seedPaid(t, "acct-1", plans.TierMultiAgency, 30)
	if _, err := env.service.ChangePlan(context.Background(), "acct-1", plans.TierFamily); err != nil {
		t.Fatalf("ChangePlan: %v", err)
	}
	if _, err := env.service.Cancel(context.Background(), "acct-1", ""); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	rec := env.record(t, "acct-1")
	if rec.PendingTier != nil || !rec.CancelAtPeriodEnd {
		t.Fatalf("expected pending change replaced by cancellation, got %+v", rec)
	}
	if env.provider.CallCount("ReleaseScheduledChange") != 1 {
		t.Fatalf("expected the scheduled downgrade to be released, got %v", env.provider.Calls)
	}
	if _, ok := env.provider.Scheduled["sub_acct-1"]; ok {
		t.Fatalf("expected no scheduled change left at the provider, got %v", env.provider.Scheduled)
	}
}

func TestCancel_NoRefundableCharge(t *testing.T) {
	env := newTestEnv(t)
	env.seedPaid(t, "acct-1", plans.TierFamily, 1)
	env.provider.RefundErr = billing.ErrNoRefundableCharge

	result, err := env.service.Cancel(context.Background(), "acct-1", "")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if result.Mode != CancelImmediate || result.Refunded || result.RefundFailed {
		t.Fatalf("expected immediate cancellation without refund, got %+v", result)
	}
}

func TestCancel_RefundFailureStillCancels(t *testing.T) {
	env := newTestEnv(t)
	env.seedPaid(t, "acct-1", plans.TierFamily, 2)
	env.provider.RefundErr = errors.New("card_declined")

	result, err := env.service.Cancel(context.Background(), "acct-1", "")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !result.RefundFailed || result.Refunded {
		t.Fatalf("expected refund failure to be reported, got %+v", result)
	}
	if rec := env.record(t, "acct-1"); rec.Status != models.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled record, got %s", rec.Status)
	}

	var events []models.BillingEvent
	if errFind := env.conn.Where("account_id = ? AND action = ?", "acct-1", "cancel").Find(&events).Error; errFind != nil {
		t.Fatalf("load events: %v", errFind)
	}
	if len(events) != 1 || events[0].Result != "failure" {
		t.Fatalf("expected one failed cancel event, got %+v", events)
	}
}

func TestCancel_ProviderFailureLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.seedPaid(t, "acct-1", plans.TierFamily, 2)
	env.provider.CancelNowErr = errors.New("503")
	before := env.record(t, "acct-1")

	_, err := env.service.Cancel(context.Background(), "acct-1", "")
	if !errors.Is(err, ErrBillingUnavailable) {
		t.Fatalf("expected ErrBillingUnavailable, got %v", err)
	}
	after := env.record(t, "acct-1")
	if after.Version != before.Version || after.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected unchanged record, got %+v", after)
	}
	if env.provider.CallCount("RefundLatestCharge") != 0 {
		t.Fatalf("expected no refund after failed cancellation")
	}
}

func TestCancel_TrialAndTerminalStates(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrial(t, "acct-trial", plans.TierFamily)

	result, err := env.service.Cancel(context.Background(), "acct-trial", "")
	if err != nil {
		t.Fatalf("Cancel trial: %v", err)
	}
	if result.Mode != CancelTrial || env.provider.TotalCalls() != 0 {
		t.Fatalf("expected local trial cancellation, got %+v calls=%v", result, env.provider.Calls)
	}

	if _, errAgain := env.service.Cancel(context.Background(), "acct-trial", ""); !errors.Is(errAgain, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for canceled account, got %v", errAgain)
	}
}

func TestResume(t *testing.T) {
	env := newTestEnv(t)
	env.seedPaid(t, "acct-1", plans.TierFamily, 30)

	resumed, err := env.service.Resume(context.Background(), "acct-1")
	if err != nil || resumed {
		t.Fatalf("expected no-op resume on active subscription, got resumed=%v err=%v", resumed, err)
	}

	if _, errCancel := env.service.Cancel(context.Background(), "acct-1", "too expensive"); errCancel != nil {
		t.Fatalf("Cancel: %v", errCancel)
	}
	resumed, err = env.service.Resume(context.Background(), "acct-1")
	if err != nil || !resumed {
		t.Fatalf("expected resume, got resumed=%v err=%v", resumed, err)
	}
	rec := env.record(t, "acct-1")
	if rec.CancelAtPeriodEnd || rec.CancelReason != "" {
		t.Fatalf("expected cancellation withdrawn, got %+v", rec)
	}
	if env.provider.CallCount("ResumeSubscription") != 1 {
		t.Fatalf("expected one provider resume, got %v", env.provider.Calls)
	}
}
