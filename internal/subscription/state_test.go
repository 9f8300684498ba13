package subscription

import (
	"errors"
	"testing"
	"time"

	"github.com/eldercircle/eldercircle-billing/internal/models"
	"github.com/eldercircle/eldercircle-billing/internal/plans"
)

func TestDecode_TrialExpiresAtEnd(t *testing.T) {
	end := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	rec := models.Subscription{Status: models.SubscriptionStatusTrial, TrialEndsAt: &end}

	state, err := Decode(rec, end.Add(-time.Second))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if state.Kind() != KindTrial {
		t.Fatalf("expected trial before end, got %s", state.Kind())
	}
	state, err = Decode(rec, end)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if state.Kind() != KindExpired {
		t.Fatalf("expected expired at end, got %s", state.Kind())
	}
}

func TestDecode_UnknownStatus(t *testing.T) {
	if _, err := Decode(models.Subscription{Status: "paused"}, time.Now()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	periodEnd := now.Add(10 * 24 * time.Hour)
	cases := []State{
		Trial{EndsAt: now.Add(time.Hour)},
		Active{},
		PendingDowngrade{Target: plans.TierFamily, EffectiveAt: periodEnd},
		Canceling{EffectiveAt: periodEnd},
		Expired{},
		Canceled{At: now},
	}
	for _, want := range cases {
		var rec models.Subscription
		Encode(&rec, want)
		got, err := Decode(rec, now)
		if err != nil {
			t.Fatalf("Decode %s: %v", want.Kind(), err)
		}
		if got != want {
			t.Fatalf("expected %#v, got %#v", want, got)
		}
	}
}

func TestEncode_ClearsStaleFields(t *testing.T) {
	pending := string(plans.TierFamily)
	rec := models.Subscription{
		Status:            models.SubscriptionStatusActive,
		PendingTier:       &pending,
		CancelAtPeriodEnd: true,
	}
	Encode(&rec, Canceled{At: time.Now()})
	if rec.PendingTier != nil || rec.CancelAtPeriodEnd {
		t.Fatalf("expected pending tier and cancel flag cleared, got %+v", rec)
	}
}

func TestApply_RejectsIllegalTransition(t *testing.T) {
	now := time.Now().UTC()
	var rec models.Subscription
	Encode(&rec, Canceled{At: now})

	err := Apply(&rec, now, PendingDowngrade{Target: plans.TierFamily})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if rec.Status != models.SubscriptionStatusCanceled || rec.PendingTier != nil {
		t.Fatalf("expected record untouched, got %+v", rec)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Kind
		want     bool
	}{
		{KindTrial, KindActive, true},
		{KindTrial, KindPendingDowngrade, false},
		{KindActive, KindPendingDowngrade, true},
		{KindPendingDowngrade, KindActive, true},
		{KindCanceling, KindPendingDowngrade, false},
		{KindCanceled, KindCanceling, false},
		{KindExpired, KindActive, true},
		{KindExpired, KindTrial, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}
