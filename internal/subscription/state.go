package subscription

import (
	"fmt"
	"time"

	"github.com/eldercircle/eldercircle-billing/internal/models"
	"github.com/eldercircle/eldercircle-billing/internal/plans"
)

// Kind names a subscription lifecycle state.
type Kind string

// Kind constants.
const (
	KindTrial            Kind = "trial"
	KindActive           Kind = "active"
	KindPendingDowngrade Kind = "pending_downgrade"
	KindCanceling        Kind = "canceling"
	KindExpired          Kind = "expired"
	KindCanceled         Kind = "canceled"
)

// State is one of Trial, Active, PendingDowngrade, Canceling, Expired or
// Canceled. The flat columns of models.Subscription are only written by Encode,
// so combinations such as a pending change on a canceled subscription cannot
// be stored.
type State interface {
	Kind() Kind
	sealed()
}

// Trial is a signup trial without a billing subscription.
type Trial struct {
	EndsAt time.Time
}

// Active is a paid subscription with nothing scheduled.
type Active struct{}

// PendingDowngrade is a paid subscription with a tier change scheduled for
// the end of the current period.
type PendingDowngrade struct {
	Target      plans.Tier
	EffectiveAt time.Time
}

// Canceling is a paid subscription that ends with the current period.
type Canceling struct {
	EffectiveAt time.Time
}

// Expired is a lapsed trial.
type Expired struct{}

// Canceled is a terminated subscription.
type Canceled struct {
	At time.Time
}

func (Trial) Kind() Kind            { return KindTrial }
func (Active) Kind() Kind           { return KindActive }
func (PendingDowngrade) Kind() Kind { return KindPendingDowngrade }
func (Canceling) Kind() Kind        { return KindCanceling }
func (Expired) Kind() Kind          { return KindExpired }
func (Canceled) Kind() Kind         { return KindCanceled }

func (Trial) sealed()            {}
func (Active) sealed()           {}
func (PendingDowngrade) sealed() {}
func (Canceling) sealed()        {}
func (Expired) sealed()          {}
func (Canceled) sealed()         {}

// Decode reads the state of rec at now. Trials whose end has passed decode
// as Expired.
func Decode(rec models.Subscription, now time.Time) (State, error) {
	switch rec.Status {
	case models.SubscriptionStatusTrial:
		if rec.TrialEndsAt == nil {
			return Trial{}, nil
		}
		if !now.Before(*rec.TrialEndsAt) {
			return Expired{}, nil
		}
		return Trial{EndsAt: rec.TrialEndsAt.UTC()}, nil
	case models.SubscriptionStatusActive:
		periodEnd := timeValue(rec.CurrentPeriodEnd)
		if rec.CancelAtPeriodEnd {
			return Canceling{EffectiveAt: periodEnd}, nil
		}
		if rec.PendingTier != nil && *rec.PendingTier != "" {
			return PendingDowngrade{Target: plans.Tier(*rec.PendingTier), EffectiveAt: periodEnd}, nil
		}
		return Active{}, nil
	case models.SubscriptionStatusExpired:
		return Expired{}, nil
	case models.SubscriptionStatusCanceled:
		return Canceled{At: timeValue(rec.CanceledAt)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown stored status %q", ErrInvalidState, rec.Status)
	}
}

// Encode writes state into the flat columns of rec.
func Encode(rec *models.Subscription, state State) {
	rec.CancelAtPeriodEnd = false
	rec.PendingTier = nil

	switch s := state.(type) {
	case Trial:
		rec.Status = models.SubscriptionStatusTrial
		rec.TrialEndsAt = timePtr(s.EndsAt)
		rec.CanceledAt = nil
	case Active:
		rec.Status = models.SubscriptionStatusActive
		rec.TrialEndsAt = nil
		rec.CanceledAt = nil
	case PendingDowngrade:
		rec.Status = models.SubscriptionStatusActive
		rec.TrialEndsAt = nil
		rec.CanceledAt = nil
		target := string(s.Target)
		rec.PendingTier = &target
		if !s.EffectiveAt.IsZero() {
			rec.CurrentPeriodEnd = timePtr(s.EffectiveAt)
		}
	case Canceling:
		rec.Status = models.SubscriptionStatusActive
		rec.TrialEndsAt = nil
		rec.CanceledAt = nil
		rec.CancelAtPeriodEnd = true
		if !s.EffectiveAt.IsZero() {
			rec.CurrentPeriodEnd = timePtr(s.EffectiveAt)
		}
	case Expired:
		rec.Status = models.SubscriptionStatusExpired
	case Canceled:
		rec.Status = models.SubscriptionStatusCanceled
		rec.CanceledAt = timePtr(s.At)
	}
}

// Apply moves rec to next when the transition from its current state is
// allowed.
func Apply(rec *models.Subscription, now time.Time, next State) error {
	current, err := Decode(*rec, now)
	if err != nil {
		return err
	}
	if !CanTransition(current.Kind(), next.Kind()) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Kind(), next.Kind())
	}
	Encode(rec, next)
	return nil
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
